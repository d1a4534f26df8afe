package schema

var motorFields = []Field{
	{Label: "Policy Details", ID: "policy_details_section", Type: TypeSectionBreak, LayoutOnly: true},
	{Label: "Policy No", ID: "policy_no", Type: TypeData, Section: "Policy", Synonyms: []string{"Policy Number", "PolicyNo", "Policy No.", "Policy #"}},
	{Label: "Policy Type", ID: "policy_type", Type: TypeSelect, Section: "Policy", Options: []string{"Comprehensive", "Third Party", "Own Damage"}},
	{Label: "New / Renew", ID: "new_renew", Type: TypeSelect, Section: "Policy", Options: []string{"New", "Renew", "Rollover"}},
	{Label: "Policy Issuance Date", ID: "policy_issuance_date", Type: TypeDate, Section: "Dates", Synonyms: []string{"Issue Date", "Date of Issue"}},
	{Label: "Policy Start Date", ID: "policy_start_date", Type: TypeDate, Section: "Dates", Synonyms: []string{"Period From", "Policy From", "Risk Start Date"}},
	{Label: "Policy Expiry Date", ID: "policy_expiry_date", Type: TypeDate, Section: "Dates", Synonyms: []string{"Period To", "Policy To", "Valid Till"}},
	{Label: "Customer Code", ID: "customer_code", Type: TypeData, Protected: true},
	{Label: "Vehicle Details", ID: "vehicle_section", Type: TypeSectionBreak, LayoutOnly: true},
	{Label: "Vehicle No", ID: "vehicle_no", Type: TypeData, Section: "Vehicle", Synonyms: []string{"Registration Number", "Registration No", "Vehicle Number", "Reg No"}},
	{Label: "Chasis No", ID: "chasis_no", Type: TypeData, Section: "Vehicle", Synonyms: []string{"Chassis Number", "Chassis No"}},
	{Label: "Engine No", ID: "engine_no", Type: TypeData, Section: "Vehicle", Synonyms: []string{"Engine Number", "Motor No"}},
	{Label: "Make", ID: "make", Type: TypeData, Section: "Vehicle", Synonyms: []string{"Manufacturer"}},
	{Label: "Model", ID: "model", Type: TypeData, Section: "Vehicle"},
	{Label: "Variant", ID: "variant", Type: TypeData, Section: "Vehicle"},
	{Label: "Fuel", ID: "fuel", Type: TypeSelect, Section: "Vehicle", Options: []string{"Petrol", "Diesel", "Electric", "CNG", "LPG", "Hybrid"}, Synonyms: []string{"Fuel Type"}},
	{Label: "CC", ID: "cc", Type: TypeInt, Section: "Vehicle", Synonyms: []string{"Cubic Capacity", "Engine Capacity"}},
	{Label: "Year of Manufacture", ID: "year_of_man", Type: TypeInt, Section: "Vehicle", Synonyms: []string{"Mfg Year", "Manufacturing Year"}},
	{Label: "Registration Date", ID: "registration_date", Type: TypeDate, Section: "Dates"},
	{Label: "RTO Code", ID: "rto_code", Type: TypeData, Section: "Vehicle", Synonyms: []string{"RTO"}},
	{Label: "Vehicle Category", ID: "vehicle_category", Type: TypeData, Section: "Vehicle", Synonyms: []string{"Vehicle Class"}},
	{Label: "Passenger / GVW", ID: "passenger_gvw", Type: TypeData, Section: "Vehicle", Synonyms: []string{"Seating Capacity", "GVW"}},
	{Label: "Premium Details", ID: "premium_section", Type: TypeSectionBreak, LayoutOnly: true},
	{Label: "Sum Insured", ID: "sum_insured", Type: TypeCurrency, Section: "Coverage", Synonyms: []string{"IDV", "Insured Declared Value", "Total IDV"}},
	{Label: "Zero Depreciation", ID: "zero_dep", Type: TypeCheck, Section: "Coverage", Synonyms: []string{"Nil Depreciation", "Zero Dep"}},
	{Label: "Net OD Premium", ID: "net_od_premium", Type: TypeCurrency, Section: "Financial", Synonyms: []string{"Own Damage Premium", "OD Premium"}},
	{Label: "TP Premium", ID: "tp_premium", Type: TypeCurrency, Section: "Financial", Synonyms: []string{"Third Party Premium", "Liability Premium"}},
	{Label: "GST", ID: "gst", Type: TypeCurrency, Section: "Financial", Synonyms: []string{"Tax Amount", "IGST"}},
	{Label: "Stamp Duty", ID: "stamp_duty", Type: TypeCurrency, Section: "Financial"},
	{Label: "NCB", ID: "ncb", Type: TypeFloat, Section: "Financial", Synonyms: []string{"No Claim Bonus", "NCB %"}},
	{Label: "SAIBA Control Number", ID: "saiba_control_number", Type: TypeData, Protected: true},
	{Label: "Created From Document", ID: "policy_document", Type: TypeData, ReadOnly: true},
}

var healthFields = []Field{
	{Label: "Policy Details", ID: "policy_details_section", Type: TypeSectionBreak, LayoutOnly: true},
	{Label: "Policy No", ID: "policy_no", Type: TypeData, Section: "Policy", Synonyms: []string{"Policy Number", "PolicyNo", "Policy No.", "Certificate No"}},
	{Label: "Policy Type", ID: "policy_type", Type: TypeSelect, Section: "Policy", Options: []string{"Individual", "Family Floater", "Group"}},
	{Label: "Plan Name", ID: "plan_name", Type: TypeData, Section: "Policy", Synonyms: []string{"Product Name", "Plan"}},
	{Label: "Is Renewable", ID: "is_renewable", Type: TypeSelect, Section: "Policy", Options: []string{"Yes", "No"}},
	{Label: "Old Control Number", ID: "old_control_number", Type: TypeData, Section: "Policy", Synonyms: []string{"Previous Policy No"}},
	{Label: "Policy Issuance Date", ID: "policy_issuance_date", Type: TypeDate, Section: "Dates", Synonyms: []string{"Issue Date"}},
	{Label: "Policy Start Date", ID: "policy_start_date", Type: TypeDate, Section: "Dates", Synonyms: []string{"Period From", "Coverage Start Date"}},
	{Label: "Policy Expiry Date", ID: "policy_expiry_date", Type: TypeDate, Section: "Dates", Synonyms: []string{"Period To", "Coverage End Date"}},
	{Label: "Insured Details", ID: "insured_section", Type: TypeSectionBreak, LayoutOnly: true},
	{Label: "Customer Title", ID: "customer_title", Type: TypeSelect, Section: "Insured", Options: []string{"Mr.", "Mrs.", "Ms.", "Dr."}, Synonyms: []string{"Salutation"}},
	{Label: "Insured Name", ID: "insured_1_name", Type: TypeData, Section: "Insured", Synonyms: []string{"Name of Insured", "Proposer Name", "Policyholder Name"}},
	{Label: "Insured Gender", ID: "insured_1_gender", Type: TypeSelect, Section: "Insured", Options: []string{"Male", "Female", "Other"}, Synonyms: []string{"Gender"}},
	{Label: "Insured Relation", ID: "insured_1_relation", Type: TypeData, Section: "Insured", Synonyms: []string{"Relationship", "Relation with Proposer"}},
	{Label: "Insured Date of Birth", ID: "insured_1_dob", Type: TypeDate, Section: "Insured", Synonyms: []string{"Date of Birth", "DOB"}},
	{Label: "Coverage", ID: "coverage_section", Type: TypeSectionBreak, LayoutOnly: true},
	{Label: "Sum Insured", ID: "sum_insured", Type: TypeCurrency, Section: "Coverage", Synonyms: []string{"Sum Assured", "Cover Amount"}},
	{Label: "Pre-existing Disease Cover", ID: "ped_cover", Type: TypeCheck, Section: "Coverage", Synonyms: []string{"PED Cover"}},
	{Label: "Net Premium", ID: "net_premium", Type: TypeCurrency, Section: "Financial", Synonyms: []string{"Premium", "Base Premium"}},
	{Label: "GST", ID: "gst", Type: TypeCurrency, Section: "Financial", Synonyms: []string{"Tax Amount"}},
	{Label: "Payment Mode", ID: "payment_mode", Type: TypeSelect, Section: "Financial", Options: []string{"Cheque", "Online", "Cash", "Card"}},
	{Label: "Bank Name", ID: "bank_name", Type: TypeData, Section: "Financial"},
	{Label: "Payment Transaction No", ID: "payment_transaction_no", Type: TypeData, Section: "Financial", Synonyms: []string{"Transaction ID", "Receipt No"}},
	{Label: "Customer Code", ID: "customer_code", Type: TypeData, Protected: true},
	{Label: "RM/CE1 Code", ID: "rm_ce1_code", Type: TypeData, Protected: true},
	{Label: "Created From Document", ID: "policy_document", Type: TypeData, ReadOnly: true},
}
