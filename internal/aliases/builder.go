package aliases

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"policyreader/internal/schema"
	"policyreader/internal/util"
)

// domainSynonyms are the surface forms insurers commonly print, keyed by canonical id.
var domainSynonyms = map[string][]string{
	"policy_no":          {"PolicyNumber", "Policy Number", "Policy No."},
	"vehicle_no":         {"VehicleNumber", "Vehicle Registration No"},
	"chasis_no":          {"ChasisNo", "ChassisNo"},
	"engine_no":          {"EngineNo"},
	"policy_start_date":  {"PolicyStartDate", "Start Date"},
	"policy_expiry_date": {"PolicyExpiryDate", "Expiry Date", "End Date"},
	"sum_insured":        {"SumInsured"},
	"net_od_premium":     {"NetODPremium"},
	"tp_premium":         {"TPPremium"},
	"insured_1_name":     {"InsuredName", "Insured"},
	"ncb":                {"NCB Percentage"},
}

type Builder struct {
	source   schema.Source
	synonyms map[string][]string
	log      *slog.Logger
	now      func() time.Time
}

func NewBuilder(source schema.Source, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{source: source, synonyms: domainSynonyms, log: log, now: time.Now}
}

// WithSynonyms replaces the built-in synonym table.
func (b *Builder) WithSynonyms(table map[string][]string) *Builder {
	cp := *b
	cp.synonyms = table
	return &cp
}

// Build derives the alias map for category from the current schema. An unknown
// category or a failing source yields an empty map.
func (b *Builder) Build(category string) *Map {
	fields, err := b.source.FieldsOf(category)
	if err != nil {
		b.log.Warn("aliases.schema_unavailable", "category", category, "error", err)
		return NewMap(category, "", nil, b.now().UTC())
	}

	var entries []Entry
	owner := map[string]string{}
	register := func(alias, canonical string) {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			return
		}
		if prev, ok := owner[alias]; ok {
			if prev != canonical {
				b.log.Warn("aliases.ambiguous", "category", category, "alias", alias, "kept", prev, "ignored", canonical)
			}
			return
		}
		owner[alias] = canonical
		entries = append(entries, Entry{Alias: alias, Canonical: canonical})
	}

	for _, f := range fields {
		if !f.Extractable() {
			continue
		}
		label := strings.TrimSpace(f.Label)
		register(label, f.ID)
		register(stripSpaces(label), f.ID)
		register(strings.ToLower(label), f.ID)
		for _, s := range b.synonyms[f.ID] {
			register(s, f.ID)
		}
		for _, s := range f.Synonyms {
			register(s, f.ID)
		}
		register(f.ID, f.ID)
	}

	m := NewMap(category, util.Fingerprint(fields), entries, b.now().UTC())
	b.log.Debug("aliases.built", "category", category, "aliases", m.Len(), "fingerprint", m.Fingerprint)
	return m
}

// Fingerprint is the schema version Build would stamp on a map built now.
func (b *Builder) Fingerprint(category string) string {
	fields, err := b.source.FieldsOf(category)
	if err != nil {
		return ""
	}
	return util.Fingerprint(fields)
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
