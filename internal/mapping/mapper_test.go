package mapping

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"policyreader/internal/aliases"
	"policyreader/internal/parser"
	"policyreader/internal/schema"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleMap() *aliases.Map {
	return aliases.NewMap("Sample", "fp", []aliases.Entry{
		{Alias: "Policy No", Canonical: "policy_number"},
		{Alias: "PolicyNo", Canonical: "policy_number"},
		{Alias: "policy_number", Canonical: "policy_number"},
		{Alias: "Premium", Canonical: "premium"},
		{Alias: "premium", Canonical: "premium"},
		{Alias: "Net Premium", Canonical: "net_premium"},
		{Alias: "Customer Code", Canonical: "customer_code"},
		{Alias: "NO", Canonical: "number_of_occupants"},
		{Alias: "Start", Canonical: "start_a"},
		{Alias: "Begin", Canonical: "start_b"},
	}, time.Time{})
}

func TestMapTiers(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{
		"Policy No":              "ABC123",
		"PREMIUM":                "100",
		"net  premium":           "90",
		"Vehicle Start Date":     "01/01/2025",
		"Something Unrelated Xy": "q",
	}, sampleMap(), nil)

	require.Equal(t, "ABC123", res.Fields["policy_number"])
	require.Equal(t, "100", res.Fields["premium"])
	require.Equal(t, "90", res.Fields["net_premium"])
	require.Equal(t, "01/01/2025", res.Fields["start_a"])
	require.Equal(t, []string{"Something Unrelated Xy"}, res.Unmapped)

	tiers := map[string]Tier{}
	for _, m := range res.Matches {
		tiers[m.Key] = m.Tier
	}
	require.Equal(t, TierExact, tiers["Policy No"])
	require.Equal(t, TierCaseInsensitive, tiers["PREMIUM"])
	require.Equal(t, TierWhitespaceInsensitive, tiers["net  premium"])
	require.Equal(t, TierPartial, tiers["Vehicle Start Date"])
}

func TestMapPartialPrefersLongestAlias(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{"Total Net Premium Payable": "500"}, sampleMap(), nil)
	require.Equal(t, map[string]any{"net_premium": "500"}, res.Fields)
}

func TestMapPartialTieFirstRegistered(t *testing.T) {
	m := aliases.NewMap("Sample", "fp", []aliases.Entry{
		{Alias: "Start", Canonical: "start_a"},
		{Alias: "Begin", Canonical: "start_b"},
	}, time.Time{})
	res := NewMapper(quiet).Map(map[string]any{"Begin / Start": "x"}, m, nil)
	require.Equal(t, map[string]any{"start_a": "x"}, res.Fields)
}

func TestMapShortAliasesNeverPartialMatch(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{"Engine NO.": "E1"}, sampleMap(), nil)
	require.NotContains(t, res.Fields, "number_of_occupants")
}

func TestMapStrongerTierWinsConflict(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{
		"POLICY NO": "weak",
		"Policy No": "strong",
	}, sampleMap(), nil)
	require.Equal(t, "strong", res.Fields["policy_number"])
	require.Equal(t, []string{"POLICY NO"}, res.Unmapped)
}

func TestMapSameTierFirstKeyWins(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{
		"PolicyNo":  "b",
		"Policy No": "a",
	}, sampleMap(), nil)
	require.Equal(t, "a", res.Fields["policy_number"])
	require.Equal(t, []string{"PolicyNo"}, res.Unmapped)
}

func TestMapSkipsBlankValues(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{"Policy No": "  ", "Premium": nil}, sampleMap(), nil)
	require.Empty(t, res.Fields)
	require.Empty(t, res.Unmapped)
}

func TestMapDropsProtected(t *testing.T) {
	protected := map[string]bool{"customer_code": true, "premium": true}
	res := NewMapper(quiet).Map(map[string]any{
		"Customer Code":      "C-1",
		"customer code":      "C-2",
		"Customer Code (ID)": "C-3",
		"Premium":            "100",
		"Policy No":          "P",
	}, sampleMap(), protected)

	require.Equal(t, map[string]any{"policy_number": "P"}, res.Fields)
	require.ElementsMatch(t, []string{"Customer Code", "customer code", "Customer Code (ID)", "Premium"}, res.Dropped)
}

func TestProtectedNeverMappedFromAnyInput(t *testing.T) {
	reg := schema.NewRegistry()
	mapper := NewMapper(quiet)
	for _, cat := range reg.Categories() {
		fields, err := reg.FieldsOf(cat)
		require.NoError(t, err)
		protected := schema.ProtectedIDs(fields)
		m := aliases.NewBuilder(reg, quiet).Build(cat)

		flat := map[string]any{}
		for _, f := range fields {
			flat[f.Label] = "x"
			flat[f.ID] = "y"
			flat[f.Label+" value"] = "z"
		}
		res := mapper.Map(flat, m, protected)
		for id := range protected {
			require.NotContains(t, res.Fields, id, "%s: %s", cat, id)
		}
	}
}

func TestAliasRoundTripThroughExactMatch(t *testing.T) {
	reg := schema.NewRegistry()
	mapper := NewMapper(quiet)
	for _, cat := range reg.Categories() {
		m := aliases.NewBuilder(reg, quiet).Build(cat)
		for _, e := range m.Entries {
			res := mapper.Map(map[string]any{e.Alias: "v"}, m, nil)
			require.Len(t, res.Matches, 1, e.Alias)
			require.Equal(t, e.Canonical, res.Matches[0].Canonical, e.Alias)
			require.Equal(t, TierExact, res.Matches[0].Tier, e.Alias)
		}
	}
}

func TestMapIsIdempotent(t *testing.T) {
	raw := "```json\n{\"Policy No\":\"X1\",\"PREMIUM\":\"12,345\",\"Premium Amount\":\"1\",\"Unknown Thing\":\"u\",\"Policy Numbr\":\"z\"}\n```"
	m := sampleMap()
	mapper := NewMapper(quiet)
	first := mapper.Map(parser.Extract(raw).Fields, m, nil)
	second := mapper.Map(parser.Extract(raw).Fields, m, nil)
	require.Equal(t, first, second)
}

func TestSuggestions(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{"Polcy Nmbr": "x"}, sampleMap(), nil)
	require.Equal(t, []string{"Polcy Nmbr"}, res.Unmapped)
	require.Contains(t, res.Suggestions["Polcy Nmbr"], "policy_number")
	require.LessOrEqual(t, len(res.Suggestions["Polcy Nmbr"]), 3)
}

func TestMapNilAliasMap(t *testing.T) {
	res := NewMapper(quiet).Map(map[string]any{"Policy No": "x"}, nil, nil)
	require.Empty(t, res.Fields)
	require.Equal(t, []string{"Policy No"}, res.Unmapped)
}
