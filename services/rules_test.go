package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-collector/models"
)

func TestDefaultRuleSetLoads(t *testing.T) {
	rs, err := LoadRuleSet("")
	require.NoError(t, err)

	spec, ok := rs.Field(models.FieldExclusiveArea)
	require.True(t, ok)
	assert.Equal(t, KindArea, spec.Kind)
	require.NotNil(t, spec.Min)
	assert.Equal(t, 1.0, *spec.Min)
	assert.Equal(t, 10000.0, *spec.Max)

	rules := rs.RulesFor(models.FieldExclusiveArea)
	require.NotEmpty(t, rules)
	assert.Equal(t, "area_exclusive_supply_pair", rules[0].Name)
}

func TestLoadRuleSetOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fields:
  - name: deal_price
    kind: money
    aliases:
      - {section: price, key: 거래금액, unit: manwon}
rules:
  - name: price_words
    pattern: '가격\s*(\d+)\s*만'
    fields:
      deal_price: {group: 1, unit: manwon}
`), 0o644))

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)

	c := models.NewCompositeRawRecord(models.ListingRef{ArticleNo: "1"})
	c.SetPresent(models.SectionPrice, models.RawSection{"거래금액": "42000"})
	rec := NewNormalizer(rs).Normalize(c)
	assert.Equal(t, int64(420000000), rec.DealPrice.Value)
	assert.Equal(t, models.Unresolved, rec.ExclusiveArea.Tag(), "fields missing from the table stay unresolved")
}

func TestParseRuleSetRejectsBrokenTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", `fields: [{name: price, kind: money}]`},
		{"kind mismatch", `fields: [{name: deal_price, kind: area}]`},
		{"unknown section", `fields: [{name: deal_price, kind: money, aliases: [{section: prices, key: dealPrice}]}]`},
		{"bad pattern", `
fields: [{name: deal_price, kind: money}]
rules: [{name: broken, pattern: '(', fields: {deal_price: {group: 1}}}]`},
		{"group out of range", `
fields: [{name: deal_price, kind: money}]
rules: [{name: nogroup, pattern: 'abc', fields: {deal_price: {group: 1}}}]`},
		{"unknown exclusive facility", `
facilities: [{name: parking}]
exclusive: [[parking, no_parking]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
