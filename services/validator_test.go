package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-collector/models"
)

func validRecord() *models.CanonicalPropertyRecord {
	rec := &models.CanonicalPropertyRecord{
		ListingID:     "2412345678",
		ComplexID:     models.Structured("111515", "detail.articleDetail.complexNo"),
		TradeType:     models.Structured("매매", "detail.articleDetail.tradeTypeName"),
		DealPrice:     models.Structured(int64(530000000), "price.dealPrice"),
		ExclusiveArea: models.Structured(84.97, "space.exclusiveSpace"),
		SupplyArea:    models.Structured(112.4, "space.supplySpace"),
		Facilities:    map[string]bool{"parking": true, "no_parking": false},
	}
	rec.Location.Latitude = models.Structured(37.5, "detail.articleDetail.latitude")
	rec.Location.Longitude = models.Structured(127.0, "detail.articleDetail.longitude")
	return rec
}

func rulesOf(vs []models.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidateCleanRecord(t *testing.T) {
	vr := NewValidator(DefaultRuleSet()).Validate(validRecord())
	assert.Empty(t, vr.Violations)
	assert.False(t, vr.Fatal())
}

func TestValidateIdentifiers(t *testing.T) {
	v := NewValidator(DefaultRuleSet())

	rec := validRecord()
	rec.ListingID = ""
	vr := v.Validate(rec)
	require.True(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.Violations), RuleIdentifierRequired)

	rec = validRecord()
	rec.ListingID = "24-12"
	vr = v.Validate(rec)
	require.True(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.Violations), RuleIdentifierMalformed)

	rec = validRecord()
	rec.ComplexID = models.Structured("abc", "test")
	vr = v.Validate(rec)
	assert.False(t, vr.Fatal(), "malformed complex id is a warning")
	assert.True(t, vr.HasWarnings())
}

func TestValidatePrices(t *testing.T) {
	v := NewValidator(DefaultRuleSet())

	rec := validRecord()
	rec.Deposit = models.Structured(int64(-1), "price.warrantPrice")
	vr := v.Validate(rec)
	assert.True(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.BySeverity(models.SeverityFatal)), RulePriceNegative)

	rec = validRecord()
	rec.DealPrice = models.UnresolvedField[int64]()
	vr = v.Validate(rec)
	assert.False(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.BySeverity(models.SeverityWarning)), RulePriceUnresolved)

	rec = validRecord()
	rec.TradeType = models.Structured("월세", "test")
	rec.Deposit = models.Structured(int64(10000000), "test")
	vr = v.Validate(rec)
	warnings := vr.BySeverity(models.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.FieldMonthlyRent, warnings[0].Field)
}

func TestValidateAreas(t *testing.T) {
	v := NewValidator(DefaultRuleSet())

	rec := validRecord()
	rec.SupplyArea = models.Fallback(12000.0, "area_supply_m2")
	assert.True(t, v.Validate(rec).Fatal())

	rec = validRecord()
	rec.SupplyArea = models.UnresolvedField[float64]()
	vr := v.Validate(rec)
	assert.False(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.Violations), RuleAreaUnresolved)
}

func TestValidateFacilityConsistency(t *testing.T) {
	v := NewValidator(DefaultRuleSet())

	rec := validRecord()
	rec.Facilities["no_parking"] = true
	vr := v.Validate(rec)
	assert.True(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.Violations), RuleFacilityConflict)

	rec = validRecord()
	rec.Facilities = map[string]bool{"no_parking": true}
	rec.ParkingCount = models.Structured(int64(2), "detail.articleDetail.parkingCount")
	vr = v.Validate(rec)
	assert.True(t, vr.Fatal())
	assert.Contains(t, rulesOf(vr.Violations), RuleParkingConflict)
}

func TestValidateDiagnosticsBecomeWarnings(t *testing.T) {
	rec := validRecord()
	rec.Diagnostics = []models.Diagnostic{{Field: models.FieldExclusiveArea, Kind: models.DiagAmbiguity, Detail: "a=1, b=2"}}

	vr := NewValidator(DefaultRuleSet()).Validate(rec)
	assert.False(t, vr.Fatal())
	require.Len(t, vr.Violations, 1)
	assert.Equal(t, string(models.DiagAmbiguity), vr.Violations[0].Rule)
}

func TestValidationFailureMessage(t *testing.T) {
	err := &ValidationFailure{ListingID: "1", Violations: []models.Violation{
		{Field: "listing_id", Rule: RuleIdentifierMalformed, Severity: models.SeverityFatal},
		{Field: "deal_price", Rule: RulePriceUnresolved, Severity: models.SeverityWarning},
	}}
	assert.Equal(t, "listing 1 failed validation: listing_id:identifier_malformed", err.Error())
}
