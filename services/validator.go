package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"land-collector/models"
)

// Violation rule names.
const (
	RuleIdentifierRequired  = "identifier_required"
	RuleIdentifierMalformed = "identifier_malformed"
	RulePriceNegative       = "price_negative"
	RulePriceUnresolved     = "price_unresolved"
	RuleAreaOutOfRange      = "area_out_of_range"
	RuleAreaUnresolved      = "area_unresolved"
	RuleCoordinateRange     = "coordinate_out_of_range"
	RuleCoordinateMissing   = "coordinate_unresolved"
	RuleFacilityConflict    = "facility_conflict"
	RuleParkingConflict     = "parking_conflict"
	RuleFloorAboveTotal     = "floor_above_total"
)

// ValidationFailure is returned for a record with at least one fatal
// violation. It carries the full violation list.
type ValidationFailure struct {
	ListingID  string
	Violations []models.Violation
}

func (e *ValidationFailure) Error() string {
	rules := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Severity == models.SeverityFatal {
			rules = append(rules, v.Field+":"+v.Rule)
		}
	}
	return fmt.Sprintf("listing %s failed validation: %s", e.ListingID, strings.Join(rules, ", "))
}

type identifiers struct {
	ListingID string `validate:"required,numeric"`
	ComplexID string `validate:"omitempty,numeric"`
}

// Validator checks canonical records before persistence.
type Validator struct {
	validate  *validator.Validate
	areaMin   float64
	areaMax   float64
	exclusive [][2]string
}

// NewValidator takes the area envelope and exclusive facility pairs from
// the rule table.
func NewValidator(rules *RuleSet) *Validator {
	v := &Validator{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		areaMin:   1,
		areaMax:   10000,
		exclusive: rules.Exclusive,
	}
	if spec, ok := rules.Field(models.FieldExclusiveArea); ok {
		if spec.Min != nil {
			v.areaMin = *spec.Min
		}
		if spec.Max != nil {
			v.areaMax = *spec.Max
		}
	}
	return v
}

// Validate returns every violation found. Callers decide what to persist:
// any fatal violation rejects the record.
func (v *Validator) Validate(rec *models.CanonicalPropertyRecord) models.ValidationResult {
	var out []models.Violation

	out = append(out, v.identifiers(rec)...)
	out = append(out, prices(rec)...)
	out = append(out, v.areas(rec)...)
	out = append(out, coordinates(rec)...)
	out = append(out, v.facilities(rec)...)

	cur, total := rec.CurrentFloor, rec.TotalFloors
	if cur.Resolved() && total.Resolved() && cur.Value > total.Value {
		out = append(out, warning(models.FieldCurrentFloor, RuleFloorAboveTotal,
			fmt.Sprintf("floor %d above total %d", cur.Value, total.Value)))
	}

	for _, d := range rec.Diagnostics {
		out = append(out, warning(d.Field, string(d.Kind), d.Detail))
	}

	return models.ValidationResult{Violations: out}
}

func (v *Validator) identifiers(rec *models.CanonicalPropertyRecord) []models.Violation {
	ids := identifiers{ListingID: rec.ListingID}
	if rec.ComplexID.Resolved() {
		ids.ComplexID = rec.ComplexID.Value
	}

	err := v.validate.Struct(ids)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}

	var out []models.Violation
	for _, fe := range fieldErrs {
		switch fe.StructField() {
		case "ListingID":
			rule := RuleIdentifierMalformed
			if fe.Tag() == "required" {
				rule = RuleIdentifierRequired
			}
			out = append(out, fatal(models.FieldListingID, rule, fmt.Sprintf("%q fails %s", rec.ListingID, fe.Tag())))
		case "ComplexID":
			out = append(out, warning(models.FieldComplexID, RuleIdentifierMalformed, fmt.Sprintf("%q fails %s", ids.ComplexID, fe.Tag())))
		}
	}
	return out
}

// prices flags negatives on every money field and unresolved prices the
// trade type calls for.
func prices(rec *models.CanonicalPropertyRecord) []models.Violation {
	var out []models.Violation
	for _, f := range rec.MoneyFields() {
		if f.Field.Resolved() && f.Field.Value < 0 {
			out = append(out, fatal(f.Name, RulePriceNegative, fmt.Sprintf("%d", f.Field.Value)))
		}
	}

	expected := expectedPrices(rec)
	if expected == nil {
		if !rec.DealPrice.Resolved() && !rec.Deposit.Resolved() && !rec.MonthlyRent.Resolved() {
			out = append(out, warning(models.FieldDealPrice, RulePriceUnresolved, "no price field resolved"))
		}
		return out
	}
	for _, f := range expected {
		if !f.Field.Resolved() {
			out = append(out, warning(f.Name, RulePriceUnresolved, "trade type "+rec.TradeType.Value))
		}
	}
	return out
}

// expectedPrices maps a trade type to the price fields it requires; nil
// when the trade type is unknown.
func expectedPrices(rec *models.CanonicalPropertyRecord) []models.FieldRef[int64] {
	if !rec.TradeType.Resolved() {
		return nil
	}
	switch t := rec.TradeType.Value; {
	case strings.Contains(t, "매매"), strings.EqualFold(t, "A1"):
		return []models.FieldRef[int64]{{Name: models.FieldDealPrice, Field: &rec.DealPrice}}
	case strings.Contains(t, "전세"), strings.EqualFold(t, "B1"):
		return []models.FieldRef[int64]{{Name: models.FieldDeposit, Field: &rec.Deposit}}
	case strings.Contains(t, "월세"), strings.EqualFold(t, "B2"):
		return []models.FieldRef[int64]{
			{Name: models.FieldDeposit, Field: &rec.Deposit},
			{Name: models.FieldMonthlyRent, Field: &rec.MonthlyRent},
		}
	}
	return nil
}

func (v *Validator) areas(rec *models.CanonicalPropertyRecord) []models.Violation {
	var out []models.Violation
	for _, f := range []models.FieldRef[float64]{
		{Name: models.FieldExclusiveArea, Field: &rec.ExclusiveArea},
		{Name: models.FieldSupplyArea, Field: &rec.SupplyArea},
	} {
		switch {
		case !f.Field.Resolved():
			out = append(out, warning(f.Name, RuleAreaUnresolved, "no structured or text value"))
		case f.Field.Value < v.areaMin || f.Field.Value > v.areaMax:
			out = append(out, fatal(f.Name, RuleAreaOutOfRange,
				fmt.Sprintf("%g outside [%g, %g]", f.Field.Value, v.areaMin, v.areaMax)))
		}
	}
	return out
}

func coordinates(rec *models.CanonicalPropertyRecord) []models.Violation {
	var out []models.Violation
	for _, c := range []struct {
		name  string
		field models.Field[float64]
		limit float64
	}{
		{models.FieldLatitude, rec.Location.Latitude, 90},
		{models.FieldLongitude, rec.Location.Longitude, 180},
	} {
		switch {
		case !c.field.Resolved():
			out = append(out, warning(c.name, RuleCoordinateMissing, "no coordinate"))
		case c.field.Value < -c.limit || c.field.Value > c.limit:
			out = append(out, fatal(c.name, RuleCoordinateRange, fmt.Sprintf("%g", c.field.Value)))
		}
	}
	return out
}

func (v *Validator) facilities(rec *models.CanonicalPropertyRecord) []models.Violation {
	var out []models.Violation
	for _, pair := range v.exclusive {
		if rec.Facilities[pair[0]] && rec.Facilities[pair[1]] {
			out = append(out, fatal("facility_"+pair[0], RuleFacilityConflict,
				fmt.Sprintf("%s and %s are both set", pair[0], pair[1])))
		}
	}
	if rec.Facilities["no_parking"] && rec.ParkingCount.Resolved() && rec.ParkingCount.Value > 0 {
		out = append(out, fatal("facility_no_parking", RuleParkingConflict,
			fmt.Sprintf("no_parking with parking_count %d", rec.ParkingCount.Value)))
	}
	return out
}

func fatal(field, rule, detail string) models.Violation {
	return models.Violation{Field: field, Rule: rule, Severity: models.SeverityFatal, Detail: detail}
}

func warning(field, rule, detail string) models.Violation {
	return models.Violation{Field: field, Rule: rule, Severity: models.SeverityWarning, Detail: detail}
}
