package models

import "fmt"

// Provenance tells where a canonical field value came from.
type Provenance string

const (
	FromStructuredField Provenance = "from_structured_field"
	FromTextFallback    Provenance = "from_text_fallback"
	Unresolved          Provenance = "unresolved"
)

// Canonical field names. Rule files and the flat mapping use these.
const (
	FieldListingID           = "listing_id"
	FieldComplexID           = "complex_id"
	FieldTitle               = "title"
	FieldTradeType           = "trade_type"
	FieldDealPrice           = "deal_price"
	FieldDeposit             = "deposit"
	FieldMonthlyRent         = "monthly_rent"
	FieldExclusiveArea       = "exclusive_area"
	FieldSupplyArea          = "supply_area"
	FieldLatitude            = "latitude"
	FieldLongitude           = "longitude"
	FieldRoadAddress         = "road_address"
	FieldLotAddress          = "lot_address"
	FieldCurrentFloor        = "current_floor"
	FieldTotalFloors         = "total_floors"
	FieldParkingCount        = "parking_count"
	FieldRealtorName         = "realtor_name"
	FieldRealtorPhone        = "realtor_phone"
	FieldRealtorAddress      = "realtor_address"
	FieldRealtorRegistration = "realtor_registration_no"
	FieldAcquisitionTax      = "acquisition_tax"
	FieldRegistrationTax     = "registration_tax"
	FieldBrokerageFee        = "brokerage_fee"
)

// Field is a canonical value plus its provenance. The zero value is unresolved.
type Field[T any] struct {
	Value      T
	Provenance Provenance
	// Source is the alias path or rule name that produced the value.
	Source string
}

func Structured[T any](v T, source string) Field[T] {
	return Field[T]{Value: v, Provenance: FromStructuredField, Source: source}
}

func Fallback[T any](v T, rule string) Field[T] {
	return Field[T]{Value: v, Provenance: FromTextFallback, Source: rule}
}

func UnresolvedField[T any]() Field[T] {
	return Field[T]{Provenance: Unresolved}
}

func (f Field[T]) Resolved() bool {
	return f.Provenance == FromStructuredField || f.Provenance == FromTextFallback
}

// Tag returns the provenance, reporting the zero value as unresolved.
func (f Field[T]) Tag() Provenance {
	if !f.Resolved() {
		return Unresolved
	}
	return f.Provenance
}

// FieldRef binds a canonical field name to its slot in a record.
type FieldRef[T any] struct {
	Name  string
	Field *Field[T]
}

// DiagnosticKind classifies a normalization diagnostic.
type DiagnosticKind string

const (
	DiagAmbiguity  DiagnosticKind = "extraction_ambiguity"
	DiagMalformed  DiagnosticKind = "malformed_value"
	DiagOutOfRange DiagnosticKind = "out_of_range"
)

// Diagnostic explains why a field was not taken from a source.
type Diagnostic struct {
	Field  string
	Kind   DiagnosticKind
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s (%s)", d.Field, d.Kind, d.Detail)
}

type Location struct {
	Latitude    Field[float64]
	Longitude   Field[float64]
	RoadAddress Field[string]
	LotAddress  Field[string]
	// Enriched is set when coordinates and at least one address resolved.
	Enriched bool
}

type Realtor struct {
	Name           Field[string]
	Phone          Field[string]
	Address        Field[string]
	RegistrationNo Field[string]
}

type Tax struct {
	AcquisitionTax  Field[int64]
	RegistrationTax Field[int64]
	BrokerageFee    Field[int64]
}

// CanonicalPropertyRecord is the normalized output for one listing. Money
// is in won, areas in m².
type CanonicalPropertyRecord struct {
	ListingID string
	ComplexID Field[string]
	Title     Field[string]
	TradeType Field[string]

	DealPrice   Field[int64]
	Deposit     Field[int64]
	MonthlyRent Field[int64]

	ExclusiveArea Field[float64]
	SupplyArea    Field[float64]

	Location Location

	CurrentFloor Field[int64]
	TotalFloors  Field[int64]
	ParkingCount Field[int64]

	// Facilities maps every configured facility name to its flag.
	Facilities map[string]bool

	Realtor Realtor
	Tax     Tax

	PhotoURLs   []string
	Description string

	Diagnostics []Diagnostic
}

// MoneyFields lists the integer won-valued fields.
func (r *CanonicalPropertyRecord) MoneyFields() []FieldRef[int64] {
	return []FieldRef[int64]{
		{FieldDealPrice, &r.DealPrice},
		{FieldDeposit, &r.Deposit},
		{FieldMonthlyRent, &r.MonthlyRent},
		{FieldAcquisitionTax, &r.Tax.AcquisitionTax},
		{FieldRegistrationTax, &r.Tax.RegistrationTax},
		{FieldBrokerageFee, &r.Tax.BrokerageFee},
	}
}

// CountFields lists the integer count fields.
func (r *CanonicalPropertyRecord) CountFields() []FieldRef[int64] {
	return []FieldRef[int64]{
		{FieldCurrentFloor, &r.CurrentFloor},
		{FieldTotalFloors, &r.TotalFloors},
		{FieldParkingCount, &r.ParkingCount},
	}
}

// FloatFields lists areas and coordinates.
func (r *CanonicalPropertyRecord) FloatFields() []FieldRef[float64] {
	return []FieldRef[float64]{
		{FieldExclusiveArea, &r.ExclusiveArea},
		{FieldSupplyArea, &r.SupplyArea},
		{FieldLatitude, &r.Location.Latitude},
		{FieldLongitude, &r.Location.Longitude},
	}
}

// TextFields lists the string-valued fields.
func (r *CanonicalPropertyRecord) TextFields() []FieldRef[string] {
	return []FieldRef[string]{
		{FieldComplexID, &r.ComplexID},
		{FieldTitle, &r.Title},
		{FieldTradeType, &r.TradeType},
		{FieldRoadAddress, &r.Location.RoadAddress},
		{FieldLotAddress, &r.Location.LotAddress},
		{FieldRealtorName, &r.Realtor.Name},
		{FieldRealtorPhone, &r.Realtor.Phone},
		{FieldRealtorAddress, &r.Realtor.Address},
		{FieldRealtorRegistration, &r.Realtor.RegistrationNo},
	}
}

// Provenances returns the provenance tag of every typed field.
func (r *CanonicalPropertyRecord) Provenances() map[string]Provenance {
	out := make(map[string]Provenance)
	for _, f := range r.MoneyFields() {
		out[f.Name] = f.Field.Tag()
	}
	for _, f := range r.CountFields() {
		out[f.Name] = f.Field.Tag()
	}
	for _, f := range r.FloatFields() {
		out[f.Name] = f.Field.Tag()
	}
	for _, f := range r.TextFields() {
		out[f.Name] = f.Field.Tag()
	}
	return out
}

// Flatten exposes the record as a flat mapping. Every typed field appears
// with a "<name>__provenance" companion; unresolved values are nil.
func (r *CanonicalPropertyRecord) Flatten() map[string]any {
	out := map[string]any{
		FieldListingID:      r.ListingID,
		"description":       r.Description,
		"photo_count":       len(r.PhotoURLs),
		"location_enriched": r.Location.Enriched,
	}
	for _, f := range r.MoneyFields() {
		putFlat(out, f.Name, *f.Field)
	}
	for _, f := range r.CountFields() {
		putFlat(out, f.Name, *f.Field)
	}
	for _, f := range r.FloatFields() {
		putFlat(out, f.Name, *f.Field)
	}
	for _, f := range r.TextFields() {
		putFlat(out, f.Name, *f.Field)
	}
	for name, on := range r.Facilities {
		out["facility_"+name] = on
	}
	return out
}

func putFlat[T any](out map[string]any, name string, f Field[T]) {
	out[name+"__provenance"] = string(f.Tag())
	if f.Resolved() {
		out[name] = f.Value
		return
	}
	out[name] = nil
}
