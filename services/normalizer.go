package services

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"land-collector/models"
)

// Normalizer maps a composite raw record to the canonical record using a
// RuleSet. It holds no mutable state; Normalize is a pure function of its
// input and the rule table.
type Normalizer struct {
	rules *RuleSet
}

// NewNormalizer creates a Normalizer over the given rule table.
func NewNormalizer(rules *RuleSet) *Normalizer {
	return &Normalizer{rules: rules}
}

// resolution is the outcome of both tiers for one field.
type resolution struct {
	provenance models.Provenance
	num        decimal.Decimal
	text       string
	source     string
}

type candidate struct {
	rule string
	num  decimal.Decimal
	text string
}

// Normalize builds the canonical record. Each declared field is looked up
// under its aliases first; only when none yields a usable value are the
// extraction rules run over the description text.
func (n *Normalizer) Normalize(c *models.CompositeRawRecord) *models.CanonicalPropertyRecord {
	rec := &models.CanonicalPropertyRecord{
		ListingID:  c.Ref.ArticleNo,
		Facilities: make(map[string]bool, len(n.rules.Facilities)),
	}
	markUnresolved(rec)

	verbatim, searchText := n.description(c)
	rec.Description = verbatim

	intSlots := make(map[string]*models.Field[int64])
	for _, f := range append(rec.MoneyFields(), rec.CountFields()...) {
		intSlots[f.Name] = f.Field
	}
	floatSlots := make(map[string]*models.Field[float64])
	for _, f := range rec.FloatFields() {
		floatSlots[f.Name] = f.Field
	}
	textSlots := make(map[string]*models.Field[string])
	for _, f := range rec.TextFields() {
		textSlots[f.Name] = f.Field
	}

	for _, spec := range n.rules.Fields {
		res, diags := n.resolve(c, spec, searchText)
		rec.Diagnostics = append(rec.Diagnostics, diags...)
		if res.provenance == models.Unresolved {
			continue
		}
		switch spec.Kind {
		case KindMoney, KindCount:
			*intSlots[spec.Name] = models.Field[int64]{Value: res.num.IntPart(), Provenance: res.provenance, Source: res.source}
		case KindArea, KindCoordinate:
			*floatSlots[spec.Name] = models.Field[float64]{Value: res.num.InexactFloat64(), Provenance: res.provenance, Source: res.source}
		case KindText:
			*textSlots[spec.Name] = models.Field[string]{Value: res.text, Provenance: res.provenance, Source: res.source}
		}
	}

	if !rec.ComplexID.Resolved() && c.Ref.ComplexNo != "" {
		rec.ComplexID = models.Structured(c.Ref.ComplexNo, "ref.complexNo")
	}

	rec.Facilities, rec.Diagnostics = n.facilities(c, rec.Diagnostics)
	rec.PhotoURLs = n.photos(c)

	loc := &rec.Location
	loc.Enriched = loc.Latitude.Resolved() && loc.Longitude.Resolved() &&
		(loc.RoadAddress.Resolved() || loc.LotAddress.Resolved())

	return rec
}

func markUnresolved(rec *models.CanonicalPropertyRecord) {
	for _, f := range rec.MoneyFields() {
		*f.Field = models.UnresolvedField[int64]()
	}
	for _, f := range rec.CountFields() {
		*f.Field = models.UnresolvedField[int64]()
	}
	for _, f := range rec.FloatFields() {
		*f.Field = models.UnresolvedField[float64]()
	}
	for _, f := range rec.TextFields() {
		*f.Field = models.UnresolvedField[string]()
	}
}

// resolve runs tier 1 (aliases) then tier 2 (extraction rules) for a field.
func (n *Normalizer) resolve(c *models.CompositeRawRecord, spec FieldSpec, text string) (resolution, []models.Diagnostic) {
	var diags []models.Diagnostic

	for _, alias := range spec.Aliases {
		v := lookup(c, alias)
		if v.State == models.Absent {
			continue
		}
		parsed := parseStructured(spec, alias, v.Raw)
		switch parsed.State {
		case models.Absent:
			continue
		case models.Malformed:
			diags = append(diags, models.Diagnostic{
				Field:  spec.Name,
				Kind:   models.DiagMalformed,
				Detail: fmt.Sprintf("%s: %s", alias, parsed.Reason),
			})
			continue
		}
		if spec.Kind == KindText {
			return resolution{provenance: models.FromStructuredField, text: parsed.Raw.(string), source: alias.String()}, diags
		}
		num := parsed.Raw.(decimal.Decimal)
		if !spec.inRange(num) {
			diags = append(diags, models.Diagnostic{
				Field:  spec.Name,
				Kind:   models.DiagOutOfRange,
				Detail: fmt.Sprintf("%s: %s outside %s", alias, num.String(), spec.envelope()),
			})
			continue
		}
		return resolution{provenance: models.FromStructuredField, num: num, source: alias.String()}, diags
	}

	candidates := n.fallbackCandidates(spec, text)
	if len(candidates) == 0 {
		return resolution{provenance: models.Unresolved}, diags
	}

	first := candidates[0]
	for _, other := range candidates[1:] {
		if spec.Kind == KindText && other.text == first.text {
			continue
		}
		if spec.Kind != KindText && other.num.Equal(first.num) {
			continue
		}
		diags = append(diags, models.Diagnostic{
			Field:  spec.Name,
			Kind:   models.DiagAmbiguity,
			Detail: describeCandidates(spec, candidates),
		})
		return resolution{provenance: models.Unresolved}, diags
	}

	return resolution{
		provenance: models.FromTextFallback,
		num:        first.num,
		text:       first.text,
		source:     first.rule,
	}, diags
}

// fallbackCandidates collects one value per matching rule, in rule
// priority order. Within a rule the first match wins.
func (n *Normalizer) fallbackCandidates(spec FieldSpec, text string) []candidate {
	if text == "" {
		return nil
	}
	var out []candidate
	for _, rule := range n.rules.RulesFor(spec.Name) {
		target := rule.Fields[spec.Name]
		m := rule.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		capture := strings.TrimSpace(m[target.Group])
		if capture == "" {
			continue
		}
		if spec.Kind == KindText {
			out = append(out, candidate{rule: rule.Name, text: normaliseText(capture)})
			continue
		}
		num, err := parseCapture(spec.Kind, target, capture)
		if err != nil || !spec.inRange(num) {
			continue
		}
		out = append(out, candidate{rule: rule.Name, num: num})
	}
	return out
}

func describeCandidates(spec FieldSpec, cs []candidate) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		v := c.text
		if spec.Kind != KindText {
			v = c.num.String()
		}
		parts = append(parts, c.rule+"="+v)
	}
	return "conflicting fallback values: " + strings.Join(parts, ", ")
}

// parseStructured turns a raw alias value into a typed value: Raw holds a
// decimal.Decimal for numeric kinds and a string for text.
func parseStructured(spec FieldSpec, alias Alias, raw any) models.Value {
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return models.AbsentValue()
	}

	if spec.Kind == KindText {
		switch v := raw.(type) {
		case string:
			return models.PresentValue(normaliseText(v))
		case json.Number:
			return models.PresentValue(v.String())
		default:
			return models.MalformedValue(raw, fmt.Sprintf("expected text, got %T", raw))
		}
	}

	num, err := parseNumber(spec.Kind, alias.Unit, raw)
	if err != nil {
		return models.MalformedValue(raw, err.Error())
	}
	num, err = finalize(spec.Kind, num)
	if err != nil {
		return models.MalformedValue(raw, err.Error())
	}
	return models.PresentValue(num)
}

func parseNumber(kind FieldKind, unit string, raw any) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case json.Number:
		n, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, err
		}
		d = n
	case float64:
		d = decimal.NewFromFloat(v)
	case int64:
		d = decimal.NewFromInt(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case string:
		switch kind {
		case KindMoney:
			return parseMoneyText(v, unit)
		case KindArea:
			return parseAreaText(v, unit)
		case KindCount:
			return parseCountText(v)
		default:
			return parseDecimalText(v)
		}
	default:
		return decimal.Decimal{}, fmt.Errorf("expected number, got %T", raw)
	}

	mult, err := unitMultiplier(unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return d.Mul(mult), nil
}

func parseCapture(kind FieldKind, target RuleTarget, capture string) (decimal.Decimal, error) {
	var (
		num decimal.Decimal
		err error
	)
	switch kind {
	case KindMoney:
		num, err = parseMoneyText(capture, target.Unit)
	case KindArea:
		num, err = parseAreaText(capture, target.Unit)
	case KindCount:
		num, err = parseCountText(capture)
	default:
		num, err = parseDecimalText(capture)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	if target.Scale != 0 {
		num = num.Mul(decimal.NewFromFloat(target.Scale))
	}
	return finalize(kind, num)
}

// finalize applies the storage form of a kind: money is rounded to whole
// won with banker's rounding, counts must be whole.
func finalize(kind FieldKind, d decimal.Decimal) (decimal.Decimal, error) {
	switch kind {
	case KindMoney:
		return d.RoundBank(0), nil
	case KindCount:
		if !d.IsInteger() {
			return decimal.Decimal{}, fmt.Errorf("count %s is not whole", d)
		}
	}
	return d, nil
}

func (f FieldSpec) inRange(d decimal.Decimal) bool {
	if f.Min != nil && d.LessThan(decimal.NewFromFloat(*f.Min)) {
		return false
	}
	if f.Max != nil && d.GreaterThan(decimal.NewFromFloat(*f.Max)) {
		return false
	}
	return true
}

func (f FieldSpec) envelope() string {
	lo, hi := "-inf", "+inf"
	if f.Min != nil {
		lo = strconv.FormatFloat(*f.Min, 'f', -1, 64)
	}
	if f.Max != nil {
		hi = strconv.FormatFloat(*f.Max, 'f', -1, 64)
	}
	return "[" + lo + ", " + hi + "]"
}

// lookup follows a dotted key path inside a section. Missing keys, missing
// sections and explicit nulls are all Absent.
func lookup(c *models.CompositeRawRecord, a Alias) models.Value {
	section, ok := c.Section(a.Section)
	if !ok {
		return models.AbsentValue()
	}

	var cur any = map[string]any(section)
	for _, seg := range strings.Split(a.Key, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return models.AbsentValue()
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return models.AbsentValue()
			}
			cur = node[i]
		default:
			return models.AbsentValue()
		}
	}
	if cur == nil {
		return models.AbsentValue()
	}
	return models.PresentValue(cur)
}

// facilities applies structured flags first, then tag keywords. A facility
// with no signal at all is false.
func (n *Normalizer) facilities(c *models.CompositeRawRecord, diags []models.Diagnostic) (map[string]bool, []models.Diagnostic) {
	out := make(map[string]bool, len(n.rules.Facilities))
	tags := n.tags(c)

	for _, f := range n.rules.Facilities {
		on, found := false, false
		for _, alias := range f.Aliases {
			v := lookup(c, alias)
			if v.State == models.Absent {
				continue
			}
			b, ok := boolish(v.Raw)
			if !ok {
				diags = append(diags, models.Diagnostic{
					Field:  "facility_" + f.Name,
					Kind:   models.DiagMalformed,
					Detail: fmt.Sprintf("%s: %v is not a flag", alias, v.Raw),
				})
				continue
			}
			if alias.Negate {
				b = !b
			}
			on, found = b, true
			break
		}
		if !found {
			on = containsKeyword(tags, f.Keywords)
		}
		out[f.Name] = on
	}
	return out, diags
}

func (n *Normalizer) tags(c *models.CompositeRawRecord) []string {
	var out []string
	for _, alias := range n.rules.TagLists {
		v := lookup(c, alias)
		if v.State != models.Present {
			continue
		}
		switch t := v.Raw.(type) {
		case string:
			for _, part := range strings.Split(t, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		}
	}
	return out
}

func containsKeyword(tags, keywords []string) bool {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func boolish(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case json.Number:
		switch v.String() {
		case "1":
			return true, true
		case "0":
			return false, true
		}
	case float64:
		switch v {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "Y", "YES", "TRUE", "1", "있음", "가능":
			return true, true
		case "N", "NO", "FALSE", "0", "없음", "불가":
			return false, true
		}
	}
	return false, false
}

// description returns the first description verbatim, plus the search text
// for fallback extraction: every distinct description with markup removed.
func (n *Normalizer) description(c *models.CompositeRawRecord) (string, string) {
	var (
		verbatim string
		parts    []string
		seen     = make(map[string]bool)
	)
	for _, alias := range n.rules.Descriptions {
		v := lookup(c, alias)
		s, ok := v.Raw.(string)
		if v.State != models.Present || !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if verbatim == "" {
			verbatim = s
		}
		plain := descriptionText(s)
		if !seen[plain] {
			seen[plain] = true
			parts = append(parts, plain)
		}
	}
	return verbatim, strings.Join(parts, "\n")
}

// descriptionText strips HTML markup some listings carry in descriptions.
func descriptionText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return doc.Text()
}

// photos collects photo URLs across all configured lists, first seen first.
func (n *Normalizer) photos(c *models.CompositeRawRecord) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, alias := range n.rules.Photos.Lists {
		v := lookup(c, alias)
		items, ok := v.Raw.([]any)
		if v.State != models.Present || !ok {
			continue
		}
		for _, item := range items {
			switch p := item.(type) {
			case string:
				add(p)
			case map[string]any:
				for _, key := range n.rules.Photos.URLKeys {
					if u, ok := p[key].(string); ok && u != "" {
						add(u)
						break
					}
				}
			}
		}
	}
	return out
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
