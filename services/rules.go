package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"land-collector/models"
)

//go:embed rules/default.yaml
var defaultRules []byte

// FieldKind selects how raw values for a canonical field are parsed.
type FieldKind string

const (
	KindMoney      FieldKind = "money"
	KindArea       FieldKind = "area"
	KindCoordinate FieldKind = "coordinate"
	KindCount      FieldKind = "count"
	KindText       FieldKind = "text"
)

// Alias is one structured location for a value: a section and a dotted key
// path inside it. Unit scales bare numbers (won, manwon, eok, m2, pyeong).
type Alias struct {
	Section models.SectionName `yaml:"section"`
	Key     string             `yaml:"key"`
	Unit    string             `yaml:"unit,omitempty"`
	// Negate inverts a boolean facility signal (parkingPossibleYN -> no_parking).
	Negate bool `yaml:"negate,omitempty"`
}

func (a Alias) String() string {
	return string(a.Section) + "." + a.Key
}

// FieldSpec declares one canonical field: its aliases in priority order and
// the plausible envelope a structured value must fall inside.
type FieldSpec struct {
	Name    string    `yaml:"name"`
	Kind    FieldKind `yaml:"kind"`
	Aliases []Alias   `yaml:"aliases"`
	Min     *float64  `yaml:"min,omitempty"`
	Max     *float64  `yaml:"max,omitempty"`
}

// RuleTarget maps a capture group to a canonical field.
type RuleTarget struct {
	Group int     `yaml:"group"`
	Unit  string  `yaml:"unit,omitempty"`
	Scale float64 `yaml:"scale,omitempty"`
}

// ExtractionRule is a named pattern over description text plus the fields
// its capture groups feed.
type ExtractionRule struct {
	Name    string                `yaml:"name"`
	Pattern string                `yaml:"pattern"`
	Fields  map[string]RuleTarget `yaml:"fields"`

	re *regexp.Regexp
}

// FacilitySpec declares one facility flag.
type FacilitySpec struct {
	Name     string   `yaml:"name"`
	Aliases  []Alias  `yaml:"aliases"`
	Keywords []string `yaml:"keywords"`
}

// PhotoSpec locates photo lists and the keys holding each photo URL.
type PhotoSpec struct {
	Lists   []Alias  `yaml:"lists"`
	URLKeys []string `yaml:"url_keys"`
}

// RuleSet is the complete, data-driven mapping from raw sections to the
// canonical record. Order is significant everywhere.
type RuleSet struct {
	Fields       []FieldSpec      `yaml:"fields"`
	Rules        []ExtractionRule `yaml:"rules"`
	Facilities   []FacilitySpec   `yaml:"facilities"`
	TagLists     []Alias          `yaml:"tag_lists"`
	Descriptions []Alias          `yaml:"descriptions"`
	Photos       PhotoSpec        `yaml:"photos"`
	Exclusive    [][2]string      `yaml:"exclusive"`

	byField map[string][]*ExtractionRule
}

// LoadRuleSet reads the rule file at path, or the built-in table when path
// is empty.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return ParseRuleSet(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rs, err := ParseRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rs, nil
}

// DefaultRuleSet returns the built-in table. It panics if the embedded file
// is broken, which tests catch.
func DefaultRuleSet() *RuleSet {
	rs, err := ParseRuleSet(defaultRules)
	if err != nil {
		panic(err)
	}
	return rs
}

// ParseRuleSet decodes and checks a YAML rule table.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// RulesFor returns the extraction rules feeding field, in priority order.
func (rs *RuleSet) RulesFor(field string) []*ExtractionRule {
	return rs.byField[field]
}

// Field returns the declaration of a canonical field.
func (rs *RuleSet) Field(name string) (FieldSpec, bool) {
	for _, f := range rs.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

func (rs *RuleSet) compile() error {
	var errs []error
	slots := slotKinds()

	known := make(map[string]FieldKind, len(rs.Fields))
	for i, f := range rs.Fields {
		group, ok := slots[f.Name]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("fields[%d]: unknown canonical field %q", i, f.Name))
			continue
		case kindGroup(f.Kind) == "":
			errs = append(errs, fmt.Errorf("field %s: unknown kind %q", f.Name, f.Kind))
			continue
		case kindGroup(f.Kind) != group:
			errs = append(errs, fmt.Errorf("field %s: kind %q does not fit the record slot", f.Name, f.Kind))
			continue
		}
		if _, dup := known[f.Name]; dup {
			errs = append(errs, fmt.Errorf("field %s declared twice", f.Name))
		}
		known[f.Name] = f.Kind
		for _, a := range f.Aliases {
			errs = append(errs, checkAlias("field "+f.Name, a))
		}
	}

	rs.byField = make(map[string][]*ExtractionRule)
	for i := range rs.Rules {
		r := &rs.Rules[i]
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.Name, err))
			continue
		}
		r.re = re
		if len(r.Fields) == 0 {
			errs = append(errs, fmt.Errorf("rule %s: no target fields", r.Name))
		}
		// Deterministic registration order regardless of map iteration.
		for _, f := range rs.Fields {
			target, ok := r.Fields[f.Name]
			if !ok {
				continue
			}
			if target.Group < 1 || target.Group > re.NumSubexp() {
				errs = append(errs, fmt.Errorf("rule %s: field %s uses group %d of %d",
					r.Name, f.Name, target.Group, re.NumSubexp()))
				continue
			}
			rs.byField[f.Name] = append(rs.byField[f.Name], r)
		}
		for name := range r.Fields {
			if _, ok := known[name]; !ok {
				errs = append(errs, fmt.Errorf("rule %s: unknown target field %q", r.Name, name))
			}
		}
	}

	facilities := make(map[string]bool, len(rs.Facilities))
	for _, f := range rs.Facilities {
		if f.Name == "" {
			errs = append(errs, errors.New("facility with empty name"))
			continue
		}
		if facilities[f.Name] {
			errs = append(errs, fmt.Errorf("facility %s declared twice", f.Name))
		}
		facilities[f.Name] = true
		for _, a := range f.Aliases {
			errs = append(errs, checkAlias("facility "+f.Name, a))
		}
	}
	for _, pair := range rs.Exclusive {
		for _, name := range pair {
			if !facilities[name] {
				errs = append(errs, fmt.Errorf("exclusive pair %v: unknown facility %q", pair, name))
			}
		}
	}
	for _, a := range rs.TagLists {
		errs = append(errs, checkAlias("tag_lists", a))
	}
	for _, a := range rs.Descriptions {
		errs = append(errs, checkAlias("descriptions", a))
	}
	for _, a := range rs.Photos.Lists {
		errs = append(errs, checkAlias("photos", a))
	}

	return errors.Join(errs...)
}

func checkAlias(owner string, a Alias) error {
	if a.Key == "" {
		return fmt.Errorf("%s: alias without key", owner)
	}
	for _, s := range models.Sections {
		if s == a.Section {
			return nil
		}
	}
	return fmt.Errorf("%s: alias %s names unknown section", owner, a)
}

// kindGroup maps a field kind to the record slot type it fills.
func kindGroup(k FieldKind) string {
	switch k {
	case KindMoney:
		return "money"
	case KindCount:
		return "count"
	case KindArea, KindCoordinate:
		return "float"
	case KindText:
		return "text"
	}
	return ""
}

func slotKinds() map[string]string {
	rec := &models.CanonicalPropertyRecord{}
	out := make(map[string]string)
	for _, f := range rec.MoneyFields() {
		out[f.Name] = "money"
	}
	for _, f := range rec.CountFields() {
		out[f.Name] = "count"
	}
	for _, f := range rec.FloatFields() {
		out[f.Name] = "float"
	}
	for _, f := range rec.TextFields() {
		out[f.Name] = "text"
	}
	return out
}
