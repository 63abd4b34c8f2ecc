package models

import (
	"fmt"
	"strings"
)

// SectionName identifies one sub-resource of a listing's detail API.
type SectionName string

const (
	SectionDetail   SectionName = "detail"
	SectionAddition SectionName = "addition"
	SectionPhotos   SectionName = "photos"
	SectionFacility SectionName = "facility"
	SectionPrice    SectionName = "price"
	SectionRealtor  SectionName = "realtor"
	SectionFloor    SectionName = "floor"
	SectionSpace    SectionName = "space"
	SectionTax      SectionName = "tax"
)

// Sections is the fixed set of sections requested for every listing, in
// request order.
var Sections = []SectionName{
	SectionDetail,
	SectionAddition,
	SectionPhotos,
	SectionFacility,
	SectionPrice,
	SectionRealtor,
	SectionFloor,
	SectionSpace,
	SectionTax,
}

// ErrorKind classifies why a section is absent.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindTransport ErrorKind = "transport"
	KindDecode    ErrorKind = "decode"
	KindEmpty     ErrorKind = "empty"
	KindCancelled ErrorKind = "cancelled"
)

// ListingRef is a caller-supplied listing identifier, optionally scoped to
// a complex.
type ListingRef struct {
	ArticleNo string
	ComplexNo string
}

// ParseListingRef accepts "article" or "article:complex".
func ParseListingRef(s string) ListingRef {
	s = strings.TrimSpace(s)
	article, complex, _ := strings.Cut(s, ":")
	return ListingRef{
		ArticleNo: strings.TrimSpace(article),
		ComplexNo: strings.TrimSpace(complex),
	}
}

func (r ListingRef) String() string {
	if r.ComplexNo == "" {
		return r.ArticleNo
	}
	return r.ArticleNo + ":" + r.ComplexNo
}

// RawSection holds one section's decoded payload. Keys and value types are
// whatever the API returned.
type RawSection map[string]any

// SectionResult is either a present RawSection or an explicit absent marker
// with the error kind that caused it.
type SectionResult struct {
	Name    SectionName
	Data    RawSection
	Present bool
	Kind    ErrorKind
	Err     string
}

// CompositeRawRecord maps every section name to its result for one listing.
type CompositeRawRecord struct {
	Ref      ListingRef
	Sections map[SectionName]SectionResult
}

// NewCompositeRawRecord returns a record with every section marked absent.
func NewCompositeRawRecord(ref ListingRef) *CompositeRawRecord {
	c := &CompositeRawRecord{
		Ref:      ref,
		Sections: make(map[SectionName]SectionResult, len(Sections)),
	}
	for _, name := range Sections {
		c.Sections[name] = SectionResult{Name: name, Kind: KindCancelled, Err: "not fetched"}
	}
	return c
}

// SetPresent records a successfully decoded section.
func (c *CompositeRawRecord) SetPresent(name SectionName, data RawSection) {
	c.Sections[name] = SectionResult{Name: name, Data: data, Present: true}
}

// SetAbsent records a failed or empty section.
func (c *CompositeRawRecord) SetAbsent(name SectionName, kind ErrorKind, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.Sections[name] = SectionResult{Name: name, Kind: kind, Err: msg}
}

// Section returns the section data when present.
func (c *CompositeRawRecord) Section(name SectionName) (RawSection, bool) {
	res, ok := c.Sections[name]
	if !ok || !res.Present {
		return nil, false
	}
	return res.Data, true
}

// SectionTally counts present and absent sections.
type SectionTally struct {
	Present []SectionName
	Absent  map[SectionName]ErrorKind
}

// Tally reports which sections succeeded, in fixed section order.
func (c *CompositeRawRecord) Tally() SectionTally {
	t := SectionTally{Absent: make(map[SectionName]ErrorKind)}
	for _, name := range Sections {
		res := c.Sections[name]
		if res.Present {
			t.Present = append(t.Present, name)
			continue
		}
		t.Absent[name] = res.Kind
	}
	return t
}

// HasKind reports whether any absent section failed with the given kind.
func (c *CompositeRawRecord) HasKind(kind ErrorKind) bool {
	for _, res := range c.Sections {
		if !res.Present && res.Kind == kind {
			return true
		}
	}
	return false
}

func (t SectionTally) String() string {
	return fmt.Sprintf("%d/%d sections present", len(t.Present), len(Sections))
}
