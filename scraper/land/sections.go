package land

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"land-collector/client"
	"land-collector/metrics"
	"land-collector/models"
	"land-collector/utils"
)

// ErrInvalidListingRef is returned before any request when the article or
// complex number is not a plain decimal identifier.
var ErrInvalidListingRef = errors.New("invalid listing identifier")

var (
	errEmptySection  = errors.New("section body is empty or null")
	errScalarSection = errors.New("section body is not an object or array")
)

// Requester issues one API request. *client.Client satisfies it.
type Requester interface {
	Request(ctx context.Context, endpoint string, params map[string]string) (*client.Response, error)
}

// Fetcher assembles the composite raw record for one listing.
type Fetcher struct {
	api    Requester
	logger *utils.Logger
}

// NewFetcher creates a Fetcher issuing requests through api.
func NewFetcher(api Requester, logger *utils.Logger) *Fetcher {
	return &Fetcher{api: api, logger: logger}
}

// ValidateRef checks that the identifiers are non-empty digit strings
// (the complex number may be omitted).
func ValidateRef(ref models.ListingRef) error {
	if !isDigits(ref.ArticleNo) {
		return fmt.Errorf("%w: article number %q", ErrInvalidListingRef, ref.ArticleNo)
	}
	if ref.ComplexNo != "" && !isDigits(ref.ComplexNo) {
		return fmt.Errorf("%w: complex number %q", ErrInvalidListingRef, ref.ComplexNo)
	}
	return nil
}

// FetchComposite requests every section concurrently. The composite is
// always returned with an entry for each section; a section failure is
// recorded as absent, never raised. The error is non-nil only for an
// invalid identifier or when a section hit an AuthError, which callers
// must treat as fatal for the batch.
func (f *Fetcher) FetchComposite(ctx context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
	composite := models.NewCompositeRawRecord(ref)
	if err := ValidateRef(ref); err != nil {
		return composite, err
	}

	log := f.logger.With(map[string]any{"listing": ref.String()})

	var params map[string]string
	if ref.ComplexNo != "" {
		params = map[string]string{"complexNo": ref.ComplexNo}
	}

	type result struct {
		name models.SectionName
		data models.RawSection
		kind models.ErrorKind
		err  error
	}
	results := make(chan result, len(models.Sections))

	var wg sync.WaitGroup
	for _, name := range models.Sections {
		wg.Add(1)
		go func(name models.SectionName) {
			defer wg.Done()
			data, kind, err := f.fetchSection(ctx, ref.ArticleNo, name, params)
			results <- result{name: name, data: data, kind: kind, err: err}
		}(name)
	}
	wg.Wait()
	close(results)

	var authErr *client.AuthError
	for r := range results {
		if r.err != nil {
			composite.SetAbsent(r.name, r.kind, r.err)
			metrics.SectionFetches.WithLabelValues(string(r.name), string(r.kind)).Inc()
			log.Debug("[land] Section %s absent (%s): %v", r.name, r.kind, r.err)
			if authErr == nil {
				errors.As(r.err, &authErr)
			}
			continue
		}
		composite.SetPresent(r.name, r.data)
		metrics.SectionFetches.WithLabelValues(string(r.name), "present").Inc()
	}

	tally := composite.Tally()
	if len(tally.Absent) > 0 {
		log.Info("[land] %s, absent: %s", tally, absentSummary(tally))
	} else {
		log.Debug("[land] %s", tally)
	}

	if authErr != nil {
		return composite, authErr
	}
	return composite, nil
}

func (f *Fetcher) fetchSection(ctx context.Context, articleNo string, name models.SectionName, params map[string]string) (models.RawSection, models.ErrorKind, error) {
	res, err := f.api.Request(ctx, SectionEndpoint(articleNo, name), params)
	if err != nil {
		return nil, client.KindOf(err), err
	}
	data, err := decodeSection(res.Body)
	if err != nil {
		if errors.Is(err, errEmptySection) {
			return nil, models.KindEmpty, err
		}
		return nil, models.KindDecode, err
	}
	return data, models.KindNone, nil
}

// SectionEndpoint returns the API path of one section.
func SectionEndpoint(articleNo string, name models.SectionName) string {
	if name == models.SectionDetail {
		return "/articles/" + articleNo
	}
	return "/articles/" + articleNo + "/" + string(name)
}

// decodeSection keeps numbers as json.Number so large won amounts survive
// untouched. Top-level arrays are wrapped under "items". null, {} and []
// are empty sections.
func decodeSection(body []byte) (models.RawSection, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errEmptySection
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}

	switch t := v.(type) {
	case nil:
		return nil, errEmptySection
	case map[string]any:
		if len(t) == 0 {
			return nil, errEmptySection
		}
		return models.RawSection(t), nil
	case []any:
		if len(t) == 0 {
			return nil, errEmptySection
		}
		return models.RawSection{"items": t}, nil
	default:
		return nil, errScalarSection
	}
}

func absentSummary(t models.SectionTally) string {
	parts := make([]string, 0, len(t.Absent))
	for _, name := range models.Sections {
		if kind, ok := t.Absent[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", name, kind))
		}
	}
	return strings.Join(parts, " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
