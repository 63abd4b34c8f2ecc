package land

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-collector/client"
	"land-collector/models"
	"land-collector/utils"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := client.NewTokenManager(client.StaticTokenSource{Value: "static"}, time.Minute, utils.NewDiscardLogger())
	api := client.New(client.Options{
		BaseURL:       srv.URL,
		MaxConcurrent: 4,
		BaseDelay:     time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		MaxRetries:    4,
	}, tokens, utils.NewDiscardLogger())
	return NewFetcher(api, utils.NewDiscardLogger())
}

func TestFetchCompositeAlwaysHasEverySection(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/price"):
			w.Write([]byte(`{"dealPrice": 530000000}`))
		case strings.HasSuffix(r.URL.Path, "/photos"):
			w.Write([]byte(`[{"imageSrc": "/a.jpg"}]`))
		case strings.HasSuffix(r.URL.Path, "/tax"):
			w.Write([]byte(`null`))
		case strings.HasSuffix(r.URL.Path, "/floor"):
			w.Write([]byte(`{not json`))
		case strings.HasSuffix(r.URL.Path, "/space"):
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`{}`))
		}
	})

	composite, err := f.FetchComposite(context.Background(), models.ListingRef{ArticleNo: "2412345678"})
	require.NoError(t, err)
	require.Len(t, composite.Sections, len(models.Sections))
	for _, name := range models.Sections {
		_, ok := composite.Sections[name]
		assert.True(t, ok, "section %s missing", name)
	}

	price, ok := composite.Section(models.SectionPrice)
	require.True(t, ok)
	assert.Equal(t, json.Number("530000000"), price["dealPrice"])

	photos, ok := composite.Section(models.SectionPhotos)
	require.True(t, ok)
	assert.Len(t, photos["items"], 1)

	assert.Equal(t, models.KindEmpty, composite.Sections[models.SectionTax].Kind)
	assert.Equal(t, models.KindDecode, composite.Sections[models.SectionFloor].Kind)
	assert.Equal(t, models.KindTransport, composite.Sections[models.SectionSpace].Kind)
}

func TestRateLimitedSectionDoesNotAbortSiblings(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path]++
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/facility") {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	})

	composite, err := f.FetchComposite(context.Background(), models.ListingRef{ArticleNo: "1"})
	require.NoError(t, err)

	facility := composite.Sections[models.SectionFacility]
	assert.False(t, facility.Present)
	assert.Equal(t, models.KindRateLimit, facility.Kind)
	assert.Equal(t, 5, seen["/articles/1/facility"])

	tally := composite.Tally()
	assert.Len(t, tally.Present, len(models.Sections)-1)
	assert.True(t, composite.HasKind(models.KindRateLimit))
}

func TestFetchCompositeSendsComplexNo(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "111515", r.URL.Query().Get("complexNo"))
		w.Write([]byte(`{}`))
	})

	_, err := f.FetchComposite(context.Background(), models.ParseListingRef("2412345678:111515"))
	require.NoError(t, err)
}

func TestFetchCompositeRejectsInvalidIdentifier(t *testing.T) {
	called := false
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	composite, err := f.FetchComposite(context.Background(), models.ListingRef{ArticleNo: "24x1"})
	require.ErrorIs(t, err, ErrInvalidListingRef)
	assert.False(t, called, "no request may be issued for an invalid identifier")
	assert.Len(t, composite.Sections, len(models.Sections))
}

func TestFetchCompositeSurfacesAuthError(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/articles/7" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	})

	composite, err := f.FetchComposite(context.Background(), models.ListingRef{ArticleNo: "7"})
	var authErr *client.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, models.KindAuth, composite.Sections[models.SectionDetail].Kind)
}

func TestSectionEndpoint(t *testing.T) {
	assert.Equal(t, "/articles/42", SectionEndpoint("42", models.SectionDetail))
	assert.Equal(t, "/articles/42/realtor", SectionEndpoint("42", models.SectionRealtor))
}

func TestDecodeSectionEmptyBodies(t *testing.T) {
	for _, body := range []string{``, `  `, `null`, `{}`, `[]`, " {\n} "} {
		_, err := decodeSection([]byte(body))
		assert.ErrorIs(t, err, errEmptySection, "body %q", body)
	}

	_, err := decodeSection([]byte(`"text"`))
	assert.ErrorIs(t, err, errScalarSection)

	data, err := decodeSection([]byte(`[{"imageSrc": "/a.jpg"}]`))
	require.NoError(t, err)
	assert.Len(t, data["items"], 1)
}

func TestFetchCompositeEmptyObjectsAreAbsent(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/photos") {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`{}`))
	})

	composite, err := f.FetchComposite(context.Background(), models.ListingRef{ArticleNo: "2412345678"})
	require.NoError(t, err)

	tally := composite.Tally()
	assert.Empty(t, tally.Present)
	for _, name := range models.Sections {
		assert.Equal(t, models.KindEmpty, composite.Sections[name].Kind, "section %s", name)
	}
}
