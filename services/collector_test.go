package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-collector/client"
	"land-collector/models"
	"land-collector/scraper/land"
	"land-collector/utils"
)

type fetchFunc func(ctx context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error)

func (f fetchFunc) FetchComposite(ctx context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
	return f(ctx, ref)
}

type memoryGateway struct {
	mu        sync.Mutex
	persisted map[string]*models.CanonicalPropertyRecord
	fail      map[string]bool
}

func newMemoryGateway(fail ...string) *memoryGateway {
	g := &memoryGateway{persisted: make(map[string]*models.CanonicalPropertyRecord), fail: make(map[string]bool)}
	for _, id := range fail {
		g.fail[id] = true
	}
	return g
}

func (g *memoryGateway) Persist(_ context.Context, rec *models.CanonicalPropertyRecord, _ models.ValidationResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[rec.ListingID] {
		return errors.New("connection reset")
	}
	g.persisted[rec.ListingID] = rec
	return nil
}

func (g *memoryGateway) Close() error { return nil }

func (g *memoryGateway) has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.persisted[id]
	return ok
}

// goodComposite returns a listing that normalizes without fatal violations.
func goodComposite(t *testing.T, ref models.ListingRef) *models.CompositeRawRecord {
	t.Helper()
	c := models.NewCompositeRawRecord(ref)
	for name, body := range map[models.SectionName]string{
		models.SectionDetail: `{"articleDetail": {"tradeTypeName": "매매", "latitude": 37.5, "longitude": 127.03,
			"roadAddressName": "서울특별시 강남구 테헤란로 1"}}`,
		models.SectionPrice: `{"dealPrice": 530000000}`,
		models.SectionSpace: `{"exclusiveSpace": 84.97, "supplySpace": 112.4}`,
	} {
		data, err := decodeForTest(body)
		require.NoError(t, err)
		c.SetPresent(name, data)
	}
	return c
}

func newTestCollector(fetcher CompositeFetcher, gw *memoryGateway, workers int, grace time.Duration) *Collector {
	rules := DefaultRuleSet()
	return NewCollector(fetcher, NewNormalizer(rules), NewValidator(rules), gw,
		CollectorOptions{Workers: workers, ShutdownGrace: grace}, utils.NewDiscardLogger())
}

func refs(ids ...string) []models.ListingRef {
	out := make([]models.ListingRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.ParseListingRef(id))
	}
	return out
}

func outcomes(r *models.BatchReport) map[string]models.ListingOutcome {
	out := make(map[string]models.ListingOutcome, len(r.Listings))
	for _, l := range r.Listings {
		out[l.Ref.String()] = l
	}
	return out
}

var persistedOutcomes = []models.Outcome{models.OutcomePersisted, models.OutcomePersistedWithWarnings}

func TestCollectorReportsEveryIdentifier(t *testing.T) {
	fetcher := fetchFunc(func(_ context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
		c := goodComposite(t, ref)
		switch ref.ArticleNo {
		case "103":
			c.SetAbsent(models.SectionFacility, models.KindRateLimit, &client.RateLimitExhausted{Endpoint: "facility", Attempts: 5})
		case "104":
			return nil, &client.TransportError{Endpoint: "detail", Status: 502}
		case "105":
			data, _ := decodeForTest(`{"parking": "Y", "noParking": "Y"}`)
			c.SetPresent(models.SectionFacility, data)
		}
		return c, nil
	})
	gw := newMemoryGateway("106")

	report := newTestCollector(fetcher, gw, 3, time.Second).
		Run(context.Background(), refs("101", "102", "102", "103", "104", "105", "106"))

	require.Len(t, report.Listings, 6)
	assert.Equal(t, []string{"102"}, report.Duplicates)
	assert.False(t, report.Aborted)
	assert.NotEmpty(t, report.ID)

	got := outcomes(report)
	assert.Contains(t, persistedOutcomes, got["101"].Outcome)
	assert.Contains(t, persistedOutcomes, got["102"].Outcome)
	assert.Equal(t, models.OutcomeRejectedFetch, got["103"].Outcome)
	assert.Contains(t, got["103"].Cause, "rate limit")
	assert.Equal(t, models.OutcomeRejectedFetch, got["104"].Outcome)
	assert.Equal(t, models.OutcomeRejectedValidation, got["105"].Outcome)
	assert.Equal(t, models.StageValidate, got["105"].Stage)
	assert.Contains(t, got["105"].Cause, "facility_parking:"+RuleFacilityConflict)
	assert.Equal(t, models.OutcomeRejectedPersistence, got["106"].Outcome)

	assert.True(t, gw.has("101"))
	assert.False(t, gw.has("105"), "fatal records are never persisted")
	assert.Equal(t, models.FromStructuredField, got["101"].Provenance[models.FieldDealPrice])
	require.NotNil(t, got["101"].Tally)
	assert.Len(t, got["101"].Tally.Present, 3)
}

func TestCollectorNoSectionsIsFetchFailure(t *testing.T) {
	fetcher := fetchFunc(func(_ context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
		c := models.NewCompositeRawRecord(ref)
		for _, name := range models.Sections {
			c.SetAbsent(name, models.KindEmpty, nil)
		}
		return c, nil
	})

	report := newTestCollector(fetcher, newMemoryGateway(), 1, time.Second).Run(context.Background(), refs("1"))

	require.Len(t, report.Listings, 1)
	assert.Equal(t, models.OutcomeRejectedFetch, report.Listings[0].Outcome)
	assert.Equal(t, "no section returned data", report.Listings[0].Cause)
}

func TestCollectorEmptyObjectSectionsAreFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tokens := client.NewTokenManager(client.StaticTokenSource{Value: "static"}, time.Minute, utils.NewDiscardLogger())
	api := client.New(client.Options{BaseURL: srv.URL, MaxConcurrent: 4}, tokens, utils.NewDiscardLogger())
	gw := newMemoryGateway()

	report := newTestCollector(land.NewFetcher(api, utils.NewDiscardLogger()), gw, 1, time.Second).
		Run(context.Background(), refs("2412345678"))

	require.Len(t, report.Listings, 1)
	assert.Equal(t, models.OutcomeRejectedFetch, report.Listings[0].Outcome)
	assert.Equal(t, "no section returned data", report.Listings[0].Cause)
	assert.False(t, gw.has("2412345678"))
}

func TestCollectorAuthErrorAbortsBatch(t *testing.T) {
	fetcher := fetchFunc(func(_ context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
		if ref.ArticleNo == "2" {
			return nil, &client.AuthError{Op: "refresh", Err: errors.New("token endpoint returned 403")}
		}
		return goodComposite(t, ref), nil
	})

	report := newTestCollector(fetcher, newMemoryGateway(), 1, time.Second).
		Run(context.Background(), refs("1", "2", "3", "4"))

	require.Len(t, report.Listings, 4)
	assert.True(t, report.Aborted)
	assert.Contains(t, report.AbortCause, "token endpoint returned 403")

	got := outcomes(report)
	assert.Contains(t, persistedOutcomes, got["1"].Outcome)
	assert.Equal(t, models.OutcomeRejectedFetch, got["2"].Outcome)
	for _, id := range []string{"3", "4"} {
		assert.Equal(t, models.OutcomeRejectedFetch, got[id].Outcome)
		assert.Equal(t, "batch aborted", got[id].Cause)
	}
}

func TestCollectorShutdownLetsInFlightFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return goodComposite(t, ref), nil
	})
	gw := newMemoryGateway()
	c := newTestCollector(fetcher, gw, 1, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *models.BatchReport)
	go func() { done <- c.Run(ctx, refs("1", "2")) }()

	<-started
	cancel()
	close(release)
	report := <-done

	require.Len(t, report.Listings, 2)
	got := outcomes(report)
	assert.Contains(t, persistedOutcomes, got["1"].Outcome)
	assert.True(t, gw.has("1"))
	assert.Equal(t, models.OutcomeRejectedFetch, got["2"].Outcome)
	assert.Equal(t, "batch aborted: shutdown before processing", got["2"].Cause)
	assert.False(t, report.Aborted)
}

func TestCollectorShutdownGraceCancelsStragglers(t *testing.T) {
	started := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, ref models.ListingRef) (*models.CompositeRawRecord, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := newTestCollector(fetcher, newMemoryGateway(), 1, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *models.BatchReport)
	go func() { done <- c.Run(ctx, refs("1")) }()

	<-started
	cancel()

	select {
	case report := <-done:
		require.Len(t, report.Listings, 1)
		assert.Equal(t, models.OutcomeRejectedFetch, report.Listings[0].Outcome)
		assert.Contains(t, report.Listings[0].Cause, context.Canceled.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not cancel in-flight work after the grace period")
	}
}

func TestFetchFailureClassification(t *testing.T) {
	ref := models.ListingRef{ArticleNo: "1"}

	lerr := fetchFailure(ref, nil, errors.New("boom"))
	require.NotNil(t, lerr)
	assert.Equal(t, models.StageFetch, lerr.Stage)

	c := models.NewCompositeRawRecord(ref)
	c.SetPresent(models.SectionDetail, models.RawSection{"a": 1})
	assert.Nil(t, fetchFailure(ref, c, nil), "partial composites are usable")

	c.SetAbsent(models.SectionPrice, models.KindRateLimit, nil)
	lerr = fetchFailure(ref, c, nil)
	require.NotNil(t, lerr)
	assert.Contains(t, lerr.Error(), "price")
}
