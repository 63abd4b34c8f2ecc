package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-collector/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func column(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func TestCSVWriterPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	w, err := NewCSVWriter(path, []string{"parking", "elevator"})
	require.NoError(t, err)

	rec := &models.CanonicalPropertyRecord{
		ListingID:  "2412345678",
		DealPrice:  models.Structured(int64(530000000), "price.dealPrice"),
		SupplyArea: models.Fallback(192.28, "area_supply_m2"),
		Facilities: map[string]bool{"parking": true},
		PhotoURLs:  []string{"a", "b"},
	}
	vr := models.ValidationResult{Violations: []models.Violation{
		{Field: models.FieldLatitude, Rule: "coordinate_unresolved", Severity: models.SeverityWarning},
	}}
	require.NoError(t, w.Persist(context.Background(), rec, vr))
	require.NoError(t, w.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	header, row := rows[0], rows[1]

	get := func(name string) string {
		i := column(header, name)
		require.GreaterOrEqual(t, i, 0, "missing column %s", name)
		return row[i]
	}
	assert.Equal(t, "2412345678", get(models.FieldListingID))
	assert.Equal(t, "530000000", get(models.FieldDealPrice))
	assert.Equal(t, "from_structured_field", get("deal_price__provenance"))
	assert.Equal(t, "192.28", get(models.FieldSupplyArea))
	assert.Equal(t, "from_text_fallback", get("supply_area__provenance"))
	assert.Equal(t, "", get(models.FieldDeposit))
	assert.Equal(t, "unresolved", get("deposit__provenance"))
	assert.Equal(t, "true", get("facility_parking"))
	assert.Equal(t, "false", get("facility_elevator"))
	assert.Equal(t, "2", get("photo_count"))
	assert.Equal(t, "latitude:coordinate_unresolved", get("warnings"))
}

func TestRecordColumnsStable(t *testing.T) {
	a := RecordColumns([]string{"cctv"})
	b := RecordColumns([]string{"cctv"})
	assert.Equal(t, a, b)
	assert.Equal(t, models.FieldListingID, a[0])
	assert.Equal(t, "warnings", a[len(a)-1])
}

func TestWriteReportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	report := &models.BatchReport{
		ID: "batch-1",
		Listings: []models.ListingOutcome{
			{Ref: models.ListingRef{ArticleNo: "1"}, Outcome: models.OutcomePersisted, Stage: models.StagePersist,
				Tally: &models.SectionTally{Present: []models.SectionName{models.SectionDetail}}},
			{Ref: models.ListingRef{ArticleNo: "2", ComplexNo: "9"}, Outcome: models.OutcomeRejectedValidation,
				Stage: models.StageValidate, Cause: "bad area",
				Violations: []models.Violation{{Field: "supply_area", Rule: "area_out_of_range", Severity: models.SeverityFatal}}},
		},
	}
	require.NoError(t, WriteReportCSV(path, report))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"batch-1", "1", "persisted", "persist", "", "1", ""}, rows[1])
	assert.Equal(t, "2:9", rows[2][1])
	assert.Equal(t, "fatal:supply_area:area_out_of_range", rows[2][6])
}
