package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"land-collector/models"
)

// CSVWriter writes flattened canonical records to a CSV file, one row per
// persisted listing. It is safe for concurrent use.
type CSVWriter struct {
	mu         sync.Mutex
	file       *os.File
	writer     *csv.Writer
	facilities []string
	columns    []string
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Facility columns follow the configured names.
// Intermediate directories are created automatically.
func NewCSVWriter(path string, facilities []string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	facilities = append([]string(nil), facilities...)
	sort.Strings(facilities)
	columns := RecordColumns(facilities)

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w, facilities: facilities, columns: columns}, nil
}

// RecordColumns is the stable column order of the flat record mapping.
func RecordColumns(facilities []string) []string {
	cols := []string{models.FieldListingID}
	rec := &models.CanonicalPropertyRecord{}
	add := func(name string) { cols = append(cols, name, name+"__provenance") }
	for _, f := range rec.TextFields() {
		add(f.Name)
	}
	for _, f := range rec.MoneyFields() {
		add(f.Name)
	}
	for _, f := range rec.FloatFields() {
		add(f.Name)
	}
	for _, f := range rec.CountFields() {
		add(f.Name)
	}
	cols = append(cols, "location_enriched", "photo_count", "description")
	for _, name := range facilities {
		cols = append(cols, "facility_"+name)
	}
	return append(cols, "warnings")
}

// Persist appends one flattened record.
func (c *CSVWriter) Persist(_ context.Context, rec *models.CanonicalPropertyRecord, vr models.ValidationResult) error {
	flat := rec.Flatten()
	for _, name := range c.facilities {
		if _, ok := flat["facility_"+name]; !ok {
			flat["facility_"+name] = false
		}
	}
	warnings := vr.BySeverity(models.SeverityWarning)
	rules := make([]string, 0, len(warnings))
	for _, v := range warnings {
		rules = append(rules, v.Field+":"+v.Rule)
	}
	flat["warnings"] = strings.Join(rules, ";")

	row := make([]string, len(c.columns))
	for i, col := range c.columns {
		row[i] = formatCell(flat[col])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.Write(row); err != nil {
		return fmt.Errorf("csv: write row: %w", err)
	}
	c.writer.Flush()
	return c.writer.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}

// WriteReportCSV writes one row per listing outcome of a batch report.
func WriteReportCSV(path string, report *models.BatchReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"batch_id", "listing", "outcome", "stage", "cause", "sections_present", "violations"}); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, l := range report.Listings {
		present := ""
		if l.Tally != nil {
			present = strconv.Itoa(len(l.Tally.Present))
		}
		vs := make([]string, 0, len(l.Violations))
		for _, v := range l.Violations {
			vs = append(vs, fmt.Sprintf("%s:%s:%s", v.Severity, v.Field, v.Rule))
		}
		row := []string{report.ID, l.Ref.String(), string(l.Outcome), l.Stage, l.Cause, present, strings.Join(vs, ";")}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
