package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"land-collector/models"
	"land-collector/utils"
)

type ReportService struct {
	logger *utils.Logger
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger}
}

// Generate aggregates a batch report into outcome, section, provenance and
// violation counts.
func (s *ReportService) Generate(r *models.BatchReport) *models.ReportSummary {
	sum := &models.ReportSummary{
		ByOutcome:       make(map[models.Outcome]int),
		SectionPresent:  make(map[models.SectionName]int),
		SectionAbsent:   make(map[models.SectionName]int),
		FieldProvenance: make(map[string]map[models.Provenance]int),
	}
	if r == nil {
		return sum
	}

	sum.Total = len(r.Listings)
	rules := make(map[string]int)

	for _, l := range r.Listings {
		sum.ByOutcome[l.Outcome]++
		if l.Tally != nil {
			for _, name := range l.Tally.Present {
				sum.SectionPresent[name]++
			}
			for name := range l.Tally.Absent {
				sum.SectionAbsent[name]++
			}
		}
		for field, tag := range l.Provenance {
			if sum.FieldProvenance[field] == nil {
				sum.FieldProvenance[field] = make(map[models.Provenance]int)
			}
			sum.FieldProvenance[field][tag]++
		}
		for _, v := range l.Violations {
			rules[v.Rule]++
		}
	}

	for rule, n := range rules {
		sum.TopViolations = append(sum.TopViolations, models.RuleCount{Rule: rule, Count: n})
	}
	sort.Slice(sum.TopViolations, func(i, j int) bool {
		a, b := sum.TopViolations[i], sum.TopViolations[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Rule < b.Rule
	})
	if len(sum.TopViolations) > 5 {
		sum.TopViolations = sum.TopViolations[:5]
	}

	return sum
}

func (s *ReportService) Print(w io.Writer, r *models.BatchReport, sum *models.ReportSummary) {
	sep := strings.Repeat("═", 58)
	thin := strings.Repeat("─", 58)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🏠 LISTING COLLECTION REPORT\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Batch             : %s\n", r.ID)
	fmt.Fprintf(w, "  Listings reported : \033[1m%d\033[0m\n", sum.Total)
	fmt.Fprintf(w, "  Duplicates        : %d\n", len(r.Duplicates))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration          : %v\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	if r.Aborted {
		fmt.Fprintf(w, "  \033[1;31mAborted           : %s\033[0m\n", truncate(r.AbortCause, 60))
	}
	fmt.Fprintln(w)

	// Outcomes
	fmt.Fprintf(w, "\033[1;33m  Outcomes\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, o := range models.Outcomes {
		n := sum.ByOutcome[o]
		colour := "32"
		if strings.HasPrefix(string(o), "rejected") {
			colour = "31"
		}
		fmt.Fprintf(w, "  %-30s \033[1;%sm%d\033[0m\n", o, colour, n)
	}
	fmt.Fprintln(w)

	// Sections
	fmt.Fprintf(w, "\033[1;33m  Sections (present / absent)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, name := range models.Sections {
		bar := strings.Repeat("█", sum.SectionPresent[name])
		fmt.Fprintf(w, "  %-10s %4d / %-4d %s\n", name, sum.SectionPresent[name], sum.SectionAbsent[name], truncate(bar, 30))
	}
	fmt.Fprintln(w)

	// Provenance
	fmt.Fprintf(w, "\033[1;33m  Field Provenance (structured / fallback / unresolved)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(sum.FieldProvenance) == 0 {
		fmt.Fprintf(w, "  No normalized records\n")
	} else {
		fields := make([]string, 0, len(sum.FieldProvenance))
		for f := range sum.FieldProvenance {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			c := sum.FieldProvenance[f]
			fmt.Fprintf(w, "  %-26s %4d / %4d / %4d\n", f,
				c[models.FromStructuredField], c[models.FromTextFallback], c[models.Unresolved])
		}
	}
	fmt.Fprintln(w)

	// Top violations
	fmt.Fprintf(w, "\033[1;33m  Top Violations\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(sum.TopViolations) == 0 {
		fmt.Fprintf(w, "  No violations\n")
	}
	for i, rc := range sum.TopViolations {
		fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s %d\n", i+1, truncate(rc.Rule, 38), rc.Count)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
