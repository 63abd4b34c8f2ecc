package models

import "time"

type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Violation is a single failed check on a canonical record.
type Violation struct {
	Field    string
	Rule     string
	Severity Severity
	Detail   string
}

// ValidationResult is the structured outcome of validating one record.
type ValidationResult struct {
	Violations []Violation
}

// Fatal reports whether any violation forbids persisting the record.
func (v ValidationResult) Fatal() bool {
	for _, viol := range v.Violations {
		if viol.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

func (v ValidationResult) HasWarnings() bool {
	for _, viol := range v.Violations {
		if viol.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

func (v ValidationResult) BySeverity(s Severity) []Violation {
	var out []Violation
	for _, viol := range v.Violations {
		if viol.Severity == s {
			out = append(out, viol)
		}
	}
	return out
}

// Outcome is the final disposition of one submitted identifier.
type Outcome string

const (
	OutcomePersisted             Outcome = "persisted"
	OutcomePersistedWithWarnings Outcome = "persisted-with-warnings"
	OutcomeRejectedValidation    Outcome = "rejected: validation"
	OutcomeRejectedFetch         Outcome = "rejected: fetch-failure"
	OutcomeRejectedPersistence   Outcome = "rejected: persistence-failure"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomePersisted,
	OutcomePersistedWithWarnings,
	OutcomeRejectedValidation,
	OutcomeRejectedFetch,
	OutcomeRejectedPersistence,
}

// Pipeline stages named in listing outcomes.
const (
	StageFetch     = "fetch"
	StageNormalize = "normalize"
	StageValidate  = "validate"
	StagePersist   = "persist"
)

// ListingOutcome is one row of a batch report.
type ListingOutcome struct {
	Ref        ListingRef
	Outcome    Outcome
	Stage      string
	Cause      string
	Violations []Violation
	Tally      *SectionTally
	Provenance map[string]Provenance
}

// BatchReport accounts for every identifier submitted to one run.
type BatchReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Listings   []ListingOutcome
	Duplicates []string
	Aborted    bool
	AbortCause string
}

// ReportSummary holds aggregate counts over a batch report.
type ReportSummary struct {
	Total           int
	ByOutcome       map[Outcome]int
	SectionPresent  map[SectionName]int
	SectionAbsent   map[SectionName]int
	FieldProvenance map[string]map[Provenance]int
	TopViolations   []RuleCount
}

type RuleCount struct {
	Rule  string
	Count int
}
