// Package compliance evaluates data-handling envelopes against a static
// category-keyed rule table and keeps a rolling audit log for reporting.
package compliance

import (
	"sort"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/models"
)

// Issue codes raised by the policy engine.
const (
	CodeMissingRequiredField  = "MISSING_REQUIRED_FIELD"
	CodeCrossBorderReview     = "CROSS_BORDER_REVIEW"
	CodeExplicitBasisRequired = "EXPLICIT_BASIS_REQUIRED"
	CodeRetentionProhibited   = "RETENTION_PROHIBITED"
)

// DefaultAuditLogCap bounds the rolling audit log; older records rotate out.
const DefaultAuditLogCap = 10000

// categoryRules lists the envelope fields each data category requires.
// The table is immutable after init.
var categoryRules = map[models.DataCategory][]string{
	models.CategoryPersonal:  {"consent_verified", "data_subject_rights", "processing_purpose"},
	models.CategoryFinancial: {"legal_basis", "processing_purpose"},
	models.CategorySecurity:  {"legal_basis"},
	// TELEMETRY and OPERATIONAL carry no category-specific requirements.
	models.CategoryTelemetry:   {},
	models.CategoryOperational: {},
}

type auditRecord struct {
	timestamp time.Time
	compliant bool
	codes     []string
}

// Engine verifies compliance envelopes. Safe for concurrent use; only the
// rolling audit log is guarded by the mutex, rule evaluation is lock-free.
type Engine struct {
	mu     sync.Mutex
	log    []auditRecord
	logCap int
}

// NewEngine creates a policy engine with the given audit log capacity.
// A capacity <= 0 uses DefaultAuditLogCap.
func NewEngine(logCap int) *Engine {
	if logCap <= 0 {
		logCap = DefaultAuditLogCap
	}
	return &Engine{logCap: logCap}
}

// Verify evaluates the envelope and returns whether it is compliant along
// with any issues found. Warning-level issues never block. Every call is
// recorded in the rolling audit log.
func (e *Engine) Verify(env *models.ComplianceEnvelope) (bool, []models.ValidationIssue) {
	var issues []models.ValidationIssue

	for _, field := range categoryRules[env.DataCategory] {
		if !envelopeFieldSet(env, field) {
			issues = append(issues, models.ValidationIssue{
				Code:     CodeMissingRequiredField,
				Message:  "category " + string(env.DataCategory) + " requires " + field,
				Severity: models.SeverityError,
				Field:    "envelope." + field,
			})
		}
	}

	// Cross-border movement of confidential or restricted data is flagged
	// for review but does not block, pending product clarification.
	if env.CrossBorderTransfer &&
		(env.Sensitivity == models.SensitivityConfidential || env.Sensitivity == models.SensitivityRestricted) {
		issues = append(issues, models.ValidationIssue{
			Code:     CodeCrossBorderReview,
			Message:  "cross-border transfer of " + string(env.Sensitivity) + " data requires additional safeguards",
			Severity: models.SeverityWarning,
			Field:    "envelope.cross_border_transfer",
		})
	}

	// Restricted data cannot ride on legitimate interest.
	if env.Sensitivity == models.SensitivityRestricted && env.LegalBasis == "legitimate_interest" {
		issues = append(issues, models.ValidationIssue{
			Code:     CodeExplicitBasisRequired,
			Message:  "RESTRICTED data requires an explicit legal basis",
			Severity: models.SeverityError,
			Field:    "envelope.legal_basis",
		})
	}

	// Personal data must not be kept indefinitely.
	if env.DataCategory == models.CategoryPersonal &&
		(env.RetentionPolicy == models.RetentionArchive || env.RetentionPolicy == models.RetentionPermanent) {
		issues = append(issues, models.ValidationIssue{
			Code:     CodeRetentionProhibited,
			Message:  "PERSONAL data cannot use " + string(env.RetentionPolicy) + " retention",
			Severity: models.SeverityError,
			Field:    "envelope.retention_policy",
		})
	}

	compliant := true
	codes := make([]string, 0, len(issues))
	for _, issue := range issues {
		codes = append(codes, issue.Code)
		if issue.Severity.Blocking() {
			compliant = false
		}
	}

	e.record(compliant, codes)
	return compliant, issues
}

func (e *Engine) record(compliant bool, codes []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log = append(e.log, auditRecord{
		timestamp: time.Now(),
		compliant: compliant,
		codes:     codes,
	})
	// Rotate the oldest half once the cap is hit, keeping rotation O(1)
	// amortized instead of shifting on every call.
	if len(e.log) > e.logCap {
		half := len(e.log) / 2
		e.log = append(e.log[:0:0], e.log[half:]...)
	}
}

// IssueCount pairs an issue code with its occurrence count.
type IssueCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Report summarizes the rolling audit log.
type Report struct {
	TotalChecks     int          `json:"total_checks"`
	CompliantChecks int          `json:"compliant_checks"`
	ComplianceRate  float64      `json:"compliance_rate"`
	TopIssues       []IssueCount `json:"top_issues,omitempty"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// Report computes aggregate compliance numbers over the rolling log.
func (e *Engine) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{
		TotalChecks: len(e.log),
		GeneratedAt: time.Now(),
	}

	counts := make(map[string]int)
	for _, rec := range e.log {
		if rec.compliant {
			report.CompliantChecks++
		}
		for _, code := range rec.codes {
			counts[code]++
		}
	}
	if report.TotalChecks > 0 {
		report.ComplianceRate = float64(report.CompliantChecks) / float64(report.TotalChecks)
	}

	for code, count := range counts {
		report.TopIssues = append(report.TopIssues, IssueCount{Code: code, Count: count})
	}
	sort.Slice(report.TopIssues, func(i, j int) bool {
		if report.TopIssues[i].Count != report.TopIssues[j].Count {
			return report.TopIssues[i].Count > report.TopIssues[j].Count
		}
		return report.TopIssues[i].Code < report.TopIssues[j].Code
	})
	if len(report.TopIssues) > 5 {
		report.TopIssues = report.TopIssues[:5]
	}

	return report
}

// envelopeFieldSet reports whether a required field carries a value.
func envelopeFieldSet(env *models.ComplianceEnvelope, field string) bool {
	switch field {
	case "consent_verified":
		return env.ConsentVerified
	case "data_subject_rights":
		return env.DataSubjectRights != ""
	case "processing_purpose":
		return env.ProcessingPurpose != ""
	case "legal_basis":
		return env.LegalBasis != ""
	}
	return true
}
