package threat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gatewarden/gatewarden/internal/models"
)

const (
	// Timestamp sanity bounds relative to the gateway clock.
	maxTimestampPast   = 7 * 24 * time.Hour
	maxTimestampFuture = 5 * time.Minute

	// Magnitudes beyond this are flagged as suspect, not rejected.
	maxMetricMagnitude = 1e15
)

// Detector scans requests against the pattern library and performs
// structural and numeric sanity checks. It is a pure function over the
// immutable compiled library; safe for concurrent use without locking.
type Detector struct {
	lib    *Library
	strict bool
	now    func() time.Time
}

// NewDetector creates a detector over the given library. In strict mode
// prompt/SQL/command injection hits are CRITICAL; otherwise they degrade to
// WARNING. XSS is always ERROR.
func NewDetector(lib *Library, strict bool) *Detector {
	return &Detector{lib: lib, strict: strict, now: time.Now}
}

// Validate scans every free-text field of the request and returns the
// aggregated result. The request is invalid iff any issue is ERROR or
// CRITICAL.
func (d *Detector) Validate(req *models.IngestionRequest) *models.ValidationResult {
	result := &models.ValidationResult{
		Issues:     []models.ValidationIssue{},
		AuditTrail: d.correlationHash(req.Metadata.SourceID),
	}

	d.checkStructure(req, result)

	for i, m := range req.Metrics {
		d.scanMetric(i, m, result)
	}
	for i, l := range req.Logs {
		d.scanLog(i, l, result)
	}
	for i, e := range req.Events {
		d.scanEvent(i, e, result)
	}

	result.IsValid = true
	for _, issue := range result.Issues {
		if issue.Severity.Blocking() {
			result.IsValid = false
			break
		}
	}
	return result
}

// BatchFilter is the outcome of per-item validation for batch requests.
// Structure holds blocking structural issues (the whole batch is rejected
// when non-empty); Dropped carries exactly one blocking issue per excluded
// item; the payload slices hold the items that remain eligible for
// forwarding.
type BatchFilter struct {
	Metrics []models.MetricPoint
	Logs    []models.LogRecord
	Events  []models.EventRecord

	Structure  []models.ValidationIssue
	Dropped    []models.ValidationIssue
	Warnings   []string
	AuditTrail string
}

// FilterItems validates each payload item of a batch independently. A
// structural problem still rejects the whole request, but an item whose
// content fails validation is dropped on its own while the remaining items
// stay forwardable.
func (d *Detector) FilterItems(req *models.IngestionRequest) *BatchFilter {
	f := &BatchFilter{AuditTrail: d.correlationHash(req.Metadata.SourceID)}

	structure := &models.ValidationResult{}
	d.checkStructure(req, structure)
	if f.Structure = structure.Blocking(); len(f.Structure) > 0 {
		return f
	}

	for i, m := range req.Metrics {
		item := &models.ValidationResult{}
		d.scanMetric(i, m, item)
		f.Warnings = append(f.Warnings, item.Warnings()...)
		if blocking := item.Blocking(); len(blocking) > 0 {
			f.Dropped = append(f.Dropped, blocking[0])
			continue
		}
		f.Metrics = append(f.Metrics, m)
	}

	for i, l := range req.Logs {
		item := &models.ValidationResult{}
		d.scanLog(i, l, item)
		f.Warnings = append(f.Warnings, item.Warnings()...)
		if blocking := item.Blocking(); len(blocking) > 0 {
			f.Dropped = append(f.Dropped, blocking[0])
			continue
		}
		f.Logs = append(f.Logs, l)
	}

	for i, e := range req.Events {
		item := &models.ValidationResult{}
		d.scanEvent(i, e, item)
		f.Warnings = append(f.Warnings, item.Warnings()...)
		if blocking := item.Blocking(); len(blocking) > 0 {
			f.Dropped = append(f.Dropped, blocking[0])
			continue
		}
		f.Events = append(f.Events, e)
	}

	return f
}

func (d *Detector) scanMetric(i int, m models.MetricPoint, result *models.ValidationResult) {
	field := fmt.Sprintf("metrics[%d]", i)
	d.scanText(m.Name, field+".name", result)
	for key, value := range m.Labels {
		d.scanText(value, fmt.Sprintf("%s.labels[%s]", field, key), result)
	}
	d.checkNumeric(m.Value, field+".value", result)
}

func (d *Detector) scanLog(i int, l models.LogRecord, result *models.ValidationResult) {
	field := fmt.Sprintf("logs[%d]", i)
	d.scanText(l.Message, field+".message", result)
	if l.Exception != "" {
		d.scanText(l.Exception, field+".exception", result)
	}
	if len(l.Context) > 0 {
		d.scanJSON(l.Context, field+".context", result)
	}
}

func (d *Detector) scanEvent(i int, e models.EventRecord, result *models.ValidationResult) {
	field := fmt.Sprintf("events[%d]", i)
	d.scanText(e.Type, field+".type", result)
	d.scanText(e.Title, field+".title", result)
	d.scanText(e.Description, field+".description", result)
	if len(e.Payload) > 0 {
		d.scanJSON(e.Payload, field+".payload", result)
	}
}

func (d *Detector) checkStructure(req *models.IngestionRequest, result *models.ValidationResult) {
	if !sourceIDPattern.MatchString(req.Metadata.SourceID) {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeSourceIDInvalid,
			Message:  "source_id does not match the identifier pattern",
			Severity: models.SeverityError,
			Field:    "metadata.source_id",
		})
	}

	now := d.now()
	ts := req.Metadata.Timestamp
	if ts.IsZero() {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeTimestampOutOfRange,
			Message:  "timestamp is required",
			Severity: models.SeverityError,
			Field:    "metadata.timestamp",
		})
	} else if ts.Before(now.Add(-maxTimestampPast)) || ts.After(now.Add(maxTimestampFuture)) {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeTimestampOutOfRange,
			Message:  "timestamp outside the accepted window",
			Severity: models.SeverityError,
			Field:    "metadata.timestamp",
			Details: map[string]string{
				"timestamp": ts.UTC().Format(time.RFC3339),
			},
		})
	}
}

// scanText checks one free-text field against all injection families and
// sensitive-data classes. One issue per matching family, first pattern wins.
func (d *Detector) scanText(text, field string, result *models.ValidationResult) {
	if text == "" {
		return
	}

	for _, family := range familyOrder {
		if !d.lib.matchFamily(family, text) {
			continue
		}
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     familyCodes[family],
			Message:  fmt.Sprintf("potential %s detected", familyLabel(family)),
			Severity: d.injectionSeverity(family),
			Field:    field,
		})
	}

	for _, class := range d.lib.matchSensitive(text) {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeSensitiveData,
			Message:  fmt.Sprintf("possible %s exposure; consider redaction", class),
			Severity: models.SeverityWarning,
			Field:    field,
			Details:  map[string]string{"class": string(class)},
		})
	}
}

// scanJSON serializes structured context/payload values and scans the
// rendered document, catching attacks embedded in nested values.
func (d *Detector) scanJSON(value map[string]any, field string, result *models.ValidationResult) {
	data, err := json.Marshal(value)
	if err != nil {
		// Unserializable payloads cannot be inspected; reject rather than
		// pass unscanned content through.
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeNumericInvalid,
			Message:  "context contains values that cannot be serialized for inspection",
			Severity: models.SeverityError,
			Field:    field,
		})
		return
	}
	d.scanText(string(data), field, result)
}

func (d *Detector) checkNumeric(value float64, field string, result *models.ValidationResult) {
	switch {
	case math.IsNaN(value) || math.IsInf(value, 0):
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeNumericInvalid,
			Message:  "metric value is NaN or Infinity",
			Severity: models.SeverityError,
			Field:    field,
		})
	case math.Abs(value) > maxMetricMagnitude:
		result.Issues = append(result.Issues, models.ValidationIssue{
			Code:     CodeNumericSuspect,
			Message:  "metric value magnitude exceeds plausible range",
			Severity: models.SeverityWarning,
			Field:    field,
		})
	}
}

// injectionSeverity implements the strict-mode escalation: prompt, SQL and
// command injection are CRITICAL in strict mode and WARNING otherwise; XSS
// is always ERROR.
func (d *Detector) injectionSeverity(family Family) models.IssueSeverity {
	if family == FamilyXSS {
		return models.SeverityError
	}
	if d.strict {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

// correlationHash ties this validation to the audit log without recording
// payload content: truncated SHA-256 over source and validation time.
func (d *Detector) correlationHash(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID + d.now().UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

func familyLabel(f Family) string {
	switch f {
	case FamilyPromptInjection:
		return "prompt injection"
	case FamilySQLInjection:
		return "SQL injection"
	case FamilyXSS:
		return "cross-site scripting"
	case FamilyCommandInjection:
		return "command injection"
	}
	return string(f)
}
