package models

// DataCategory classifies the payload for data-handling policy purposes.
type DataCategory string

const (
	CategoryPersonal    DataCategory = "PERSONAL"
	CategoryTelemetry   DataCategory = "TELEMETRY"
	CategoryOperational DataCategory = "OPERATIONAL"
	CategorySecurity    DataCategory = "SECURITY"
	CategoryFinancial   DataCategory = "FINANCIAL"
)

// Sensitivity grades how tightly the payload must be handled.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "PUBLIC"
	SensitivityInternal     Sensitivity = "INTERNAL"
	SensitivityConfidential Sensitivity = "CONFIDENTIAL"
	SensitivityRestricted   Sensitivity = "RESTRICTED"
)

// RetentionPolicy declares how long the payload may be kept.
type RetentionPolicy string

const (
	RetentionEphemeral RetentionPolicy = "EPHEMERAL"
	RetentionShortTerm RetentionPolicy = "SHORT_TERM"
	RetentionStandard  RetentionPolicy = "STANDARD"
	RetentionArchive   RetentionPolicy = "ARCHIVE"
	RetentionPermanent RetentionPolicy = "PERMANENT"
)

// ComplianceEnvelope declares the legal and handling constraints attached to
// a request. Category-specific required fields are enforced by the policy
// engine's rule table.
type ComplianceEnvelope struct {
	DataCategory        DataCategory    `json:"data_category"`
	Sensitivity         Sensitivity     `json:"sensitivity"`
	RetentionPolicy     RetentionPolicy `json:"retention_policy"`
	LegalBasis          string          `json:"legal_basis,omitempty"`
	CrossBorderTransfer bool            `json:"cross_border_transfer"`
	ConsentVerified     bool            `json:"consent_verified"`
	DataSubjectRights   string          `json:"data_subject_rights,omitempty"`
	ProcessingPurpose   string          `json:"processing_purpose,omitempty"`
}
