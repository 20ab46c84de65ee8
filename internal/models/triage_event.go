package models

import "time"

// EventKind distinguishes audit entries.
type EventKind string

const (
	EventClassification EventKind = "classification"
	EventResolution     EventKind = "resolution"
)

// TriageEvent is one row of the audit trail.
type TriageEvent struct {
	ID          int64     `json:"id" db:"id"`
	ComplaintID string    `json:"complaint_id" db:"complaint_id"`
	Kind        EventKind `json:"kind" db:"kind"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Label       string    `json:"label" db:"label"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Model       string    `json:"model" db:"model"`
	Detail      string    `json:"detail,omitempty" db:"detail"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ClassificationEvent builds the audit entry for a classification.
func ClassificationEvent(c *ClassificationResult) TriageEvent {
	return TriageEvent{
		ComplaintID: c.ComplaintID,
		Kind:        EventClassification,
		Fingerprint: c.Fingerprint,
		Label:       c.Label,
		Outcome:     string(c.Decision),
		Confidence:  c.Confidence,
		Model:       c.Model + "@" + c.ModelVersion,
		Detail:      c.RawLabel,
	}
}

// ResolutionEvent builds the audit entry for a resolution.
func ResolutionEvent(r *ResolutionRecord) TriageEvent {
	return TriageEvent{
		ComplaintID: r.ComplaintID,
		Kind:        EventResolution,
		Fingerprint: r.Fingerprint,
		Label:       r.Label,
		Outcome:     string(r.Status),
		Model:       r.Provider + "/" + r.Model,
		Detail:      r.Error,
	}
}
