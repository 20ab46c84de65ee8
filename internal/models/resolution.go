package models

import "time"

// ResolutionStatus tells the presentation layer how a resolution was produced.
type ResolutionStatus string

const (
	ResolutionSuccess  ResolutionStatus = "success"
	ResolutionFallback ResolutionStatus = "fallback"
	ResolutionError    ResolutionStatus = "error"
)

// ResolutionRecord is a generated (or fallback) resolution suggestion.
type ResolutionRecord struct {
	Fingerprint string           `json:"fingerprint"`
	ComplaintID string           `json:"complaint_id,omitempty"`
	Label       string           `json:"label"`
	LabelName   string           `json:"label_name"`
	Text        string           `json:"text"`
	Status      ResolutionStatus `json:"status"`
	Provider    string           `json:"provider"`
	Model       string           `json:"model"`
	Attempts    int              `json:"attempts"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
