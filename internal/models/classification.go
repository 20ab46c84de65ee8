package models

import "time"

// NeedsReviewLabel is the reserved label assigned to abstained classifications.
const NeedsReviewLabel = "NEEDS_REVIEW"

// Decision is the outcome of the confidence policy.
type Decision string

const (
	DecisionAccepted  Decision = "accepted"
	DecisionAbstained Decision = "abstained"
)

// Label is one entry of the fixed sub-issue enumeration.
type Label struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Policy   string `json:"-" yaml:"policy"`
	Fallback string `json:"-" yaml:"fallback"`
}

// ClassificationResult is the router's answer for one narrative.
type ClassificationResult struct {
	Fingerprint  string    `json:"fingerprint"`
	ComplaintID  string    `json:"complaint_id,omitempty"`
	Label        string    `json:"label"`
	LabelName    string    `json:"label_name"`
	RawLabel     string    `json:"raw_label,omitempty"`
	Confidence   float64   `json:"confidence"`
	Model        string    `json:"model"`
	ModelVersion string    `json:"model_version"`
	Decision     Decision  `json:"decision"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// Accepted reports whether the result may be passed to the orchestrator.
func (c *ClassificationResult) Accepted() bool {
	return c != nil && c.Decision == DecisionAccepted
}
