package models

import "time"

// Tristate is a yes/no answer that may be missing from the source data.
type Tristate int

const (
	TristateUnknown Tristate = iota
	TristateTrue
	TristateFalse
)

func (t Tristate) String() string {
	switch t {
	case TristateTrue:
		return "true"
	case TristateFalse:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalText keeps the tri-state readable in JSON payloads.
func (t Tristate) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the values produced by MarshalText.
func (t *Tristate) UnmarshalText(b []byte) error {
	switch string(b) {
	case "true":
		*t = TristateTrue
	case "false":
		*t = TristateFalse
	default:
		*t = TristateUnknown
	}
	return nil
}

// RawRecord is a complaint as delivered by the corpus source, before
// normalization. TimelyResponse is left untyped because sources encode it as
// strings, booleans or numbers.
type RawRecord struct {
	ID             string `json:"id"`
	Narrative      string `json:"narrative"`
	DateReceived   string `json:"date_received"`
	Region         string `json:"state"`
	Company        string `json:"company"`
	Product        string `json:"product"`
	SubIssue       string `json:"sub_issue"`
	TimelyResponse any    `json:"timely_response"`
}

// ComplaintRecord is the canonical, immutable form of a complaint.
type ComplaintRecord struct {
	Seq                 int64     `json:"-" db:"seq"`
	ID                  string    `json:"id" db:"id"`
	Narrative           string    `json:"narrative" db:"narrative"`
	NormalizedNarrative string    `json:"-" db:"normalized_narrative"`
	SubmittedAt         time.Time `json:"submitted_at" db:"submitted_at"`
	Region              string    `json:"region" db:"region"`
	Company             string    `json:"company" db:"company"`
	Product             string    `json:"product" db:"product"`
	SubIssue            string    `json:"sub_issue,omitempty" db:"sub_issue"`
	Timely              Tristate  `json:"timely" db:"timely"`
}
