// Package normalizer turns raw complaint records into canonical
// ComplaintRecord values and derives the fingerprints used as cache keys.
package normalizer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"zeroledger/internal/apperr"
	"zeroledger/internal/models"
)

// Normalize validates a raw record and returns its canonical form. Records
// with an unresolvable region are kept with region UnknownRegion.
func Normalize(raw models.RawRecord) (models.ComplaintRecord, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return models.ComplaintRecord{}, apperr.Validation("id", "missing complaint identifier")
	}

	narrative := strings.TrimSpace(raw.Narrative)
	if narrative == "" {
		return models.ComplaintRecord{}, apperr.Validation("narrative", fmt.Sprintf("complaint %s has an empty narrative", id))
	}

	return models.ComplaintRecord{
		ID:                  id,
		Narrative:           narrative,
		NormalizedNarrative: NormalizeText(narrative),
		SubmittedAt:         ParseDate(raw.DateReceived),
		Region:              ResolveRegion(raw.Region),
		Company:             strings.TrimSpace(raw.Company),
		Product:             strings.TrimSpace(raw.Product),
		SubIssue:            strings.TrimSpace(raw.SubIssue),
		Timely:              ParseTristate(raw.TimelyResponse),
	}, nil
}

// NormalizeText is the canonical text form used for fingerprinting: NFKC,
// case folded, whitespace collapsed to single spaces.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	// Caser values keep state, so one is built per call.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// ParseDate returns the zero time for empty or unparseable input.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ParseTristate reads a timely-response flag encoded as a string, bool or
// number.
func ParseTristate(v any) models.Tristate {
	switch x := v.(type) {
	case nil:
		return models.TristateUnknown
	case bool:
		return fromBool(x)
	case int:
		return fromBool(x != 0)
	case int64:
		return fromBool(x != 0)
	case float64:
		return fromBool(x != 0)
	case string:
		return parseTristateString(x)
	default:
		return models.TristateUnknown
	}
}

func parseTristateString(s string) models.Tristate {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "t", "timely":
		return models.TristateTrue
	case "no", "n", "false", "f", "untimely":
		return models.TristateFalse
	case "":
		return models.TristateUnknown
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return fromBool(f != 0)
	}
	return models.TristateUnknown
}

func fromBool(b bool) models.Tristate {
	if b {
		return models.TristateTrue
	}
	return models.TristateFalse
}
