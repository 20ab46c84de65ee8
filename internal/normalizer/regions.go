package normalizer

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// UnknownRegion is assigned when a region string cannot be resolved. It is
// never part of the canonical enumeration.
const UnknownRegion = "UNKNOWN"

// Region is one canonical region code.
type Region struct {
	Code string
	Name string
}

// canonicalRegions is the documented enumeration consumed by the map: the 50
// US states plus the District of Columbia, keyed by USPS code.
var canonicalRegions = []Region{
	{"AK", "Alaska"}, {"AL", "Alabama"}, {"AR", "Arkansas"}, {"AZ", "Arizona"},
	{"CA", "California"}, {"CO", "Colorado"}, {"CT", "Connecticut"},
	{"DC", "District of Columbia"}, {"DE", "Delaware"}, {"FL", "Florida"},
	{"GA", "Georgia"}, {"HI", "Hawaii"}, {"IA", "Iowa"}, {"ID", "Idaho"},
	{"IL", "Illinois"}, {"IN", "Indiana"}, {"KS", "Kansas"}, {"KY", "Kentucky"},
	{"LA", "Louisiana"}, {"MA", "Massachusetts"}, {"MD", "Maryland"},
	{"ME", "Maine"}, {"MI", "Michigan"}, {"MN", "Minnesota"}, {"MO", "Missouri"},
	{"MS", "Mississippi"}, {"MT", "Montana"}, {"NC", "North Carolina"},
	{"ND", "North Dakota"}, {"NE", "Nebraska"}, {"NH", "New Hampshire"},
	{"NJ", "New Jersey"}, {"NM", "New Mexico"}, {"NV", "Nevada"},
	{"NY", "New York"}, {"OH", "Ohio"}, {"OK", "Oklahoma"}, {"OR", "Oregon"},
	{"PA", "Pennsylvania"}, {"RI", "Rhode Island"}, {"SC", "South Carolina"},
	{"SD", "South Dakota"}, {"TN", "Tennessee"}, {"TX", "Texas"}, {"UT", "Utah"},
	{"VA", "Virginia"}, {"VT", "Vermont"}, {"WA", "Washington"},
	{"WI", "Wisconsin"}, {"WV", "West Virginia"}, {"WY", "Wyoming"},
}

// regionAliases holds traditional abbreviations and misspellings seen in
// complaint exports. Keys are lower case with punctuation stripped.
var regionAliases = map[string]string{
	"ala": "AL", "ariz": "AZ", "ark": "AR", "calif": "CA", "cal": "CA",
	"colo": "CO", "conn": "CT", "del": "DE", "fla": "FL", "ill": "IL",
	"ind": "IN", "kan": "KS", "kans": "KS", "mass": "MA", "mich": "MI",
	"minn": "MN", "miss": "MS", "mont": "MT", "neb": "NE", "nebr": "NE",
	"nev": "NV", "okla": "OK", "ore": "OR", "penn": "PA", "penna": "PA",
	"tenn": "TN", "tex": "TX", "wash": "WA", "wis": "WI", "wisc": "WI",
	"wyo": "WY", "wva": "WV", "w va": "WV", "n dak": "ND", "s dak": "SD",
	"washington dc": "DC", "washington d c": "DC", "d c": "DC",
	"pensylvania": "PA", "pennsilvania": "PA", "massachusets": "MA",
	"massachussetts": "MA", "conneticut": "CT", "connecticutt": "CT",
	"missisippi": "MS", "mississipi": "MS", "tennesee": "TN", "tennessee state": "TN",
	"illinios": "IL", "cailfornia": "CA", "californa": "CA", "flordia": "FL",
	"lousiana": "LA", "louisianna": "LA", "new yrok": "NY", "arkansaw": "AR",
}

// minFuzzyLength keeps the edit-distance fallback away from short inputs,
// where a distance of two matches almost anything.
const minFuzzyLength = 6

// maxFuzzyDistance is the largest edit distance accepted by the fallback.
const maxFuzzyDistance = 2

var (
	regionByCode = make(map[string]Region, len(canonicalRegions))
	regionByName = make(map[string]string, len(canonicalRegions))
)

func init() {
	for _, r := range canonicalRegions {
		regionByCode[r.Code] = r
		regionByName[strings.ToLower(r.Name)] = r.Code
	}
}

// Regions returns the canonical enumeration sorted by code. The slice is a
// copy and may be modified by the caller.
func Regions() []Region {
	out := make([]Region, len(canonicalRegions))
	copy(out, canonicalRegions)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// RegionName returns the display name for a canonical code.
func RegionName(code string) (string, bool) {
	r, ok := regionByCode[code]
	return r.Name, ok
}

// ResolveRegion maps a free-form region string onto a canonical code, falling
// back to UnknownRegion.
func ResolveRegion(raw string) string {
	key := regionKey(raw)
	if key == "" {
		return UnknownRegion
	}

	if len(key) == 2 {
		if _, ok := regionByCode[strings.ToUpper(key)]; ok {
			return strings.ToUpper(key)
		}
	}
	if code, ok := regionByName[key]; ok {
		return code
	}
	if code, ok := regionAliases[key]; ok {
		return code
	}
	return fuzzyRegion(key)
}

// fuzzyRegion returns the single closest state name within maxFuzzyDistance.
// Ties between two different states resolve to UnknownRegion.
func fuzzyRegion(key string) string {
	if len(key) < minFuzzyLength {
		return UnknownRegion
	}

	best, bestDist, tied := "", maxFuzzyDistance+1, false
	for name, code := range regionByName {
		d := levenshtein.Distance(key, name, nil)
		switch {
		case d < bestDist:
			best, bestDist, tied = code, d, false
		case d == bestDist && code != best:
			tied = true
		}
	}
	if best == "" || tied {
		return UnknownRegion
	}
	return best
}

// regionKey lower-cases the input, turns punctuation into spaces and collapses
// whitespace so "Calif." and "calif" share a key.
func regionKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
