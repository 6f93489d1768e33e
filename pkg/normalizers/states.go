package normalizers

import "strings"

var stateCodes = map[string]string{
	"alabama":              "AL",
	"alaska":               "AK",
	"arizona":              "AZ",
	"arkansas":             "AR",
	"california":           "CA",
	"colorado":             "CO",
	"connecticut":          "CT",
	"delaware":             "DE",
	"district of columbia": "DC",
	"florida":              "FL",
	"georgia":              "GA",
	"hawaii":               "HI",
	"idaho":                "ID",
	"illinois":             "IL",
	"indiana":              "IN",
	"iowa":                 "IA",
	"kansas":               "KS",
	"kentucky":             "KY",
	"louisiana":            "LA",
	"maine":                "ME",
	"maryland":             "MD",
	"massachusetts":        "MA",
	"michigan":             "MI",
	"minnesota":            "MN",
	"mississippi":          "MS",
	"missouri":             "MO",
	"montana":              "MT",
	"nebraska":             "NE",
	"nevada":               "NV",
	"new hampshire":        "NH",
	"new jersey":           "NJ",
	"new mexico":           "NM",
	"new york":             "NY",
	"north carolina":       "NC",
	"north dakota":         "ND",
	"ohio":                 "OH",
	"oklahoma":             "OK",
	"oregon":               "OR",
	"pennsylvania":         "PA",
	"rhode island":         "RI",
	"south carolina":       "SC",
	"south dakota":         "SD",
	"tennessee":            "TN",
	"texas":                "TX",
	"utah":                 "UT",
	"vermont":              "VT",
	"virginia":             "VA",
	"washington":           "WA",
	"west virginia":        "WV",
	"wisconsin":            "WI",
	"wyoming":              "WY",
	"american samoa":       "AS",
	"guam":                 "GU",
	"puerto rico":          "PR",
	"virgin islands":       "VI",
}

var validCodes = func() map[string]string {
	codes := make(map[string]string, len(stateCodes))
	for name, code := range stateCodes {
		codes[code] = name
	}
	codes["MP"] = "northern mariana islands"
	return codes
}()

// NormalizeState returns the two-letter postal code for a state name or code.
// Unknown values are returned upper-cased and trimmed.
func NormalizeState(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "northern mariana islands" {
		return "MP"
	}
	if code, ok := stateCodes[key]; ok {
		return code
	}
	return strings.ToUpper(key)
}

// IsStateCode reports whether s is a known two-letter postal code
func IsStateCode(s string) bool {
	_, ok := validCodes[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

// StateFromOCDID extracts the postal code from an OCD division ID
// such as "ocd-division/country:us/state:ca/cd:12".
func StateFromOCDID(id string) string {
	for _, part := range strings.Split(id, "/") {
		if v, ok := strings.CutPrefix(part, "state:"); ok {
			return strings.ToUpper(v)
		}
		if v, ok := strings.CutPrefix(part, "district:"); ok && v == "dc" {
			return "DC"
		}
		if v, ok := strings.CutPrefix(part, "territory:"); ok {
			return strings.ToUpper(v)
		}
	}
	return ""
}
