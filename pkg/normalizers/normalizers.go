// Package normalizers provides the value normalization used for matching and dedup keys
package normalizers

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds the normalizers keyed by the field or contact type they apply to
var registry = make(map[string]Normalizer)

func init() {
	Register("name", NormalizeName)
	Register("party", NormalizeParty)
	Register("email", NormalizeEmail)
	Register("phone", NormalizePhone)
	Register("website", NormalizeURL)
	Register("address", NormalizeAddress)
	Register("handle", NormalizeHandle)
	Register("platform", NormalizePlatform)
	Register("state", NormalizeState)
	Register("district", NormalizeDistrict)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names fall back to lowercase+trim.
func Apply(name, value string) string {
	fn, ok := registry[name]
	if !ok {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return fn(value)
}

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	nameSuffixes = []string{"jr", "sr", "ii", "iii", "iv", "phd", "md"}
	stripMarks   = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// StripDiacritics removes combining marks ("Peña" -> "Pena")
func StripDiacritics(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName normalizes a person's name for matching:
// lowercase, strip diacritics and punctuation, collapse whitespace, drop generational suffixes.
func NormalizeName(s string) string {
	s = strings.ToLower(StripDiacritics(s))

	var result strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == ',':
			result.WriteRune(' ')
		}
	}

	fields := strings.Fields(result.String())
	for len(fields) > 1 && isNameSuffix(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func isNameSuffix(s string) bool {
	for _, suffix := range nameSuffixes {
		if s == suffix {
			return true
		}
	}
	return false
}

// DisplayName turns registry-style "LAST, FIRST MIDDLE" names into "First Middle Last".
// Names without a comma are only trimmed and whitespace-collapsed.
func DisplayName(s string) string {
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	parts := strings.SplitN(s, ",", 2)
	if len(parts) == 2 {
		last := strings.TrimSpace(parts[0])
		rest := strings.TrimSpace(parts[1])
		suffix := ""
		if idx := strings.LastIndex(rest, ","); idx >= 0 {
			suffix = strings.TrimSpace(rest[idx+1:])
			rest = strings.TrimSpace(rest[:idx])
		}
		if rest != "" {
			s = rest + " " + last
			if suffix != "" {
				s += " " + suffix
			}
		}
	}
	if s == strings.ToUpper(s) {
		s = titleCase(s)
	}
	return s
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		for j := 1; j < len(r); j++ {
			if r[j-1] == '-' || r[j-1] == '\'' {
				r[j] = unicode.ToUpper(r[j])
			}
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

var partyAliases = map[string]string{
	"d":           "Democratic",
	"dem":         "Democratic",
	"democrat":    "Democratic",
	"democratic":  "Democratic",
	"r":           "Republican",
	"rep":         "Republican",
	"gop":         "Republican",
	"republican":  "Republican",
	"i":           "Independent",
	"id":          "Independent",
	"ind":         "Independent",
	"independent": "Independent",
	"nonpartisan": "Nonpartisan",
	"npa":         "Independent",
	"l":           "Libertarian",
	"lib":         "Libertarian",
	"libertarian": "Libertarian",
	"g":           "Green",
	"gre":         "Green",
	"green":       "Green",
	"dfl":         "Democratic-Farmer-Labor",
	"progressive": "Progressive",
}

// NormalizeParty maps abbreviations and long forms onto one canonical party label
func NormalizeParty(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimSuffix(key, " party")
	key = strings.Trim(key, "() ")
	key = strings.ReplaceAll(key, "-", " ")
	key = spaceRe.ReplaceAllString(key, " ")
	if key == "" {
		return ""
	}
	if key == "democratic farmer labor" {
		key = "dfl"
	}
	if label, ok := partyAliases[key]; ok {
		return label
	}
	return titleCase(key)
}

// NormalizePhone keeps digits only and drops a leading US country code
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		return digits[1:]
	}
	return digits
}

// NormalizeEmail normalizes an email address (lowercase, trim, drop mailto:)
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "mailto:")
}

// NormalizeURL lowercases the URL and drops the scheme, "www." and trailing slashes
func NormalizeURL(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{"https://", "http://", "www."} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.TrimRight(s, "/")
}

var platformAliases = map[string]string{
	"twitter":   "twitter",
	"x":         "twitter",
	"facebook":  "facebook",
	"fb":        "facebook",
	"youtube":   "youtube",
	"instagram": "instagram",
	"ig":        "instagram",
	"bluesky":   "bluesky",
	"threads":   "threads",
	"linkedin":  "linkedin",
	"tiktok":    "tiktok",
	"mastodon":  "mastodon",
}

// NormalizePlatform maps platform names and aliases onto one key
func NormalizePlatform(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if p, ok := platformAliases[key]; ok {
		return p
	}
	return key
}

var handleURLPrefix = regexp.MustCompile(`^(https?://)?(www\.|m\.)?(twitter\.com|x\.com|facebook\.com|instagram\.com|youtube\.com|tiktok\.com|threads\.net|bsky\.app/profile)/`)

// NormalizeHandle lowercases a social handle and strips "@" and profile URL prefixes
func NormalizeHandle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = handleURLPrefix.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "@")
	if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeDistrict drops leading zeros from numeric districts and lowercases the rest.
// At-large seats normalize to "at-large".
func NormalizeDistrict(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return ""
	case "at large", "at-large", "al":
		return "at-large"
	}
	if DigitsOnly(s) == s {
		trimmed := strings.TrimLeft(s, "0")
		if trimmed == "" {
			return "at-large"
		}
		return trimmed
	}
	return s
}

// NormalizeAddress normalizes an address string
func NormalizeAddress(s string) string {
	s = strings.ToLower(StripDiacritics(s))
	s = strings.NewReplacer(",", " ", ".", " ", "#", " ").Replace(s)
	s = " " + spaceRe.ReplaceAllString(s, " ") + " "

	replacements := []struct{ full, abbr string }{
		{" street ", " st "},
		{" avenue ", " ave "},
		{" boulevard ", " blvd "},
		{" drive ", " dr "},
		{" road ", " rd "},
		{" building ", " bldg "},
		{" suite ", " ste "},
		{" room ", " rm "},
		{" north ", " n "},
		{" south ", " s "},
		{" east ", " e "},
		{" west ", " w "},
		{" northwest ", " nw "},
		{" southeast ", " se "},
	}
	for _, r := range replacements {
		for strings.Contains(s, r.full) {
			s = strings.ReplaceAll(s, r.full, r.abbr)
		}
	}

	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
