package shipping

import "strings"

const DefaultCountry = "GB"

var countrySynonyms = map[string]string{
	"UK":                       "GB",
	"U.K.":                     "GB",
	"UNITED KINGDOM":           "GB",
	"GREAT BRITAIN":            "GB",
	"BRITAIN":                  "GB",
	"ENGLAND":                  "GB",
	"SCOTLAND":                 "GB",
	"WALES":                    "GB",
	"NORTHERN IRELAND":         "GB",
	"IRELAND":                  "IE",
	"REPUBLIC OF IRELAND":      "IE",
	"EIRE":                     "IE",
	"UNITED STATES":            "US",
	"UNITED STATES OF AMERICA": "US",
	"USA":                      "US",
}

// NormalizeCountry maps a free-text country to an ISO 3166 alpha-2 code. Unknown or empty values become GB.
func NormalizeCountry(raw string) string {
	v := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	if v == "" {
		return DefaultCountry
	}
	if code, ok := countrySynonyms[v]; ok {
		return code
	}
	if len(v) == 2 && isLetters(v) {
		return v
	}
	return DefaultCountry
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
