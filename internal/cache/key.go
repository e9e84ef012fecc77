package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Params are the logical parameters of a fetch. Values are rendered with
// fmt.Sprint when deriving a key.
type Params map[string]any

const (
	PrefixSearch     = "search"
	PrefixAIResponse = "ai-response"

	promptKeyLimit = 100
)

// DeriveKey builds "prefix:k1:v1|k2:v2" with parameters sorted by name, so
// the result does not depend on map iteration order.
func DeriveKey(prefix string, params Params) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ":" + fmt.Sprint(params[name])
	}
	return prefix + ":" + strings.Join(parts, "|")
}

// QuantizeCoord rounds a coordinate to 3 decimals, roughly a 111 m cell.
func QuantizeCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func LocationPrefix(dataType string) string {
	return "location-" + dataType
}

func LocationKey(lat, lng float64, dataType string) string {
	return DeriveKey(LocationPrefix(dataType), locationParams(lat, lng))
}

func locationParams(lat, lng float64) Params {
	return Params{"lat": QuantizeCoord(lat), "lng": QuantizeCoord(lng)}
}

// NormalizeQuery lowercases and trims a search query. Casers are stateful,
// so one is built per call.
func NormalizeQuery(query string) string {
	return strings.TrimSpace(cases.Lower(language.Und).String(query))
}

func SearchKey(query string) string {
	return DeriveKey(PrefixSearch, searchParams(query))
}

func searchParams(query string) Params {
	return Params{"query": NormalizeQuery(query)}
}

func AIKey(prompt, userMode, lang string) string {
	return DeriveKey(PrefixAIResponse, aiParams(prompt, userMode, lang))
}

func aiParams(prompt, userMode, lang string) Params {
	return Params{
		"prompt":   truncate(prompt, promptKeyLimit),
		"userMode": userMode,
		"language": normalizeLanguage(lang),
	}
}

// truncate keeps the first n UTF-16 code units of s, so a key built here
// matches one built by a client that slices JavaScript strings. A surrogate
// pair split at the boundary decodes to U+FFFD.
func truncate(s string, n int) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= n {
		return s
	}
	return string(utf16.Decode(units[:n]))
}

// normalizeLanguage canonicalizes BCP 47 tags so "EN" and "en" share a key.
// Unparseable input is kept verbatim.
func normalizeLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	return tag.String()
}

// Hash is a 32-bit string hash over UTF-16 code units (h = h*31 + c),
// rendered in decimal. It is stable across processes and used to redact keys.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return strconv.FormatInt(int64(h), 10)
}
