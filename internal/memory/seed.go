package memory

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Seed kind tags. The digit is the seed layout version.
const (
	conceptSeedTag = "c1"
	triggerSeedTag = "t1"
	episodeSeedTag = "e1"
)

// Truncation contracts of the seed format.
const (
	seedIDLen          = 8
	maxEssenceLen      = 80
	maxTokenLen        = 50
	seedContextHashLen = 16
	seedEdges          = 3
	seedEpisodeConcept = 10
	noAttribution      = "none"
)

const (
	fieldSep = "|"
	listSep  = ","
	edgeSep  = ";"
	pairSep  = ":"
)

var (
	fieldEscaper = strings.NewReplacer(
		"%", "%25",
		"|", "%7C",
		";", "%3B",
		":", "%3A",
		",", "%2C",
	)
	fieldUnescaper = strings.NewReplacer(
		"%25", "%",
		"%7C", "|",
		"%3B", ";",
		"%3A", ":",
		"%2C", ",",
	)
)

func escapeField(s string) string   { return fieldEscaper.Replace(s) }
func unescapeField(s string) string { return fieldUnescaper.Replace(s) }

// truncateRunes cuts s to at most n runes without splitting a code point.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func shortID(id string) string { return truncateRunes(id, seedIDLen) }

func formatFixed(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// splitSeed checks the kind tag and field count and returns the raw
// (still escaped) fields after the tag.
func splitSeed(seed, tag string, fields int) ([]string, error) {
	parts := strings.Split(seed, fieldSep)
	if parts[0] != tag {
		return nil, fmt.Errorf("%w: expected %s seed, got tag %q", ErrMalformedSeed, tag, parts[0])
	}
	if len(parts) != fields+1 {
		return nil, fmt.Errorf("%w: %s seed has %d fields, want %d", ErrMalformedSeed, tag, len(parts)-1, fields)
	}
	return parts[1:], nil
}

// splitList decodes a comma separated id list. An empty field is an empty list.
func splitList(field string) []string {
	if field == "" {
		return nil
	}
	raw := strings.Split(field, listSep)
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = unescapeField(r)
	}
	return out
}

func joinList(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = escapeField(shortID(id))
	}
	return strings.Join(parts, listSep)
}

func parseFloatField(name, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrMalformedSeed, name, v, err)
	}
	return f, nil
}
