package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// Fingerprint derives the cache key for a request: the caller-supplied
// key verbatim when present, otherwise a sha256 over the normalized URL
// plus the sorted query and form pairs. Sorting makes the key
// insensitive to parameter ordering while staying sensitive to content.
func Fingerprint(req Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}

	h := sha256.New()
	h.Write([]byte(normalizeURL(req.URL)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalPairs(req.Query)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalPairs(req.Form)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeURL(raw string) string {
	normalized, err := purell.NormalizeURLString(
		raw,
		purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagSortQuery,
	)
	if err != nil {
		return raw
	}
	return normalized
}

func canonicalPairs(pairs []Pair) string {
	if len(pairs) == 0 {
		return ""
	}
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].Value < sorted[j].Value
	})

	var out strings.Builder
	for i, p := range sorted {
		if i > 0 {
			out.WriteByte('&')
		}
		out.WriteString(url.QueryEscape(p.Key))
		out.WriteByte('=')
		out.WriteString(url.QueryEscape(p.Value))
	}
	return out.String()
}

// encodePairs renders pairs as an application/x-www-form-urlencoded
// body preserving the given order, unlike url.Values which sorts keys.
func encodePairs(pairs []Pair) string {
	var out strings.Builder
	for i, p := range pairs {
		if i > 0 {
			out.WriteByte('&')
		}
		out.WriteString(url.QueryEscape(p.Key))
		out.WriteByte('=')
		out.WriteString(url.QueryEscape(p.Value))
	}
	return out.String()
}
