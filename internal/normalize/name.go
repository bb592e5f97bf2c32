// Package normalize provides deterministic canonicalization of entity
// names and addresses into comparable keys and blocking buckets.
package normalize

import (
	"regexp"
	"strings"
)

// Business suffixes standardized to a single spelling.
var businessSuffixes = map[string]string{
	"LLC": "LLC", "L.L.C.": "LLC", "L.L.C": "LLC",
	"INC": "INC", "INC.": "INC", "INCORPORATED": "INC",
	"CORP": "CORP", "CORP.": "CORP", "CORPORATION": "CORP",
	"CO": "CO", "CO.": "CO", "COMPANY": "CO",
	"LTD": "LTD", "LTD.": "LTD", "LIMITED": "LTD",
	"LP": "LP", "L.P.": "LP",
	"LLP": "LLP", "L.L.P.": "LLP",
	"PLLC": "PLLC", "P.L.L.C.": "PLLC",
	"PC": "PC", "P.C.": "PC",
	"DBA": "DBA", "D/B/A": "DBA", "D.B.A.": "DBA",
}

// Filler words dropped during normalization (unless the name would
// become empty).
var fillerWords = map[string]bool{
	"THE": true, "OF": true, "AND": true, "FOR": true, "A": true, "AN": true,
}

// Common abbreviation expansions.
var abbreviations = map[string]string{
	"INTL":  "INTERNATIONAL",
	"INT'L": "INTERNATIONAL",
	"NATL":  "NATIONAL",
	"NAT'L": "NATIONAL",
	"SVCS":  "SERVICES",
	"SVC":   "SERVICE",
	"MGMT":  "MANAGEMENT",
	"MGT":   "MANAGEMENT",
	"ASSOC": "ASSOCIATES",
	"ASSN":  "ASSOCIATION",
	"GRP":   "GROUP",
	"SYS":   "SYSTEMS",
	"TECH":  "TECHNOLOGY",
	"TECHS": "TECHNOLOGIES",
	"GOVT":  "GOVERNMENT",
	"GOV":   "GOVERNMENT",
	"UNIV":  "UNIVERSITY",
	"HOSP":  "HOSPITAL",
	"MED":   "MEDICAL",
	"CTR":   "CENTER",
	"CNTR":  "CENTER",
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	punctRe      = regexp.MustCompile(`[.,;:!?"()\[\]{}]`)
	ampersandRe  = regexp.MustCompile(`\s*&\s*`)
)

// Name normalizes an entity name for matching purposes: uppercase,
// whitespace collapse, business-suffix standardization, abbreviation
// expansion, punctuation stripping and filler-word removal.
// Pure and deterministic; empty input yields empty output.
func Name(raw string) string {
	if raw == "" {
		return ""
	}

	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	normalized = ampersandRe.ReplaceAllString(normalized, " AND ")

	words := strings.Fields(normalized)
	for i, w := range words {
		if s, ok := businessSuffixes[w]; ok {
			words[i] = s
		} else if a, ok := abbreviations[w]; ok {
			words[i] = a
		}
	}
	normalized = strings.Join(words, " ")

	normalized = punctRe.ReplaceAllString(normalized, "")

	// Drop filler words, but never empty the whole name.
	words = strings.Fields(normalized)
	if len(words) > 1 {
		kept := words[:0]
		for _, w := range words {
			if !fillerWords[w] {
				kept = append(kept, w)
			}
		}
		if len(kept) > 0 {
			words = kept
		}
	}

	return strings.Join(words, " ")
}

// blockingKeyLen is the prefix length of the primary blocking key.
//
// Recall trade-off: two normalized names whose similarity clears the
// default thresholds (>=0.85) share a key unless the edit falls inside
// the first four characters AND reorders every leading token; the
// per-token keys recover reordered-word variants. Shorter keys widen
// buckets (more comparisons), longer keys drop more true pairs.
const blockingKeyLen = 4

// BlockingKeys returns the blocking bucket keys for a normalized name:
// the first four characters, the first four non-space characters, and
// one key per significant leading token.
func BlockingKeys(normalized string) []string {
	if normalized == "" {
		return nil
	}

	seen := make(map[string]bool, 4)
	keys := make([]string, 0, 4)
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	add(prefix(normalized, blockingKeyLen))
	add(prefix(strings.ReplaceAll(normalized, " ", ""), blockingKeyLen))

	for _, tok := range strings.Fields(normalized) {
		if len(tok) >= blockingKeyLen {
			add("t:" + prefix(tok, blockingKeyLen))
		}
	}

	return keys
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NameComponents is a structural split of a vendor name.
type NameComponents struct {
	BaseName string
	Suffix   string
	DBAName  string
}

var (
	dbaRe    = regexp.MustCompile(`\b(?:DBA|D/B/A|D\.B\.A\.)\s+(.+)$`)
	suffixRe = regexp.MustCompile(`\b(LLC|INC|CORP|CO|LTD|LP|LLP|PLLC|PC)\.?\s*$`)
)

// Components extracts the base name, business suffix and any trailing
// DBA name from a raw vendor name.
func Components(name string) NameComponents {
	c := NameComponents{BaseName: name}
	if name == "" {
		return c
	}

	upper := strings.ToUpper(name)

	if m := dbaRe.FindStringSubmatchIndex(upper); m != nil {
		c.DBAName = strings.TrimSpace(upper[m[2]:m[3]])
		upper = strings.TrimSpace(upper[:m[0]])
	}

	if m := suffixRe.FindStringSubmatchIndex(upper); m != nil {
		c.Suffix = upper[m[2]:m[3]]
		upper = strings.TrimSpace(upper[:m[0]])
	}

	c.BaseName = strings.TrimRight(upper, ",. ")
	return c
}

// NameVariants generates spelling variants used by the debarment check
// to catch near-miss registrations.
func NameVariants(name string) []string {
	normalized := Name(name)
	if normalized == "" {
		return nil
	}

	seen := map[string]bool{normalized: true}
	variants := []string{normalized}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	add(Components(normalized).BaseName)
	add(strings.ReplaceAll(normalized, " ", ""))

	if rest, ok := strings.CutPrefix(normalized, "THE "); ok {
		add(rest)
	} else {
		add("THE " + normalized)
	}

	return variants
}
