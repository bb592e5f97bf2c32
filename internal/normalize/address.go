package normalize

import (
	"regexp"
	"strings"
)

// ParsedAddress holds normalized address components.
type ParsedAddress struct {
	Street     string
	City       string
	State      string
	Zip        string
	Normalized string
}

// Street type abbreviations.
var streetTypes = map[string]string{
	"AVENUE": "AVE", "AVE": "AVE",
	"BOULEVARD": "BLVD", "BLVD": "BLVD",
	"CIRCLE": "CIR", "CIR": "CIR",
	"COURT": "CT", "CT": "CT",
	"DRIVE": "DR", "DR": "DR",
	"EXPRESSWAY": "EXPY", "EXPY": "EXPY",
	"FREEWAY": "FWY", "FWY": "FWY",
	"HIGHWAY": "HWY", "HWY": "HWY",
	"LANE": "LN", "LN": "LN",
	"PARKWAY": "PKWY", "PKWY": "PKWY",
	"PLACE": "PL", "PL": "PL",
	"ROAD": "RD", "RD": "RD",
	"STREET": "ST", "ST": "ST",
	"TERRACE": "TER", "TER": "TER",
	"TRAIL": "TRL", "TRL": "TRL",
	"WAY": "WAY",
}

// Directional abbreviations.
var directions = map[string]string{
	"NORTH": "N", "SOUTH": "S", "EAST": "E", "WEST": "W",
	"NORTHEAST": "NE", "NORTHWEST": "NW",
	"SOUTHEAST": "SE", "SOUTHWEST": "SW",
	"N": "N", "S": "S", "E": "E", "W": "W",
	"NE": "NE", "NW": "NW", "SE": "SE", "SW": "SW",
}

// Unit type abbreviations.
var unitTypes = map[string]string{
	"APARTMENT": "APT", "APT": "APT",
	"BUILDING": "BLDG", "BLDG": "BLDG",
	"FLOOR": "FL", "FL": "FL",
	"SUITE": "STE", "STE": "STE",
	"UNIT": "UNIT",
	"ROOM": "RM", "RM": "RM",
	"#": "UNIT",
}

var (
	poBoxRe    = regexp.MustCompile(`\bP\.?O\.?\s*BOX\b`)
	nonDigitRe = regexp.MustCompile(`[^\d]`)
	zipTailRe  = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\s*$`)
	stateTailRe = regexp.MustCompile(`\b([A-Z]{2})\s*$`)
)

// Address normalizes an address from its components. All transforms are
// pure and deterministic; entirely empty input yields a zero value.
func Address(street, city, state, zip string) ParsedAddress {
	if street == "" && city == "" && state == "" && zip == "" {
		return ParsedAddress{}
	}

	p := ParsedAddress{
		Street: normalizeStreet(street),
		City:   strings.ToUpper(strings.TrimSpace(city)),
		State:  normalizeState(state),
		Zip:    normalizeZip(zip),
	}
	p.Normalized = joinNonEmpty(p.Street, p.City, p.State, p.Zip)
	return p
}

// ParseAddress normalizes a single full-address string, extracting zip,
// state and city components where they can be recognized.
func ParseAddress(full string) ParsedAddress {
	if full == "" {
		return ParsedAddress{}
	}

	s := strings.ToUpper(strings.TrimSpace(full))
	s = whitespaceRe.ReplaceAllString(s, " ")

	var p ParsedAddress

	if m := zipTailRe.FindStringSubmatchIndex(s); m != nil {
		p.Zip = s[m[2]:m[3]]
		s = strings.TrimSpace(s[:m[0]])
	}
	if m := stateTailRe.FindStringSubmatchIndex(s); m != nil {
		p.State = s[m[2]:m[3]]
		s = strings.TrimSpace(s[:m[0]])
	}
	s = strings.TrimSpace(strings.TrimRight(s, ","))

	if i := strings.LastIndex(s, ","); i >= 0 {
		p.Street = normalizeStreet(s[:i])
		p.City = strings.TrimSpace(s[i+1:])
	} else {
		p.Street = normalizeStreet(s)
	}

	p.Normalized = joinNonEmpty(p.Street, p.City, p.State, p.Zip)
	return p
}

func normalizeStreet(street string) string {
	if street == "" {
		return ""
	}

	s := strings.ToUpper(strings.TrimSpace(street))
	s = whitespaceRe.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	for i, w := range words {
		if v, ok := streetTypes[w]; ok {
			words[i] = v
		} else if v, ok := directions[w]; ok {
			words[i] = v
		} else if v, ok := unitTypes[w]; ok {
			words[i] = v
		}
	}

	s = strings.ReplaceAll(strings.Join(words, " "), ".", "")
	return poBoxRe.ReplaceAllString(s, "PO BOX")
}

// State abbreviations recognized in source data.
var stateAbbrevs = map[string]string{
	"TEXAS":      "TX",
	"OKLAHOMA":   "OK",
	"NEW MEXICO": "NM",
	"ARKANSAS":   "AR",
	"LOUISIANA":  "LA",
}

func normalizeState(state string) string {
	s := strings.ToUpper(strings.TrimSpace(state))
	if s == "" {
		return ""
	}
	if len(s) == 2 {
		return s
	}
	if abbr, ok := stateAbbrevs[s]; ok {
		return abbr
	}
	if len(s) > 2 {
		return s[:2]
	}
	return s
}

func normalizeZip(zip string) string {
	digits := nonDigitRe.ReplaceAllString(zip, "")
	if len(digits) >= 5 {
		return digits[:5]
	}
	return digits
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
