package normalize

import (
	"reflect"
	"testing"
)

func TestName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Empty", "", ""},
		{"Simple", "acme paving", "ACME PAVING"},
		{"SuffixComma", "Acme Paving, LLC", "ACME PAVING LLC"},
		{"SuffixSpelledOut", "Vista Landscaping Incorporated", "VISTA LANDSCAPING INC"},
		{"SuffixDotted", "Lone Star Co.", "LONE STAR CO"},
		{"Ampersand", "Smith & Jones Intl", "SMITH JONES INTERNATIONAL"},
		{"FillerWords", "The University of Texas", "UNIVERSITY TEXAS"},
		{"WhitespaceCollapse", "  Lone   Star  Mgmt  ", "LONE STAR MANAGEMENT"},
		{"Abbreviations", "Apex Tech Svcs", "APEX TECHNOLOGY SERVICES"},
		{"OnlyFillerWordSurvives", "The", "THE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.in); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNameDeterministic(t *testing.T) {
	in := "The Acme Paving & Grading Co., Inc."
	first := Name(in)
	for i := 0; i < 10; i++ {
		if got := Name(in); got != first {
			t.Fatalf("Name is not deterministic: %q vs %q", got, first)
		}
	}
}

func TestBlockingKeys(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if keys := BlockingKeys(""); keys != nil {
			t.Errorf("expected nil, got %v", keys)
		}
	})

	t.Run("PrefixAndTokens", func(t *testing.T) {
		keys := BlockingKeys("ACME PAVING LLC")
		want := []string{"ACME", "t:ACME", "t:PAVI"}
		if !reflect.DeepEqual(keys, want) {
			t.Errorf("BlockingKeys = %v, want %v", keys, want)
		}
	})

	t.Run("ReorderedTokensShareAKey", func(t *testing.T) {
		a := BlockingKeys("LONE STAR PAVING")
		b := BlockingKeys("STAR PAVING LONE")

		set := make(map[string]bool)
		for _, k := range a {
			set[k] = true
		}
		shared := false
		for _, k := range b {
			if set[k] {
				shared = true
				break
			}
		}
		if !shared {
			t.Errorf("expected reordered names to share a blocking key: %v vs %v", a, b)
		}
	})

	t.Run("ShortName", func(t *testing.T) {
		keys := BlockingKeys("AB")
		if len(keys) == 0 {
			t.Error("expected at least the prefix key for short names")
		}
	})
}

func TestComponents(t *testing.T) {
	t.Run("SuffixAndDBA", func(t *testing.T) {
		c := Components("Acme Paving LLC dba Quick Pave")
		if c.BaseName != "ACME PAVING" {
			t.Errorf("base name = %q", c.BaseName)
		}
		if c.Suffix != "LLC" {
			t.Errorf("suffix = %q", c.Suffix)
		}
		if c.DBAName != "QUICK PAVE" {
			t.Errorf("dba = %q", c.DBAName)
		}
	})

	t.Run("NoSuffix", func(t *testing.T) {
		c := Components("Acme Paving")
		if c.BaseName != "ACME PAVING" || c.Suffix != "" || c.DBAName != "" {
			t.Errorf("unexpected components: %+v", c)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		c := Components("")
		if c.BaseName != "" {
			t.Errorf("expected zero value, got %+v", c)
		}
	})
}

func TestNameVariants(t *testing.T) {
	variants := NameVariants("The Acme Co")

	want := map[string]bool{
		"ACME CO":     true, // normalized (filler dropped)
		"ACME":        true, // base without suffix
		"ACMECO":      true, // spaceless
		"THE ACME CO": true, // re-prefixed
	}
	if len(variants) != len(want) {
		t.Fatalf("expected %d variants, got %v", len(want), variants)
	}
	for _, v := range variants {
		if !want[v] {
			t.Errorf("unexpected variant %q", v)
		}
	}

	if variants[0] != "ACME CO" {
		t.Errorf("normalized form must come first, got %q", variants[0])
	}

	if NameVariants("") != nil {
		t.Error("expected nil for empty name")
	}
}
