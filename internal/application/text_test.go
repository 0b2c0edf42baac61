package application

import (
	"strings"
	"testing"
	"time"
)

func TestNewInviteCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := NewInviteCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != inviteCodeLength {
			t.Fatalf("expected %d characters, got %q", inviteCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(inviteCodeAlphabet, r) {
				t.Fatalf("unexpected character %q in %q", r, code)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("expected codes to vary, got %d distinct of 50", len(seen))
	}
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  Design Team  ":                    "Design Team",
		"<b>Bold</b> room":                   "Bold room",
		"<script>alert(1)</script>":          "",
		"Research &amp; Development":         "Research & Development",
		"Tom & Jerry":                        "Tom & Jerry",
		"<a href=\"https://x\">link</a> text": "link text",
	}
	for in, want := range tests {
		if got := cleanText(in); got != want {
			t.Fatalf("cleanText(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestDates(t *testing.T) {
	t.Parallel()

	day, err := ParseDate(" 2024-03-04 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if FormatDate(day) != "2024-03-04" {
		t.Fatalf("unexpected round trip %s", FormatDate(day))
	}
	if _, err := ParseDate("04/03/2024"); err == nil {
		t.Fatalf("expected malformed date to fail")
	}

	tokyo := time.FixedZone("JST", 9*60*60)
	late := time.Date(2024, 3, 4, 23, 30, 0, 0, tokyo)
	if got := normalizeDay(late); !got.Equal(day) {
		t.Fatalf("expected calendar day to be kept, got %s", got)
	}

	days := uniqueDays([]time.Time{day.AddDate(0, 0, 1), day, late})
	if len(days) != 2 || !days[0].Equal(day) {
		t.Fatalf("expected two sorted days, got %v", days)
	}

	if got := uniqueStrings([]string{" a", "b", "a", ""}); len(got) != 2 {
		t.Fatalf("expected deduplicated ids, got %v", got)
	}
}
