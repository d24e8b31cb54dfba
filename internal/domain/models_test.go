package domain

import (
	"testing"
	"time"
)

func TestFormatClock(t *testing.T) {
	cases := map[time.Duration]string{
		0:                                      "00:00:00",
		59 * time.Second:                       "00:00:59",
		61 * time.Minute:                       "01:01:00",
		25*time.Hour + 3*time.Second:           "25:00:03",
		-5 * time.Second:                       "00:00:00",
		90*time.Minute + 1500*time.Millisecond: "01:30:01",
	}
	for in, want := range cases {
		if got := FormatClock(in); got != want {
			t.Fatalf("FormatClock(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestCombinedCodeAppendsHarness(t *testing.T) {
	p := Problem{Harness: map[Language]string{LanguageJavaScript: "main();"}}
	if got := p.CombinedCode("function main(){}", LanguageJavaScript); got != "function main(){}\nmain();" {
		t.Fatalf("unexpected combined code %q", got)
	}
	if got := p.CombinedCode("print(1)", LanguageLua); got != "print(1)" {
		t.Fatalf("expected code unchanged without harness, got %q", got)
	}
}
