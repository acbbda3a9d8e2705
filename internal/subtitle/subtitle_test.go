package subtitle

import (
	"testing"
	"time"
)

const sampleSRT = `1
00:00:03,000 --> 00:00:05,000
Hello

2
00:00:07,000 --> 00:00:09,500
World
on two lines

3
00:00:12,000 --> 00:00:14,000
Goodbye
`

func TestParse(t *testing.T) {
	cues := Parse(sampleSRT)
	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %d", len(cues))
	}
	if cues[0].Start != 3*time.Second || cues[0].End != 5*time.Second {
		t.Errorf("cue 1 times wrong: %v -> %v", cues[0].Start, cues[0].End)
	}
	if cues[0].Text != "Hello" {
		t.Errorf("cue 1 text = %q", cues[0].Text)
	}
	if cues[1].Text != "World on two lines" {
		t.Errorf("cue 2 text = %q", cues[1].Text)
	}
	if cues[1].End != 9*time.Second+500*time.Millisecond {
		t.Errorf("cue 2 end = %v", cues[1].End)
	}
}

func TestParseCRLF(t *testing.T) {
	crlf := "1\r\n00:00:01,000 --> 00:00:02,000\r\nHi\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,000\r\nBye\r\n"
	cues := Parse(crlf)
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	if cues[0].Text != "Hi" || cues[1].Text != "Bye" {
		t.Errorf("unexpected texts: %q, %q", cues[0].Text, cues[1].Text)
	}
}

func TestParseDropsMalformedBlocks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"block too short", "1\n00:00:01,000 --> 00:00:02,000\n\n2\n00:00:03,000 --> 00:00:04,000\nOK\n", 1},
		{"bad time separator", "1\n00:00:01,000 -> 00:00:02,000\nHi\n\n2\n00:00:03,000 --> 00:00:04,000\nOK\n", 1},
		{"unparseable timestamp", "1\nnot:a:time,000 --> 00:00:02,000\nHi\n", 0},
		{"end before start", "1\n00:00:05,000 --> 00:00:02,000\nHi\n", 0},
		{"empty input", "", 0},
		{"minutes out of range", "1\n00:99:01,000 --> 00:99:02,000\nHi\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(Parse(tt.input)); got != tt.want {
				t.Fatalf("got %d cues, want %d", got, tt.want)
			}
		})
	}
}

func TestActiveAt(t *testing.T) {
	cues := Parse(sampleSRT)
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, ""},
		{2.99, ""},
		{3.0, "Hello"},
		{4.2, "Hello"},
		{5.0, "Hello"},
		{5.01, ""},
		{7.0, "World on two lines"},
		{9.5, "World on two lines"},
		{10.0, ""},
		{12.0, "Goodbye"},
		{14.0, "Goodbye"},
		{20.0, ""},
	}
	for _, tt := range tests {
		if got := cues.ActiveAtSeconds(tt.seconds); got != tt.want {
			t.Errorf("ActiveAtSeconds(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestParseIdempotent(t *testing.T) {
	first := Parse(sampleSRT)
	second := Parse(sampleSRT)
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("cue %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTwoCueBroadcastScenario(t *testing.T) {
	srt := "1\n00:00:00,000 --> 00:00:05,000\nHello\n\n2\n00:00:10,000 --> 00:00:15,000\nWorld\n"
	cues := Parse(srt)
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	checks := []struct {
		seconds float64
		want    string
	}{
		{3, "Hello"},
		{7, ""},
		{12, "World"},
	}
	for _, c := range checks {
		if got := cues.ActiveAtSeconds(c.seconds); got != c.want {
			t.Errorf("at %vs got %q, want %q", c.seconds, got, c.want)
		}
	}
}

func TestActiveAtOverlapFirstWins(t *testing.T) {
	overlapping := "1\n00:00:01,000 --> 00:00:10,000\nfirst\n\n2\n00:00:05,000 --> 00:00:08,000\nsecond\n"
	cues := Parse(overlapping)
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	if got := cues.ActiveAtSeconds(6); got != "first" {
		t.Fatalf("overlap resolution: got %q, want %q", got, "first")
	}
}

func TestActiveAtEmptyCues(t *testing.T) {
	var cues Cues
	if got := cues.ActiveAtSeconds(5); got != "" {
		t.Fatalf("empty cue set returned %q", got)
	}
}
