// Package subtitle parses SRT files and resolves which cue is active
// at a playhead position. The host runs the Engine, which samples the
// player position on an interval and broadcasts the active cue text to
// viewers; an empty broadcast clears the overlay.
package subtitle

import (
	"fmt"
	"strings"
	"time"
)

// Cue is one subtitle entry: visible from Start through End inclusive.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Cues is an ordered list of parsed cues.
type Cues []Cue

// ActiveAt returns the text visible at the given playhead position, or
// "" when no cue covers it. When cues overlap, the earliest one in
// file order wins.
func (c Cues) ActiveAt(at time.Duration) string {
	for _, cue := range c {
		if at >= cue.Start && at <= cue.End {
			return cue.Text
		}
	}
	return ""
}

// ActiveAtSeconds is ActiveAt for a playhead in seconds, the unit
// players report in.
func (c Cues) ActiveAtSeconds(seconds float64) string {
	return c.ActiveAt(time.Duration(seconds * float64(time.Second)))
}

// Parse reads SRT content: blank-line separated blocks of index line,
// time line, and one or more text lines joined with a space. Malformed
// blocks (too short, or an unparseable time line) are dropped silently;
// subtitle files in the wild are messy and a bad block should not sink
// the rest.
func Parse(data string) Cues {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.TrimPrefix(data, "\uFEFF")

	var cues Cues
	for _, block := range strings.Split(data, "\n\n") {
		lines := splitNonEmpty(block)
		if len(lines) < 3 {
			continue
		}
		start, end, err := parseTimeLine(lines[1])
		if err != nil {
			continue
		}
		cues = append(cues, Cue{
			Index: len(cues) + 1,
			Start: start,
			End:   end,
			Text:  strings.Join(lines[2:], " "),
		})
	}
	return cues
}

func splitNonEmpty(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, " \t")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// parseTimeLine parses "HH:MM:SS,mmm --> HH:MM:SS,mmm".
func parseTimeLine(line string) (start, end time.Duration, err error) {
	parts := strings.Split(line, " --> ")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time line %q", line)
	}
	if start, err = parseTimestamp(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, err
	}
	if end, err = parseTimestamp(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("cue ends before it starts: %q", line)
	}
	return start, end, nil
}

func parseTimestamp(s string) (time.Duration, error) {
	var h, m, sec, ms int
	if _, err := fmt.Sscanf(s, "%d:%d:%d,%d", &h, &m, &sec, &ms); err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	if m > 59 || sec > 59 || ms > 999 || h < 0 || m < 0 || sec < 0 || ms < 0 {
		return 0, fmt.Errorf("timestamp out of range %q", s)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}
