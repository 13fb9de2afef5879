package runtree

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// segmentTimeLayout is the second-resolution prefix of a segment timestamp.
	// Microseconds and the trailing "Z" are appended by FormatSegment.
	segmentTimeLayout = "20060102T150405"

	// segmentTimeLen is len("20060102T150405") + 6 microsecond digits + "Z".
	segmentTimeLen = 22

	// SegmentLen is the fixed length of a single dotted order segment.
	SegmentLen = segmentTimeLen + 36

	// SegmentSeparator joins the segments of a dotted order.
	SegmentSeparator = "."
)

// Segment is one level of a dotted order: the start time of a run and its id.
type Segment struct {
	Time  time.Time
	RunID uuid.UUID
}

// String renders the segment in its fixed-width sortable form.
func (s Segment) String() string {
	return FormatSegment(s.Time, s.RunID)
}

// Times a segment can render in its fixed four digit year form.
var (
	minSegmentTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxSegmentTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999000, time.UTC)
)

// InSegmentRange reports whether t can be rendered by FormatSegment.
func InSegmentRange(t time.Time) bool {
	return !t.Before(minSegmentTime) && !t.After(maxSegmentTime)
}

// FormatSegment renders t (UTC, microsecond precision) followed by id, e.g.
// "20250102T150405123456Z0192f0a4-3c1e-7d2a-9b1f-6a1e2c3d4e5f".
func FormatSegment(t time.Time, id uuid.UUID) string {
	t = t.UTC()
	var b strings.Builder
	b.Grow(SegmentLen)
	b.WriteString(t.Format(segmentTimeLayout))
	micros := strconv.Itoa(t.Nanosecond() / int(time.Microsecond))
	b.WriteString(strings.Repeat("0", 6-len(micros)))
	b.WriteString(micros)
	b.WriteByte('Z')
	b.WriteString(id.String())
	return b.String()
}

// ParseDottedOrder splits and validates a dotted order. Every segment must be in
// canonical form, so that lexicographic order of dotted orders matches tree order.
func ParseDottedOrder(dotted string) ([]Segment, error) {
	if dotted == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDottedOrder)
	}
	parts := strings.Split(dotted, SegmentSeparator)
	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d: %v", ErrInvalidDottedOrder, i, err)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func parseSegment(s string) (Segment, error) {
	if len(s) != SegmentLen {
		return Segment{}, fmt.Errorf("length %d, want %d", len(s), SegmentLen)
	}
	if s[segmentTimeLen-1] != 'Z' {
		return Segment{}, fmt.Errorf("missing timestamp terminator")
	}
	base, err := time.Parse(segmentTimeLayout, s[:len(segmentTimeLayout)])
	if err != nil {
		return Segment{}, fmt.Errorf("timestamp: %v", err)
	}
	micros, err := strconv.Atoi(s[len(segmentTimeLayout) : segmentTimeLen-1])
	if err != nil || micros < 0 {
		return Segment{}, fmt.Errorf("microseconds: %q", s[len(segmentTimeLayout):segmentTimeLen-1])
	}
	id, err := uuid.Parse(s[segmentTimeLen:])
	if err != nil {
		return Segment{}, fmt.Errorf("run id: %v", err)
	}
	seg := Segment{Time: base.Add(time.Duration(micros) * time.Microsecond), RunID: id}
	if seg.String() != s {
		return Segment{}, fmt.Errorf("not in canonical form")
	}
	return seg, nil
}

// childClock hands out strictly increasing start times for the children of a
// single parent. Two children created in the same microsecond, on any number of
// goroutines, never share a timestamp, so their segments sort in creation order.
type childClock struct {
	mu   sync.Mutex
	last time.Time
}

// next returns the first microsecond that is at or after candidate and strictly
// after both the previously issued time and floor.
func (c *childClock) next(candidate, floor time.Time) time.Time {
	t := candidate.UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !floor.IsZero() && !t.After(floor) {
		t = floor.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	if !c.last.IsZero() && !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
