package availability

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Padded widens i by before on the left and after on the right.
func Padded(i Interval, before, after time.Duration) Interval {
	return Interval{Start: i.Start.Add(-before), End: i.End.Add(after)}
}

// Merge sorts intervals and coalesces the ones that overlap or touch.
func Merge(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), in...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start.Before(sorted[b].Start) })

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start.After(last.End) {
			out = append(out, iv)
			continue
		}
		if iv.End.After(last.End) {
			last.End = iv.End
		}
	}
	return out
}

// Slice cuts window into back-to-back slots of length d starting at the
// window start. A trailing remainder shorter than d is dropped.
func Slice(window Interval, d time.Duration) []Interval {
	if d <= 0 || !window.End.After(window.Start) {
		return nil
	}
	var out []Interval
	for t := window.Start; !t.Add(d).After(window.End); t = t.Add(d) {
		out = append(out, Interval{Start: t, End: t.Add(d)})
	}
	return out
}

// Aligned reports whether slot starts on the slicing grid of window.
func Aligned(window, slot Interval, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	return slot.Start.Sub(window.Start)%d == 0
}

// overlapsAny checks s against busy, which must be merged.
func overlapsAny(s Interval, busy []Interval) bool {
	// First busy interval ending after s starts.
	i := sort.Search(len(busy), func(i int) bool { return busy[i].End.After(s.Start) })
	return i < len(busy) && busy[i].Start.Before(s.End)
}

// FreeSlots slices window with duration d and keeps the slots that start
// strictly after notBefore and miss every busy interval. busy must be merged.
func FreeSlots(window Interval, d time.Duration, busy []Interval, notBefore time.Time) []Interval {
	var out []Interval
	for _, s := range Slice(window, d) {
		if !s.Start.After(notBefore) {
			continue
		}
		if overlapsAny(s, busy) {
			continue
		}
		out = append(out, s)
	}
	return out
}
