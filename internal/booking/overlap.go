package booking

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the two intervals share any instant. Touching
// endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Conflicts reports whether candidate overlaps any of the provider's slots
// that still occupy the timeline. Cancelled slots are ignored. Callers are
// expected to pass slots of a single provider and a well-formed candidate.
func Conflicts(providerSlots []Slot, candidate Interval) bool {
	for _, s := range providerSlots {
		if s.Status == SlotCancelled {
			continue
		}
		if s.Interval().Overlaps(candidate) {
			return true
		}
	}
	return false
}
