package date

import (
	"fmt"
	"iter"
)

// Range represents an inclusive range of dates.
type Range struct{ From, To Date }

// NewRange returns the range [from, to]. It panics if to is before from.
func NewRange(from, to Date) Range {
	if to.Before(from) {
		panic(fmt.Sprintf("invalid range: %s is before %s", to, from))
	}
	return Range{From: from, To: to}
}

// Contains returns true if the date is included in the range (boundaries included).
func (r Range) Contains(d Date) bool { return !d.Before(r.From) && !d.After(r.To) }

// Len returns the number of days in the range.
func (r Range) Len() int {
	n := 0
	for d := r.From; !d.After(r.To); d = d.Add(1) {
		n++
	}
	return n
}

// Days returns an iterator over every day in the range, in chronological
// order, boundaries included. This is the backbone of dense daily series:
// a day appears exactly once whether or not anything happened on it.
func (r Range) Days() iter.Seq[Date] {
	return func(yield func(Date) bool) {
		for d := r.From; !d.After(r.To); d = d.Add(1) {
			if !yield(d) {
				return
			}
		}
	}
}

// String formats the range in its standard form.
func (r Range) String() string { return fmt.Sprintf("%s..%s", r.From, r.To) }
