// Package delta turns cumulative output snapshots into incremental chunks.
package delta

import "iter"

// Accumulator remembers how much of the output has already been emitted.
// Each snapshot is expected to extend its predecessor.
type Accumulator struct {
	seen    int
	content string
}

// Next returns the part of snapshot beyond what was already emitted. ok is
// false when there is nothing new.
func (a *Accumulator) Next(snapshot string) (string, bool) {
	if len(snapshot) <= a.seen {
		return "", false
	}
	d := snapshot[a.seen:]
	a.seen = len(snapshot)
	a.content = snapshot
	return d, true
}

// Content returns the latest snapshot accepted by Next.
func (a *Accumulator) Content() string {
	return a.content
}

// Deltas adapts a sequence of snapshots into a sequence of non-empty deltas.
// An error from the source is forwarded and ends the sequence.
func Deltas(snapshots iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var acc Accumulator
		for snapshot, err := range snapshots {
			if err != nil {
				yield("", err)
				return
			}
			if d, ok := acc.Next(snapshot); ok {
				if !yield(d, nil) {
					return
				}
			}
		}
	}
}
