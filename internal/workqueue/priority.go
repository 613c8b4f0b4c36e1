package workqueue

// Lanes bundles a normal and a high-priority Queue so workers always drain
// the high-priority lane first, per spec.md's two-lane work queue: region
// reads waiting on a visible tile submit to the high lane, background
// prefetch and indexing submit to the normal lane.
type Lanes struct {
	High   *Queue
	Normal *Queue
}

// NewLanes creates paired queues of the given capacities.
func NewLanes(highCapacity, normalCapacity int) *Lanes {
	return &Lanes{
		High:   New(highCapacity),
		Normal: New(normalCapacity),
	}
}

// Pump executes one pending task, preferring the high-priority lane. It
// returns false only if both lanes were empty.
func (l *Lanes) Pump(logicalThread int) bool {
	if l.High.Pump(logicalThread) {
		return true
	}
	return l.Normal.Pump(logicalThread)
}

// IsWorkInProgress reports whether either lane still has outstanding work.
func (l *Lanes) IsWorkInProgress() bool {
	return l.High.IsWorkInProgress() || l.Normal.IsWorkInProgress()
}
