package faults

import (
	"sync"
	"time"
)

// DefaultHistoryLimit is the ring size used when NewClassifier is given a
// non-positive limit.
const DefaultHistoryLimit = 100

// Record is one classified failure retained in the history ring.
type Record struct {
	Time           time.Time      `json:"time"`
	Failure        Failure        `json:"failure"`
	Classification Classification `json:"classification"`
}

// Classifier records classified failures. It keeps the most recent N records
// in a ring plus lifetime counters by kind and severity. A Classifier is
// constructed per pipeline (there is no package-level instance) and is safe
// for concurrent use.
type Classifier struct {
	mu         sync.Mutex
	limit      int
	ring       []Record
	next       int
	size       int
	total      int
	byKind     map[Kind]int
	bySeverity map[Severity]int
}

// NewClassifier returns a classifier retaining at most limit records.
func NewClassifier(limit int) *Classifier {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Classifier{
		limit:      limit,
		ring:       make([]Record, limit),
		byKind:     make(map[Kind]int),
		bySeverity: make(map[Severity]int),
	}
}

// Record classifies the failure, appends it to the history, bumps the
// counters and returns the classification.
func (c *Classifier) Record(f Failure) Classification {
	cls := Classify(f)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ring[c.next] = Record{Time: time.Now(), Failure: f, Classification: cls}
	c.next = (c.next + 1) % c.limit
	if c.size < c.limit {
		c.size++
	}
	c.total++
	c.byKind[f.Kind]++
	c.bySeverity[cls.Severity]++
	return cls
}

// History returns the retained records, oldest first.
func (c *Classifier) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, 0, c.size)
	start := c.next - c.size
	if start < 0 {
		start += c.limit
	}
	for i := 0; i < c.size; i++ {
		out = append(out, c.ring[(start+i)%c.limit])
	}
	return out
}

// Total returns the lifetime number of recorded failures, including records
// already evicted from the ring.
func (c *Classifier) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// CountByKind returns the lifetime count for one kind.
func (c *Classifier) CountByKind(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKind[k]
}

// CountBySeverity returns the lifetime count for one severity.
func (c *Classifier) CountBySeverity(s Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bySeverity[s]
}

// Counts returns copies of the lifetime counters.
func (c *Classifier) Counts() (map[Kind]int, map[Severity]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := make(map[Kind]int, len(c.byKind))
	for k, n := range c.byKind {
		kinds[k] = n
	}
	sevs := make(map[Severity]int, len(c.bySeverity))
	for s, n := range c.bySeverity {
		sevs[s] = n
	}
	return kinds, sevs
}

// CountWithin returns how many retained records are newer than the window.
// The answer is bounded by the ring size: failures evicted from the history
// are not counted even if they happened inside the window.
func (c *Classifier) CountWithin(window time.Duration) int {
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	start := c.next - c.size
	if start < 0 {
		start += c.limit
	}
	for i := 0; i < c.size; i++ {
		if c.ring[(start+i)%c.limit].Time.After(cutoff) {
			n++
		}
	}
	return n
}
