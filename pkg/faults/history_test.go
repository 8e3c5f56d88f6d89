package faults

import (
	"sync"
	"testing"
	"time"
)

func TestClassifierHistoryBounded(t *testing.T) {
	c := NewClassifier(3)

	for i := 0; i < 5; i++ {
		c.Record(Failure{Kind: KindValidation, Op: "validate.base", Message: string(rune('a' + i))})
	}

	history := c.History()
	if len(history) != 3 {
		t.Fatalf("History length = %d, want 3", len(history))
	}
	// Oldest two evicted; ring keeps c, d, e in order.
	want := []string{"c", "d", "e"}
	for i, rec := range history {
		if rec.Failure.Message != want[i] {
			t.Errorf("History[%d] = %q, want %q", i, rec.Failure.Message, want[i])
		}
	}
	if c.Total() != 5 {
		t.Errorf("Total = %d, want lifetime 5", c.Total())
	}
}

func TestClassifierCounts(t *testing.T) {
	c := NewClassifier(10)

	c.Record(Failure{Kind: KindValidation, Op: "validate.base"})
	c.Record(Failure{Kind: KindValidation, Op: "validate.final"})
	c.Record(Failure{Kind: KindPush, Op: "push.image"})

	if got := c.CountByKind(KindValidation); got != 2 {
		t.Errorf("CountByKind(validation) = %d, want 2", got)
	}
	if got := c.CountByKind(KindPush); got != 1 {
		t.Errorf("CountByKind(push) = %d, want 1", got)
	}
	if got := c.CountBySeverity(SeverityError); got != 2 {
		t.Errorf("CountBySeverity(error) = %d, want 2", got)
	}
	if got := c.CountBySeverity(SeverityWarning); got != 1 {
		t.Errorf("CountBySeverity(warning) = %d, want 1", got)
	}

	kinds, sevs := c.Counts()
	if kinds[KindValidation] != 2 || sevs[SeverityError] != 2 {
		t.Errorf("Counts() = %v, %v", kinds, sevs)
	}

	if got := c.CountWithin(time.Hour); got != 3 {
		t.Errorf("CountWithin(1h) = %d, want 3", got)
	}
	if got := c.CountWithin(-time.Second); got != 0 {
		t.Errorf("CountWithin(negative) = %d, want 0", got)
	}
}

func TestClassifierConcurrentUse(t *testing.T) {
	c := NewClassifier(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				c.Record(Failure{Kind: KindNetwork, Op: "ssh.connect"})
				c.CountWithin(time.Minute)
				c.History()
			}
		}()
	}
	wg.Wait()

	if c.Total() != 200 {
		t.Errorf("Total = %d, want 200", c.Total())
	}
	if got := c.CountByKind(KindNetwork); got != 200 {
		t.Errorf("CountByKind(network) = %d, want 200", got)
	}
	if len(c.History()) != 50 {
		t.Errorf("History length = %d, want ring size 50", len(c.History()))
	}
}

func TestNewClassifierDefaultLimit(t *testing.T) {
	c := NewClassifier(0)
	for i := 0; i < DefaultHistoryLimit+10; i++ {
		c.Record(Failure{Kind: KindIO, Op: "write"})
	}
	if got := len(c.History()); got != DefaultHistoryLimit {
		t.Errorf("History length = %d, want %d", got, DefaultHistoryLimit)
	}
}
