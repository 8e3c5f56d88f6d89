// Package faults classifies kiln failures and keeps a bounded history of
// what went wrong.
//
// Every failure crossing a component boundary is expressed as a Failure with
// a Kind (validation, build, push, network, ...). Classify maps a Failure to
// a Classification: severity, whether a retry can help, the recovery
// strategy (none, fixed retry, linear backoff, exponential backoff, manual
// intervention), and a suggested user action. Validation failures are always
// terminal: manual strategy, never retryable.
//
// # Classifier
//
// Classifier is an injectable component that records classified failures:
//
//	cls := faults.NewClassifier(100)
//	c := cls.Record(faults.Failure{Kind: faults.KindPush, Op: "push.image", Err: err})
//	if c.Retryable {
//	    time.Sleep(faults.Delay(c.Strategy, attempt, time.Second))
//	}
//
// The classifier keeps the most recent N records in a ring, lifetime
// counters by kind and severity, and answers rolling-window queries
// (CountWithin). All methods are safe for concurrent use; a single mutex
// guards every mutation.
package faults
