// Package retry computes backoff delays and attempt cutoffs for pipeline stages.
package retry

import "time"

// Class identifies the failure class a delay is requested for.
type Class string

const (
	ClassFetch      Class = "fetch"
	ClassGeneration Class = "generation"
	ClassTimeout    Class = "timeout"
)

// Rule is the backoff shape for one failure class.
type Rule struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Policy maps failure classes to rules. AttemptTimeout, when set, bounds every
// stage attempt regardless of the stage's own timeout.
type Policy struct {
	Default        Rule
	Rules          map[Class]Rule
	AttemptTimeout time.Duration
}

// Standard returns the policy used for profile and document stages.
func Standard() Policy {
	return Policy{
		Default: Rule{Base: 60 * time.Second, Cap: 300 * time.Second, MaxAttempts: 3},
	}
}

// TimeBoxed returns the policy for follow-up email tasks: longer backoff and a
// hard wall-clock budget per attempt.
func TimeBoxed() Policy {
	return Policy{
		Default:        Rule{Base: 120 * time.Second, Cap: 600 * time.Second, MaxAttempts: 3},
		AttemptTimeout: 40 * time.Second,
	}
}

// Rule returns the rule for class, falling back to the default rule.
func (p Policy) Rule(class Class) Rule {
	if r, ok := p.Rules[class]; ok {
		return r
	}
	return p.Default
}

// NextDelay returns the delay before the next attempt, given how many attempts
// have already been made for the task. The second result is false once the
// task has used its attempt budget.
func (p Policy) NextDelay(class Class, attempts int) (time.Duration, bool) {
	rule := p.Rule(class)
	if rule.MaxAttempts > 0 && attempts >= rule.MaxAttempts {
		return 0, false
	}
	retry := attempts - 1
	if retry < 0 {
		retry = 0
	}
	return Backoff(rule.Base, rule.Cap, retry), true
}

// Backoff returns min(cap, base*2^n).
func Backoff(base, cap time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < n; i++ {
		if cap > 0 && delay >= cap {
			return cap
		}
		delay *= 2
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}
