package retry

import (
	"testing"
	"time"
)

func TestBackoffSequenceNeverExceedsCap(t *testing.T) {
	t.Parallel()

	want := []time.Duration{60, 120, 240, 300, 300, 300}
	for n, w := range want {
		got := Backoff(60*time.Second, 300*time.Second, n)
		if got != w*time.Second {
			t.Fatalf("Backoff(n=%d) = %s, want %s", n, got, w*time.Second)
		}
	}
}

func TestNextDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   Policy
		class    Class
		attempts int
		want     time.Duration
		ok       bool
	}{
		{name: "first retry", policy: Standard(), class: ClassFetch, attempts: 1, want: 60 * time.Second, ok: true},
		{name: "second retry", policy: Standard(), class: ClassGeneration, attempts: 2, want: 120 * time.Second, ok: true},
		{name: "exhausted", policy: Standard(), class: ClassFetch, attempts: 3, ok: false},
		{name: "timeout shares budget", policy: Standard(), class: ClassTimeout, attempts: 3, ok: false},
		{name: "time boxed first retry", policy: TimeBoxed(), class: ClassTimeout, attempts: 1, want: 120 * time.Second, ok: true},
		{name: "time boxed second retry", policy: TimeBoxed(), class: ClassGeneration, attempts: 2, want: 240 * time.Second, ok: true},
		{
			name:     "class override",
			policy:   Policy{Default: Rule{Base: time.Second, Cap: time.Minute, MaxAttempts: 2}, Rules: map[Class]Rule{ClassFetch: {Base: 5 * time.Second, Cap: 8 * time.Second, MaxAttempts: 10}}},
			class:    ClassFetch,
			attempts: 4,
			want:     8 * time.Second,
			ok:       true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.policy.NextDelay(tt.class, tt.attempts)
			if ok != tt.ok {
				t.Fatalf("NextDelay ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("NextDelay = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTimeBoxedHasAttemptTimeout(t *testing.T) {
	t.Parallel()

	if TimeBoxed().AttemptTimeout != 40*time.Second {
		t.Fatalf("unexpected attempt timeout: %s", TimeBoxed().AttemptTimeout)
	}
	if Standard().AttemptTimeout != 0 {
		t.Fatalf("standard policy should not bound attempts")
	}
}
