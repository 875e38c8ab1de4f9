package connection

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rickgao/spot-tv/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
		attempt     Attempt
		wantRetry   bool
		wantClear   bool
	}{
		{
			name:        "never connected without retry",
			err:         errTransient,
			recoverable: true,
			attempt:     Attempt{},
			wantRetry:   false,
		},
		{
			name:        "never connected with retry",
			err:         errTransient,
			recoverable: true,
			attempt:     Attempt{RetryRequested: true},
			wantRetry:   true,
		},
		{
			name:        "initially connected recoverable",
			err:         errTransient,
			recoverable: true,
			attempt:     Attempt{InitiallyConnected: true},
			wantRetry:   true,
		},
		{
			name:        "temporary code retries unrecoverable errors",
			err:         errFatal,
			recoverable: false,
			attempt:     Attempt{InitiallyConnected: true},
			wantRetry:   true,
		},
		{
			name:        "permanent code unrecoverable",
			err:         errFatal,
			recoverable: false,
			attempt:     Attempt{InitiallyConnected: true, RetryRequested: true, PermanentPairingCode: "PERM01"},
			wantRetry:   false,
			wantClear:   true,
		},
		{
			name:        "permanent code unrecoverable without retry",
			err:         errFatal,
			recoverable: false,
			attempt:     Attempt{PermanentPairingCode: "PERM01"},
			wantRetry:   false,
			wantClear:   true,
		},
		{
			name:        "permanent code recoverable",
			err:         errTransient,
			recoverable: true,
			attempt:     Attempt{InitiallyConnected: true, PermanentPairingCode: "PERM01"},
			wantRetry:   true,
		},
		{
			name:        "conflict",
			err:         transport.ErrConflict,
			recoverable: true,
			attempt:     Attempt{InitiallyConnected: true, RetryRequested: true},
			wantRetry:   false,
		},
		{
			name:        "wrapped conflict",
			err:         &TransportError{Op: "session", Err: fmt.Errorf("join: %w", transport.ErrConflict)},
			recoverable: true,
			attempt:     Attempt{InitiallyConnected: true, RetryRequested: true},
			wantRetry:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(tt.err, tt.recoverable, tt.attempt)

			if out.WillRetry != tt.wantRetry {
				t.Errorf("WillRetry = %v, want %v", out.WillRetry, tt.wantRetry)
			}
			if got := out.ClearsPermanentCode(); got != tt.wantClear {
				t.Errorf("ClearsPermanentCode() = %v, want %v", got, tt.wantClear)
			}
			if out.Err != tt.err {
				t.Errorf("Err = %v, want %v", out.Err, tt.err)
			}
			if out.UsingPermanentPairingCode != (tt.attempt.PermanentPairingCode != "") {
				t.Errorf("UsingPermanentPairingCode = %v", out.UsingPermanentPairingCode)
			}
		})
	}
}

// Exhaustive check of the retry rules over every flag combination.
func TestClassify_RetryRules(t *testing.T) {
	for _, initially := range []bool{false, true} {
		for _, retry := range []bool{false, true} {
			for _, recoverable := range []bool{false, true} {
				for _, code := range []string{"", "PERM01"} {
					for _, conflict := range []bool{false, true} {
						err := errTransient
						if conflict {
							err = transport.ErrConflict
						}
						a := Attempt{InitiallyConnected: initially, RetryRequested: retry, PermanentPairingCode: code}
						out := Classify(err, recoverable, a)

						if !initially && !retry && out.WillRetry {
							t.Errorf("%+v recoverable=%v: retries without a connect or retry request", a, recoverable)
						}
						if conflict && out.WillRetry {
							t.Errorf("%+v recoverable=%v: retries a conflict", a, recoverable)
						}
						if code != "" && !recoverable && !out.ClearsPermanentCode() {
							t.Errorf("%+v: keeps the permanent code after an unrecoverable error", a)
						}
						if out.IsConflict != conflict {
							t.Errorf("IsConflict = %v, want %v", out.IsConflict, conflict)
						}
					}
				}
			}
		}
	}
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("connect: %w", &TransportError{Op: "connect", Err: errTransient, Recoverable: true})

	if !IsRecoverable(err) {
		t.Error("IsRecoverable() = false, want true")
	}
	if !errors.Is(err, errTransient) {
		t.Error("errors.Is() did not find the cause")
	}
	if IsRecoverable(errTransient) {
		t.Error("IsRecoverable() = true for a bare error")
	}
	if got, want := (&TransportError{Op: "session", Err: errFatal}).Error(), "transport session: not authorized"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateConnecting, true},
		{StateIdle, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnected, StateRetryScheduled, true},
		{StateRetryScheduled, StateConnecting, true},
		{StateRetryScheduled, StateConnected, false},
		{StateDisconnecting, StateIdle, true},
		{StateDisconnecting, StateConnecting, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	if got := StateRetryScheduled.String(); got != "retry_scheduled" {
		t.Errorf("String() = %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestJitterDelay(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := JitterDelay(3, 500*time.Millisecond, 2)
		if d < 500*time.Millisecond || d >= 8*time.Second {
			t.Fatalf("JitterDelay() = %v, want within [500ms, 8s)", d)
		}
	}

	if got := JitterDelay(0, 2*time.Second, 2); got != 2*time.Second {
		t.Errorf("collapsed range = %v, want 2s", got)
	}
}

func TestJitter_MaxDelay(t *testing.T) {
	j := Jitter{RetryCount: 5, MinDelay: time.Second, Base: 2, MaxDelay: 3 * time.Second}
	for i := 0; i < 100; i++ {
		if d := j.Delay(i); d > 3*time.Second {
			t.Fatalf("Delay() = %v, want <= 3s", d)
		}
	}
}

func TestJitter_Defaults(t *testing.T) {
	got := Jitter{}.withDefaults()
	if got != DefaultJitter {
		t.Errorf("withDefaults() = %+v, want %+v", got, DefaultJitter)
	}

	custom := Jitter{RetryCount: 4, MinDelay: time.Second, Base: 3, MaxDelay: time.Minute}
	if got := custom.withDefaults(); got != custom {
		t.Errorf("withDefaults() = %+v, want %+v", got, custom)
	}
}
