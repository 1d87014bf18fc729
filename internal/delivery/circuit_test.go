package delivery

import "testing"

func TestCircuitBreakerThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3)

	if cb.RecordFailure("a@example.com") || cb.RecordFailure("A@example.com") {
		t.Fatal("tripped too early")
	}
	if cb.IsBlocked("a@example.com") {
		t.Fatal("blocked below threshold")
	}
	if !cb.RecordFailure(" a@example.com") {
		t.Fatal("third failure should trip")
	}
	if !cb.IsBlocked("a@example.com") {
		t.Fatal("should be blocked")
	}
	if cb.RecordFailure("a@example.com") {
		t.Fatal("already blocked recipient should not trip again")
	}
	if got := cb.Blocked(); len(got) != 1 || got[0].Recipient != "a@example.com" || got[0].Failures != 4 {
		t.Fatalf("blocked = %+v", got)
	}

	cb.RecordSuccess("a@example.com")
	if cb.IsBlocked("a@example.com") || cb.Failures("a@example.com") != 0 {
		t.Fatal("success should clear block and count")
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3)
	cb.RecordFailure("b@example.com")
	cb.RecordFailure("b@example.com")
	cb.RecordSuccess("b@example.com")
	cb.RecordFailure("b@example.com")
	cb.RecordFailure("b@example.com")
	if cb.IsBlocked("b@example.com") {
		t.Fatal("failures are consecutive only")
	}
}

func TestCircuitBreakerIgnoresEmptyRecipient(t *testing.T) {
	cb := NewCircuitBreaker(1)
	if cb.RecordFailure("  ") || cb.IsBlocked("") {
		t.Fatal("empty recipient must not be tracked")
	}
	if cb.Reset("x@example.com") {
		t.Fatal("reset of unknown recipient should report false")
	}
}
