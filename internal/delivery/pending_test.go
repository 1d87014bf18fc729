package delivery

import (
	"context"
	"errors"
	"testing"

	logx "mailqueue/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func TestPendingResolveOnce(t *testing.T) {
	p := newPending()
	if _, _, ok := p.Result(); ok {
		t.Fatal("fresh pending should not be resolved")
	}
	p.resolve(Receipt{MessageID: "m1"}, nil)
	r, err, ok := p.Result()
	if !ok || err != nil || r.MessageID != "m1" {
		t.Fatalf("result = %+v %v %v", r, err, ok)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("second resolve should panic")
		}
	}()
	p.resolve(Receipt{}, errors.New("again"))
}

func TestPendingWaitHonorsContext(t *testing.T) {
	p := newPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"provisional-registration": CategoryProvisionalRegistration,
		" Full-Registration ":      CategoryFullRegistration,
		"reservation-complete":     CategoryReservationComplete,
		"":                         CategoryOther,
		"newsletter":               CategoryOther,
	}
	for in, want := range cases {
		if got := ParseCategory(in); got != want {
			t.Fatalf("ParseCategory(%q) = %s, want %s", in, got, want)
		}
	}
}
