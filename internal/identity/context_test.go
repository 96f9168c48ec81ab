package identity

import (
	"context"
	"testing"
)

func TestWithCallerAndCallerFromContext(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{UserID: "u-1", Role: RolePatient, ProfileID: "p-1"})

	got, ok := CallerFromContext(ctx)
	if !ok {
		t.Fatalf("expected caller to be present")
	}
	if !got.IsPatient() || got.IsDoctor() {
		t.Fatalf("expected patient caller, got %+v", got)
	}
	if got.Room() != "user:patient:p-1" {
		t.Fatalf("unexpected room %s", got.Room())
	}
}

func TestCallerFromContext_EmptyOrMissing(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatalf("expected missing caller to return false")
	}

	ctx := context.WithValue(context.Background(), callerKey, "u-1")
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected non-caller value to return false")
	}

	ctx = WithCaller(context.Background(), Caller{})
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatalf("expected empty caller to return false")
	}
}

func TestDoctorWithoutProfileIsNotDoctor(t *testing.T) {
	c := Caller{UserID: "u", Role: RoleDoctor}
	if c.IsDoctor() {
		t.Fatalf("doctor role without profile must not count as doctor")
	}
}
