package tenant

import (
	"context"
	"errors"
	"testing"
)

type fakeLookup struct {
	mappings map[string]string
	calls    int
	err      error
}

func (f *fakeLookup) GetClinicIDByInstance(instance string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.mappings[instance], nil
}

func TestClinicForMappedInstance(t *testing.T) {
	lookup := &fakeLookup{mappings: map[string]string{"clinic-main": "clinic_1"}}
	r := NewResolver(lookup)

	id, err := r.ClinicFor(context.Background(), "clinic-main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "clinic_1" {
		t.Errorf("clinic = %q, want clinic_1", id)
	}
}

func TestClinicForCachesLookups(t *testing.T) {
	lookup := &fakeLookup{mappings: map[string]string{"clinic-main": "clinic_1"}}
	r := NewResolver(lookup)

	for i := 0; i < 3; i++ {
		if _, err := r.ClinicFor(context.Background(), "clinic-main"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if lookup.calls != 1 {
		t.Errorf("lookup called %d times, want 1", lookup.calls)
	}
}

func TestClinicForDefaultFallback(t *testing.T) {
	lookup := &fakeLookup{mappings: map[string]string{}}
	r := NewResolver(lookup, WithDefaultClinicID("clinic_default"))

	id, err := r.ClinicFor(context.Background(), "unknown-instance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "clinic_default" {
		t.Errorf("clinic = %q, want clinic_default", id)
	}
}

func TestClinicForUnmappedWithoutDefault(t *testing.T) {
	lookup := &fakeLookup{mappings: map[string]string{}}
	r := NewResolver(lookup)

	if _, err := r.ClinicFor(context.Background(), "unknown-instance"); err == nil {
		t.Error("expected error for unmapped instance without default clinic")
	}
}

func TestClinicForLookupError(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("db down")}
	r := NewResolver(lookup, WithDefaultClinicID("clinic_default"))

	if _, err := r.ClinicFor(context.Background(), "clinic-main"); err == nil {
		t.Error("lookup failure should not fall back to default clinic")
	}
}
