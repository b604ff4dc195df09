package dedup

import (
	"reflect"
	"testing"
)

func TestFilter_AcceptFirstSeenOrder(t *testing.T) {
	input := []string{"a", "b", "a", "c", "b", "b", "d", "a"}

	f := New()
	var kept []string
	for _, id := range input {
		if f.Accept(id) {
			kept = append(kept, id)
		}
	}

	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(kept, want) {
		t.Errorf("kept = %v, want %v", kept, want)
	}
	if f.Duplicates() != 4 {
		t.Errorf("Duplicates() = %d, want 4", f.Duplicates())
	}
}

func TestFilter_AcceptTrueExactlyOncePerIdentity(t *testing.T) {
	f := New()
	accepted := make(map[string]int)
	ids := []string{"1", "2", "3"}
	for round := 0; round < 5; round++ {
		for _, id := range ids {
			if f.Accept(id) {
				accepted[id]++
			}
		}
	}
	for _, id := range ids {
		if accepted[id] != 1 {
			t.Errorf("id %s accepted %d times, want 1", id, accepted[id])
		}
	}
}

func TestFilter_Seed(t *testing.T) {
	f := New()
	f.Seed("x", "y")

	if f.Duplicates() != 0 {
		t.Errorf("seeding must not count duplicates, got %d", f.Duplicates())
	}
	if f.Accept("x") {
		t.Error("seeded id was accepted again")
	}
	if !f.Accept("z") {
		t.Error("new id was rejected")
	}
	if f.Accept("y") {
		t.Error("seeded id was accepted again")
	}
	if f.Duplicates() != 2 {
		t.Errorf("Duplicates() = %d, want 2", f.Duplicates())
	}
}
