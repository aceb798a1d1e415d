package store

import (
	"reflect"
	"testing"
)

func TestSplitSet(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"alice", []string{"alice"}},
		{"alice,bob", []string{"alice", "bob"}},
		{" alice , bob ,", []string{"alice", "bob"}},
		{",,", nil},
	}
	for _, tc := range tests {
		if got := SplitSet(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitSet(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestJoinSet(t *testing.T) {
	if got := JoinSet([]string{"alice", "bob"}); got != "alice,bob" {
		t.Errorf("JoinSet = %q", got)
	}
	if got := JoinSet(nil); got != "" {
		t.Errorf("JoinSet(nil) = %q", got)
	}
}

func TestMergeSets(t *testing.T) {
	got := MergeSets([]string{"alice", "bob", "alice"}, []string{"bob", "carol", ""})
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeSets = %v, want %v", got, want)
	}
}

func TestDedupSet(t *testing.T) {
	got := DedupSet([]string{"bob", "bob", "alice", "bob"})
	want := []string{"bob", "alice"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DedupSet = %v, want %v", got, want)
	}
}

func TestContainsTokenWholeTokenOnly(t *testing.T) {
	tests := []struct {
		set, token string
		want       bool
	}{
		{"u100,u2", "u100", true},
		{"u100,u2", "u10", false}, // substring of u100 is not membership
		{"u10", "u10", true},
		{"", "u10", false},
		{"u10", "", false},
		{"alice, bob", "bob", true},
	}
	for _, tc := range tests {
		if got := ContainsToken(tc.set, tc.token); got != tc.want {
			t.Errorf("ContainsToken(%q, %q) = %v, want %v", tc.set, tc.token, got, tc.want)
		}
	}
}
