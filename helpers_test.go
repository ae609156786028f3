package rtu485

import "testing"

// assertUint16Equal fails the test when two register slices differ.
func assertUint16Equal(t *testing.T, got, want []uint16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("value %d mismatch: got 0x%04X, want 0x%04X", i, got[i], want[i])
		}
	}
}
