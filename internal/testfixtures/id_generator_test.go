package testfixtures

import "testing"

func TestIDGenerator(t *testing.T) {
	gen := NewIDGenerator("")
	if first, second := gen.Next(), gen.Next(); first != "id-1" || second != "id-2" {
		t.Fatalf("unexpected ids %q, %q", first, second)
	}
	if gen.Issued() != 2 {
		t.Fatalf("expected 2 issued, got %d", gen.Issued())
	}
}
