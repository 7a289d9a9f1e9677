package logger

import "testing"

func TestInitRejectsUnknownLevel(t *testing.T) {
	if _, err := Init("loud", ""); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInitSetsGlobal(t *testing.T) {
	l, err := Init("debug", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if L() != l {
		t.Error("global logger was not replaced")
	}
}
