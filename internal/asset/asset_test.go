package asset

import "testing"

func TestDeriveIDStable(t *testing.T) {
	a := DeriveID("https://cdn.example.com/v/123.mp4")
	b := DeriveID("https://cdn.example.com/v/123.mp4")
	if a != b {
		t.Fatalf("same reference produced different ids: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("unexpected id length: %d", len(a))
	}
}

func TestDeriveIDTrimsWhitespace(t *testing.T) {
	if DeriveID(" ref ") != DeriveID("ref") {
		t.Fatal("whitespace should not change the derived id")
	}
}

func TestDeriveIDDistinct(t *testing.T) {
	if DeriveID("ref-a") == DeriveID("ref-b") {
		t.Fatal("distinct references collided")
	}
}

func TestStageValid(t *testing.T) {
	for _, s := range []Stage{StageNotStarted, StageDownloading, StageDownloaded, StageTranscoding, StageReady, StageFailed} {
		if !s.Valid() {
			t.Fatalf("stage %q should be valid", s)
		}
	}
	if Stage("bogus").Valid() {
		t.Fatal("unknown stage should be invalid")
	}
}
