package sha256

import "testing"

func TestFingerprintKnownDigest(t *testing.T) {
	t.Parallel()

	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := Fingerprint(" hello   world "); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

// TestFingerprintIgnoresLayout checks whitespace differences do not change the digest.
func TestFingerprintIgnoresLayout(t *testing.T) {
	t.Parallel()

	a := Fingerprint("Processo 1\n  Autor: Maria")
	b := Fingerprint("Processo 1 Autor:   Maria\n")
	if a != b {
		t.Fatalf("expected equal fingerprints, got %s vs %s", a, b)
	}
	if a == Fingerprint("Processo 2 Autor: Maria") {
		t.Fatal("expected different text to produce a different fingerprint")
	}
}
