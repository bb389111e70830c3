package escrowvault

import (
	"strings"
	"testing"
)

func TestGenerateAndRevealRoundTrip(t *testing.T) {
	v := New(t.TempDir(), "correct horse battery staple 1!")

	keyRef, err := v.GenerateEscrow("ETH")
	if err != nil {
		t.Fatalf("GenerateEscrow: %v", err)
	}
	if !strings.HasPrefix(keyRef, "ETH/") {
		t.Fatalf("keyRef = %q, want ETH/ prefix", keyRef)
	}

	priv, err := v.PrivateKey(keyRef)
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	if priv == nil {
		t.Fatal("expected a non-nil private key")
	}

	// Revealing the same keyRef again must be deterministic.
	priv2, err := v.PrivateKey(keyRef)
	if err != nil {
		t.Fatal(err)
	}
	b1 := priv.Serialize()
	b2 := priv2.Serialize()
	if string(b1[:]) != string(b2[:]) {
		t.Fatal("revealing the same keyRef twice produced different keys")
	}
}

func TestTwoEscrowsHaveDistinctKeys(t *testing.T) {
	v := New(t.TempDir(), "correct horse battery staple 1!")

	ref1, err := v.GenerateEscrow("ETH")
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := v.GenerateEscrow("ETH")
	if err != nil {
		t.Fatal(err)
	}
	if ref1 == ref2 {
		t.Fatal("expected distinct keyRefs for two escrows")
	}

	priv1, err := v.PrivateKey(ref1)
	if err != nil {
		t.Fatal(err)
	}
	priv2, err := v.PrivateKey(ref2)
	if err != nil {
		t.Fatal(err)
	}
	b1 := priv1.Serialize()
	b2 := priv2.Serialize()
	if string(b1[:]) == string(b2[:]) {
		t.Fatal("expected two distinct escrows to derive different private keys")
	}
}

func TestPrivateKeyFailsForUnknownRef(t *testing.T) {
	v := New(t.TempDir(), "correct horse battery staple 1!")
	if _, err := v.PrivateKey("ETH/does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown keyRef")
	}
}
