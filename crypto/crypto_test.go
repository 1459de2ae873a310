package crypto

import "testing"

func TestSumBLAKE3Deterministic(t *testing.T) {
	a := SumBLAKE3([]byte("round-7-block"))
	b := SumBLAKE3([]byte("round-7-block"))
	if a != b {
		t.Error("SumBLAKE3 should be deterministic for identical input")
	}
	c := SumBLAKE3([]byte("round-8-block"))
	if a == c {
		t.Error("SumBLAKE3 should differ for different input")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, id, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("vote: round=3 target=block")
	sig := key.Sign(msg)

	if !Verify(id, msg, sig) {
		t.Error("Verify should accept a signature from the signing key")
	}
	if Verify(id, []byte("tampered"), sig) {
		t.Error("Verify should reject a signature over a different message")
	}

	_, other, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if Verify(other, msg, sig) {
		t.Error("Verify should reject a signature under the wrong key")
	}
}

func TestPeerIdLessIsAntisymmetric(t *testing.T) {
	_, a, _ := GenerateKey()
	_, b, _ := GenerateKey()
	if a == b {
		t.Skip("collision, extremely unlikely")
	}
	if a.Less(b) == b.Less(a) {
		t.Error("PeerId.Less must be antisymmetric for distinct ids")
	}
}
