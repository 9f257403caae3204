package proofs

import "testing"

type sample struct {
	User   string             `json:"user"`
	Tokens map[string]float64 `json:"tokens"`
}

func TestDigestIsStableAcrossMapOrder(t *testing.T) {
	a := sample{User: "0.0.1", Tokens: map[string]float64{"HBAR": 1, "SAUCE": 2, "USDC": 3}}
	b := sample{User: "0.0.1", Tokens: map[string]float64{"USDC": 3, "HBAR": 1, "SAUCE": 2}}

	da, err := Digest(a)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	db, _ := Digest(b)
	if da != db {
		t.Fatalf("digest depends on map order: %s vs %s", da, db)
	}
	if len(da) != 66 || da[:2] != "0x" {
		t.Fatalf("unexpected digest format %q", da)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	v := sample{User: "0.0.1"}
	ref, _ := Digest(v)

	ok, err := Verify(v, ref)
	if err != nil || !ok {
		t.Fatalf("expected verification to pass: %v", err)
	}
	v.User = "0.0.2"
	if ok, _ := Verify(v, ref); ok {
		t.Fatalf("expected verification to fail after change")
	}
}

func TestDigestRejectsUnencodable(t *testing.T) {
	if _, err := Digest(make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}
}
