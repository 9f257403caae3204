// Package proofs computes tamper-evident references for the summaries the
// assistant emits. A reference is the keccak256 digest of the summary's
// canonical JSON encoding, so any holder of the summary can recompute and
// compare it.
package proofs
