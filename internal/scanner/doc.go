// Package scanner combines account holdings and market sentiment into a
// risk score with warnings and recommendations. Analyze never fails: a
// collaborator that errors leaves its part of the Analysis empty.
package scanner
