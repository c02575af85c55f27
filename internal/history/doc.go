// Package history stores stagecheck runs in SQLite so that two runs of the
// same corpus can be compared after the fact.
//
// Each run records its verdicts in the order they were produced. When a run
// finishes, the verdict sequence is reduced to a fingerprint: a
// domain-separated SHA-256 over canonical JSON. Two runs over the same
// binaries and corpora have equal fingerprints; Diff names the inputs whose
// status changed when they do not.
package history
