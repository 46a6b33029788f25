// Package auditledger implements the tamper-evident, append-only record of
// every address state change and every resolution attempt.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the SHA-256 of
// its payload and of its predecessor, so editing any stored field is
// detectable by VerifyEntry or by a full Verify walk.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, shared between registry instances.
//   - SQLiteLedger: durable, embedded, single node.
package auditledger
