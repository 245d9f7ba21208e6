// Package types defines the core domain types shared across tabularun:
// dataset descriptors, the runner request/response envelope, structured
// query plans, run capsules, thread messages, and agent-loop events.
package types

// Version is the canonical project version. The runner protocol
// envelope and the capsule schema are versioned in lockstep with it.
const Version = "0.1.0"

// ContractVersion is the schema version of capsules and streamed
// events, kept equal to Version. It is not written into the records
// themselves.
const ContractVersion = "0.1.0"
