package types

// Version is the canonical project version.
// The bridge server, hook binary and CLI share this version.
const Version = "0.3.0"
