// Package domain holds the ledger's vocabulary: polls, the instantiation
// config, messages, responses, events and the store contracts the handlers
// run against. It has no dependencies on adapters; adapters and the ledger
// package depend on it.
package domain
