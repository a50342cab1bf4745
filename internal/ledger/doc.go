// Package ledger implements the poll ledger state transitions.
//
// Every handler takes the store explicitly and performs its existence checks
// and writes through that one handle, so a caller that wraps a handler in a
// domain.UnitOfWork gets all-or-nothing semantics. Handlers never call each
// other and keep no state between invocations.
package ledger
