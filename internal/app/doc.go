// Package app provides the application service layer.
//
// Service runs every ledger invocation inside one domain.UnitOfWork, then
// publishes the resulting domain event. Transports call Service and never
// touch the store directly.
package app
