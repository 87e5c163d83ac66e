// Package services provides the resource layer on top of the replica.
//
// This package contains:
//   - URI resolution against the schema relationship graph (Resolver)
//   - Request body validation and reference checks (Verifier, RuleEvaluator)
//   - Rendering of rows, collections and references for GET (Reader)
//   - POST, PUT, PATCH and DELETE as replica transactions (Engine)
//   - The pending-commit protocol and its metrics (Coordinator, Metrics)
//   - Session reconnects and readiness (ConnectionManager)
//
// ServiceManager wires them together; ResourceService is what the HTTP layer calls.
package services
