package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: node, edge or mapping does not exist in the store
// - ErrConflict: a write raced with another writer (stale version)
// - ErrInvalidState: entity in wrong state for the requested mutation (e.g. edge already replaced)
// - ErrUnavailable: backing service (database, broker, import source) unreachable
// - ErrLocked: another run holds the reimport lock
//
// For validation errors (bad input, invalid linear references), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLocked       = errors.New("locked")
)
