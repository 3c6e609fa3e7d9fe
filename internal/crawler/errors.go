package crawler

import "errors"

// Error taxonomy for crawl items. Everything except ErrPersist is scoped to a
// single link and never aborts a crawl.
var (
	// ErrTransport marks fetch or render failures.
	ErrTransport = errors.New("transport failure")
	// ErrParse marks pages missing the structure a handler expects.
	ErrParse = errors.New("unexpected page structure")
	// ErrUnresolvableContext is returned when a link chain has no ancestor of the required kind.
	ErrUnresolvableContext = errors.New("could not resolve context from link chain")
	// ErrDuplicateKey is returned when a record fingerprint is already indexed.
	ErrDuplicateKey = errors.New("existing key")
	// ErrPersist marks failures writing crawl state to durable storage.
	ErrPersist = errors.New("persist crawl state")
)
