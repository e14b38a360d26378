package feed

import (
	"context"
	"errors"
	"fmt"
)

// RawRows is the untyped tabular payload returned by an upstream fetcher.
// The first row is a header. Nothing past the parser ever sees this type.
type RawRows [][]string

// Upstream failure taxonomy. Fetchers map transport status onto these so the
// retry policy and callers can branch with errors.Is.
var (
	// ErrRateLimited marks a transient throttle response worth backing off on.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrUpstreamUnavailable marks an exhausted or unreachable upstream.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDatasetNotFound marks a dataset key that does not exist upstream.
	ErrDatasetNotFound = errors.New("dataset key not found")
	// ErrAuthorization marks a fatal credential failure; never retried.
	ErrAuthorization = errors.New("upstream authorization failed")
)

// Request carries the parameters for one upstream read.
type Request struct {
	DatasetKey string
	Options    map[string]string
}

// Fetcher is a single upstream strategy (values API, published HTML table).
type Fetcher interface {
	Name() string
	FetchRows(ctx context.Context, req Request) (RawRows, error)
	ListKeys(ctx context.Context) ([]string, error)
}

// Registry keeps a mapping from fetcher names to their implementations.
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: map[string]Fetcher{}}
}

// Register adds or replaces a fetcher implementation.
func (r *Registry) Register(f Fetcher) {
	if r.fetchers == nil {
		r.fetchers = map[string]Fetcher{}
	}
	r.fetchers[f.Name()] = f
}

// Resolve returns a fetcher by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Fetcher, error) {
	if f, ok := r.fetchers[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("fetcher %s is not registered", name)
}
