package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/csvload/internal/logging"
)

// ScopeMode selects how versions are partitioned.
type ScopeMode string

const (
	ScopeTable  ScopeMode = "table"
	ScopeSource ScopeMode = "source"
	ScopeGlobal ScopeMode = "global"
)

// Scope returns the ledger scope key for a load.
func Scope(mode ScopeMode, table, sourceID string) string {
	switch mode {
	case ScopeSource:
		return "source:" + sourceID
	case ScopeGlobal:
		return "global"
	default:
		return "table:" + table
	}
}

// DefaultVersionRetries bounds reservation attempts when none is configured.
const DefaultVersionRetries = 5

// VersionStore is the part of the storage collaborator the allocator needs.
type VersionStore interface {
	// CurrentMaxVersion returns the highest version reserved in scope, or 0.
	CurrentMaxVersion(ctx context.Context, scope string) (int64, error)

	// ReserveVersion durably records r. It returns ErrVersionConflict when
	// r.Version is already reserved in r.Scope.
	ReserveVersion(ctx context.Context, r Reservation) error
}

// Allocator hands out strictly increasing versions per scope.
//
// In-process callers are serialized by a mutex; other processes sharing the
// store are fenced by the ledger's unique (scope, version) key, and a lost
// race is retried against the new maximum.
type Allocator struct {
	store   VersionStore
	retries int

	mu sync.Mutex
}

// NewAllocator creates an allocator over store.
func NewAllocator(store VersionStore, retries int) *Allocator {
	if retries <= 0 {
		retries = DefaultVersionRetries
	}
	return &Allocator{store: store, retries: retries}
}

// NextVersion reserves max+1 in r.Scope and returns it. A reserved version
// is never handed out again, even if the load that reserved it fails.
func (a *Allocator) NextVersion(ctx context.Context, r Reservation) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 1; attempt <= a.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		current, err := a.store.CurrentMaxVersion(ctx, r.Scope)
		if err != nil {
			return 0, storageErr("current max version", err)
		}

		r.Version = current + 1
		err = a.store.ReserveVersion(ctx, r)
		if err == nil {
			return r.Version, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return 0, storageErr("reserve version", err)
		}

		logging.FromContext(ctx).Debug("version reservation lost race",
			"scope", r.Scope,
			"version", r.Version,
			"attempt", attempt,
		)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	return 0, &StorageError{
		Op:  "reserve version",
		Err: fmt.Errorf("%w after %d attempts in %s", ErrVersionContention, a.retries, r.Scope),
	}
}
