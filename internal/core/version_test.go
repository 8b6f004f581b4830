package core

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeVersions is an in-memory ledger. conflicts makes the next N
// reservations lose the race to a phantom writer that takes the version.
type fakeVersions struct {
	mu        sync.Mutex
	max       map[string]int64
	conflicts int
	always    bool
	err       error
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{max: make(map[string]int64)}
}

func (f *fakeVersions) CurrentMaxVersion(_ context.Context, scope string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max[scope], nil
}

func (f *fakeVersions) ReserveVersion(_ context.Context, r Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.always || f.conflicts > 0 {
		f.conflicts--
		f.max[r.Scope] = r.Version
		return ErrVersionConflict
	}
	if r.Version <= f.max[r.Scope] {
		return ErrVersionConflict
	}
	f.max[r.Scope] = r.Version
	return nil
}

func TestScope(t *testing.T) {
	tests := []struct {
		mode ScopeMode
		want string
	}{
		{ScopeTable, "table:providers"},
		{"", "table:providers"},
		{ScopeSource, "source:county"},
		{ScopeGlobal, "global"},
	}
	for _, tt := range tests {
		if got := Scope(tt.mode, "providers", "county"); got != tt.want {
			t.Errorf("Scope(%q) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestAllocator_Sequential(t *testing.T) {
	a := NewAllocator(newFakeVersions(), 3)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := a.NextVersion(ctx, Reservation{Scope: "table:t"})
		if err != nil {
			t.Fatalf("NextVersion() error = %v", err)
		}
		if got != want {
			t.Errorf("NextVersion() = %d, want %d", got, want)
		}
	}

	// Scopes are independent.
	if got, _ := a.NextVersion(ctx, Reservation{Scope: "table:other"}); got != 1 {
		t.Errorf("NextVersion(other scope) = %d, want 1", got)
	}
}

func TestAllocator_RetriesLostRace(t *testing.T) {
	store := newFakeVersions()
	store.conflicts = 2
	a := NewAllocator(store, 5)

	got, err := a.NextVersion(context.Background(), Reservation{Scope: "global"})
	if err != nil {
		t.Fatalf("NextVersion() error = %v", err)
	}
	// The phantom writer took 1 and 2.
	if got != 3 {
		t.Errorf("NextVersion() = %d, want 3", got)
	}
}

func TestAllocator_Errors(t *testing.T) {
	t.Run("contention", func(t *testing.T) {
		store := newFakeVersions()
		store.always = true
		_, err := NewAllocator(store, 2).NextVersion(context.Background(), Reservation{Scope: "global"})

		var se *StorageError
		if !errors.As(err, &se) || !errors.Is(err, ErrVersionContention) {
			t.Errorf("NextVersion() error = %v, want StorageError wrapping ErrVersionContention", err)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		store := newFakeVersions()
		store.err = errors.New("disk I/O error")
		_, err := NewAllocator(store, 2).NextVersion(context.Background(), Reservation{Scope: "global"})

		var se *StorageError
		if !errors.As(err, &se) || se.Op != "reserve version" {
			t.Errorf("NextVersion() error = %v, want StorageError for reserve version", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewAllocator(newFakeVersions(), 2).NextVersion(ctx, Reservation{Scope: "global"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("NextVersion() error = %v, want context.Canceled", err)
		}
	})
}

func TestAllocator_ConcurrentDistinct(t *testing.T) {
	a := NewAllocator(newFakeVersions(), 3)
	const n = 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := a.NextVersion(context.Background(), Reservation{Scope: "table:t"})
			if err != nil {
				t.Errorf("NextVersion() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[v] {
				t.Errorf("version %d handed out twice", v)
			}
			seen[v] = true
		}()
	}
	wg.Wait()

	for v := int64(1); v <= n; v++ {
		if !seen[v] {
			t.Errorf("version %d never handed out", v)
		}
	}
}
