package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mapStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	failGet error
	// beforeDelete runs inside CompareAndDelete before the comparison, which lets
	// tests interleave a competing writer between Get and the conditional delete.
	beforeDelete func()
	casCalls     int
}

func newMapStore() *mapStore {
	return &mapStore{values: map[string][]byte{}}
}

func (m *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = bytes.Clone(value)
	return nil
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.failGet != nil {
		return nil, false, m.failGet
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return bytes.Clone(v), ok, nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *mapStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	if m.beforeDelete != nil {
		m.beforeDelete()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	v, ok := m.values[key]
	if !ok || !bytes.Equal(v, expected) {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestOptimisticTakeReturnsAndDeletes(t *testing.T) {
	store := newMapStore()
	c := Optimistic(store)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, ok, err := c.Take(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("first take = %q, %v, %v", v, ok, err)
	}

	v, ok, err = c.Take(ctx, "k")
	if err != nil || ok || v != nil {
		t.Fatalf("second take = %q, %v, %v", v, ok, err)
	}
}

func TestOptimisticTakeRetriesAfterLostRace(t *testing.T) {
	store := newMapStore()
	c := Optimistic(store)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("old"), time.Minute)

	raced := false
	store.beforeDelete = func() {
		if raced {
			return
		}
		raced = true
		store.mu.Lock()
		store.values["k"] = []byte("new")
		store.mu.Unlock()
	}

	v, ok, err := c.Take(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("take = %v, %v", ok, err)
	}
	if string(v) != "new" {
		t.Fatalf("expected value written by competing writer, got %q", v)
	}
	if store.casCalls != 2 {
		t.Fatalf("expected 2 conditional deletes, got %d", store.casCalls)
	}
}

func TestOptimisticTakeGivesUpAfterBoundedRetries(t *testing.T) {
	store := newMapStore()
	c := Optimistic(store)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v0"), time.Minute)

	n := 0
	store.beforeDelete = func() {
		n++
		store.mu.Lock()
		store.values["k"] = []byte{byte('a' + n)}
		store.mu.Unlock()
	}

	_, ok, err := c.Take(ctx, "k")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if ok {
		t.Fatal("expected not found after exhausting retries")
	}
	if store.casCalls != optimisticMaxRetries {
		t.Fatalf("expected %d attempts, got %d", optimisticMaxRetries, store.casCalls)
	}
}

func TestOptimisticTakePropagatesBackendError(t *testing.T) {
	store := newMapStore()
	store.failGet = ErrUnavailable
	c := Optimistic(store)

	_, _, err := c.Take(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOptimisticConcurrentTakeSingleWinner(t *testing.T) {
	store := newMapStore()
	c := Optimistic(store)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, ok, err := c.Take(ctx, "k")
			if err != nil {
				t.Errorf("take: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
