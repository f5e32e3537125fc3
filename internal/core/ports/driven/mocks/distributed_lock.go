package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps lock expiries in memory. It does not track owners:
// any caller may release or extend a live lock.
type MockDistributedLock struct {
	mu       sync.Mutex
	expiry   map[string]time.Time
	acquires map[string]int
	extends  map[string]int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ExtendFn  func(name string, ttl time.Duration) error
}

func NewMockDistributedLock() *MockDistributedLock {
	m := &MockDistributedLock{}
	m.Reset()
	return m
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.liveLocked(name) {
		return false, nil
	}
	m.expiry[name] = time.Now().Add(ttl)
	m.acquires[name]++
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expiry, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(name) {
		return fmt.Errorf("extend %s: not held", name)
	}
	m.expiry[name] = time.Now().Add(ttl)
	m.extends[name]++
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	return nil
}

func (m *MockDistributedLock) liveLocked(name string) bool {
	exp, ok := m.expiry[name]
	return ok && time.Now().Before(exp)
}

// Reset drops every lock and counter.
func (m *MockDistributedLock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry = map[string]time.Time{}
	m.acquires = map[string]int{}
	m.extends = map[string]int{}
}

// HoldElsewhere marks name as taken by another instance for ttl.
func (m *MockDistributedLock) HoldElsewhere(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[name] = time.Now().Add(ttl)
}

// IsHeld reports whether name is locked and not yet expired.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(name)
}

// AcquireCount is the number of successful Acquire calls for name.
func (m *MockDistributedLock) AcquireCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires[name]
}

// ExtendCount is the number of successful Extend calls for name.
func (m *MockDistributedLock) ExtendCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extends[name]
}
