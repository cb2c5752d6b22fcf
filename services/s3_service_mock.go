package services

import (
	"context"
	"fmt"
	"sync"
)

// MockSnapshotStorage keeps snapshots in memory for tests
type MockSnapshotStorage struct {
	objects map[string][]byte
	mu      sync.RWMutex
	FailPut bool
}

// NewMockSnapshotStorage creates a new in-memory snapshot store
func NewMockSnapshotStorage() *MockSnapshotStorage {
	return &MockSnapshotStorage{objects: make(map[string][]byte)}
}

// PutSnapshot stores the snapshot in memory
func (m *MockSnapshotStorage) PutSnapshot(ctx context.Context, key string, body []byte) error {
	if m.FailPut {
		return fmt.Errorf("mock storage unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

// GetPresignedURL returns a fake URL for stored snapshots
func (m *MockSnapshotStorage) GetPresignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	m.mu.RLock()
	_, exists := m.objects[key]
	m.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("snapshot not found in mock storage: %s", key)
	}
	return fmt.Sprintf("https://test-bucket.s3.us-east-1.amazonaws.com/%s?mock=true", key), nil
}

// Objects returns a copy of every stored snapshot
func (m *MockSnapshotStorage) Objects() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}
