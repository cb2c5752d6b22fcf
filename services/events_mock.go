package services

import (
	"context"
	"sync"
)

// MockPublisher records published events for test assertions
type MockPublisher struct {
	events []OrderEvent
	mu     sync.Mutex
	Err    error
}

// NewMockPublisher creates a new recording publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the event, returning Err when set
func (m *MockPublisher) Publish(ctx context.Context, event OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (m *MockPublisher) Events() []OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderEvent(nil), m.events...)
}
