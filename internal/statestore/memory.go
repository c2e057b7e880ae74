package statestore

import (
	"context"
	"sync"

	"groupe-e-consumption/internal/consumption"
)

const subscriberBuffer = 16

// Memory keeps the latest reading and status per resolution in process and
// pushes every change to subscribers. Slow subscribers miss updates rather
// than block the publisher.
type Memory struct {
	mu       sync.RWMutex
	readings map[consumption.Resolution]consumption.Reading
	statuses map[consumption.Resolution]Status
	subs     map[int]chan Update
	nextSub  int
}

// NewMemory builds an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		readings: make(map[consumption.Resolution]consumption.Reading),
		statuses: make(map[consumption.Resolution]Status),
		subs:     make(map[int]chan Update),
	}
}

// PublishReading stores reading and notifies subscribers.
func (m *Memory) PublishReading(_ context.Context, reading consumption.Reading) error {
	m.mu.Lock()
	m.readings[reading.Resolution] = reading
	m.mu.Unlock()

	m.broadcast(Update{Reading: &reading})
	return nil
}

// PublishStatus stores status and notifies subscribers.
func (m *Memory) PublishStatus(_ context.Context, status Status) error {
	m.mu.Lock()
	m.statuses[status.Resolution] = status
	m.mu.Unlock()

	m.broadcast(Update{Status: &status})
	return nil
}

// Reading returns the latest reading for res.
func (m *Memory) Reading(res consumption.Resolution) (consumption.Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[res]
	return r, ok
}

// Status returns the latest status for res.
func (m *Memory) Status(res consumption.Resolution) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[res]
	return s, ok
}

// Subscribe returns a channel of future updates and a cancel func that
// closes it.
func (m *Memory) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Memory) broadcast(update Update) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

var _ Publisher = (*Memory)(nil)
