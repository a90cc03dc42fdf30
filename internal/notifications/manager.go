package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/secretgov/internal/logging"
	"github.com/systmms/secretgov/internal/metrics"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	drainTimeout = 5 * time.Second
)

// Manager coordinates notification delivery across multiple providers.
// It uses an async bounded queue so that callers never block on delivery.
type Manager struct {
	providers []Provider
	queue     chan Event
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	done      chan struct{}
	logger    *logging.Logger
	metrics   *metrics.Recorder

	droppedCount int64
	droppedMu    sync.Mutex
}

// NewManager creates a new notification manager with the specified queue size.
// If queueSize is 0, DefaultQueueSize is used. A nil logger discards output.
func NewManager(queueSize int, logger *logging.Logger, recorder *metrics.Recorder) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Manager{
		providers: make([]Provider, 0),
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
		logger:    logger,
		metrics:   recorder,
	}
}

// RegisterProvider adds a notification provider to the manager.
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Providers returns a copy of the registered providers.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	return providers
}

// Start begins the background notification worker goroutine.
// Events sent before Start are discarded.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop gracefully shuts down the manager, delivering queued events first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// Send queues an event for delivery. If the queue is full the event is
// dropped and counted. Send never blocks.
func (m *Manager) Send(event Event) {
	m.mu.RLock()
	if !m.running {
		m.mu.RUnlock()
		return
	}
	m.mu.RUnlock()

	select {
	case m.queue <- event:
	default:
		m.droppedMu.Lock()
		m.droppedCount++
		m.droppedMu.Unlock()
		m.metrics.RecordNotificationDropped()
		m.logger.Warn("Notification queue full, dropped %s event for %s", event.Type, event.SecretName)
	}
}

// DroppedCount returns the number of events dropped due to queue overflow.
func (m *Manager) DroppedCount() int64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.droppedCount
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.drainQueue()
			return
		case <-m.done:
			m.drainQueue()
			return
		case event := <-m.queue:
			m.dispatchEvent(ctx, event)
		}
	}
}

func (m *Manager) drainQueue() {
	for {
		select {
		case event := <-m.queue:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			m.dispatchEvent(drainCtx, event)
			cancel()
		default:
			return
		}
	}
}

// dispatchEvent sends an event to all providers that support it. Delivery
// errors are logged and never propagate.
func (m *Manager) dispatchEvent(ctx context.Context, event Event) {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	for _, provider := range providers {
		if !provider.SupportsEvent(event.Type) {
			continue
		}
		if err := provider.Send(ctx, event); err != nil {
			m.logger.Warn("Notification provider %s failed for %s: %v", provider.Name(), event.SecretName, err)
		}
	}
}
