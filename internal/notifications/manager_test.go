package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secretgov/internal/logging/loggingtest"
)

// fakeProvider is a test double for Provider
type fakeProvider struct {
	name          string
	supportedEvts []EventType
	sendErr       error
	block         chan struct{}
	mu            sync.Mutex
	sentEvents    []Event
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:          name,
		supportedEvts: AllEventTypes(),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) SupportsEvent(eventType EventType) bool {
	for _, e := range p.supportedEvts {
		if e == eventType {
			return true
		}
	}
	return false
}

func (p *fakeProvider) Validate(ctx context.Context) error { return nil }

func (p *fakeProvider) Send(ctx context.Context, event Event) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.sentEvents = append(p.sentEvents, event)
	p.mu.Unlock()
	return p.sendErr
}

func (p *fakeProvider) getSentEvents() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.sentEvents...)
}

func TestManager_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx)
	m.Stop()
	m.Stop()
}

func TestManager_DeliversToAllSupportingProviders(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	all := newFakeProvider("all")
	rotatedOnly := newFakeProvider("rotated-only")
	rotatedOnly.supportedEvts = []EventType{EventTypeRotated}
	m.RegisterProvider(all)
	m.RegisterProvider(rotatedOnly)
	assert.Len(t, m.Providers(), 2)

	m.Start(context.Background())
	m.Send(Event{Type: EventTypeRotated, SecretName: "PROD_API_KEY", Timestamp: time.Now()})
	m.Send(Event{Type: EventTypeViolation, SecretName: "PROD_DB", Timestamp: time.Now()})
	m.Stop()

	assert.Len(t, all.getSentEvents(), 2)
	events := rotatedOnly.getSentEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "PROD_API_KEY", events[0].SecretName)
}

func TestManager_SendBeforeStartIsDropped(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil, nil)
	p := newFakeProvider("p")
	m.RegisterProvider(p)

	m.Send(Event{Type: EventTypeRotated})
	m.Start(context.Background())
	m.Stop()

	assert.Empty(t, p.getSentEvents())
}

func TestManager_QueueOverflowDropsEvents(t *testing.T) {
	t.Parallel()

	m := NewManager(1, nil, nil)
	p := newFakeProvider("slow")
	p.block = make(chan struct{})
	m.RegisterProvider(p)
	m.Start(context.Background())

	m.Send(Event{Type: EventTypeRotated, SecretName: "first"})
	// wait for the worker to pick up the first event and block on it
	require.Eventually(t, func() bool { return len(m.queue) == 0 }, time.Second, 5*time.Millisecond)
	m.Send(Event{Type: EventTypeRotated, SecretName: "second"})
	m.Send(Event{Type: EventTypeRotated, SecretName: "third"})

	assert.Equal(t, int64(1), m.DroppedCount())
	close(p.block)
	m.Stop()
	assert.Len(t, p.getSentEvents(), 2)
}

func TestManager_ProviderErrorsAreLogged(t *testing.T) {
	t.Parallel()

	logger, logs := loggingtest.New(false)
	m := NewManager(10, logger, nil)
	p := newFakeProvider("broken")
	p.sendErr = errors.New("connection refused")
	m.RegisterProvider(p)

	m.Start(context.Background())
	m.Send(Event{Type: EventTypeRotationFailed, SecretName: "PROD_API_KEY"})
	m.Stop()

	assert.Equal(t, 1, logs.FilterMessageSnippet("broken failed for PROD_API_KEY").Len())
}

func TestLogProvider(t *testing.T) {
	t.Parallel()

	logger, logs := loggingtest.New(false)
	p := NewLogProvider(logger, EventTypeViolation)
	assert.False(t, p.SupportsEvent(EventTypeRotated))
	assert.True(t, p.SupportsEvent(EventTypeViolation))
	require.NoError(t, p.Validate(context.Background()))

	require.NoError(t, p.Send(context.Background(), Event{
		Type:       EventTypeViolation,
		SecretName: "PROD_DB",
		Message:    "classification below policy requirement",
	}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "classification below policy requirement", logs.All()[0].Message)
}
