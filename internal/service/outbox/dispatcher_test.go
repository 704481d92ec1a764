package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/amorozov/storefront/internal/domain"
	"github.com/amorozov/storefront/internal/storage/memory"
)

// stubPublisher считает вызовы и умеет падать первые FailFirst раз.
type stubPublisher struct {
	mu        sync.Mutex
	FailFirst int
	Err       error
	Published []domain.OutboxMessage
	calls     int
}

func (p *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return p.Err
	}
	if p.calls <= p.FailFirst {
		return errors.New("transient publish error")
	}
	p.Published = append(p.Published, msg)
	return nil
}

func (p *stubPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func enqueue(t *testing.T, repo domain.OutboxRepository, channel, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		Channel:       channel,
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{"order_code":"ORD-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func TestProcessOnce_RoutesByChannel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	events := &stubPublisher{}
	email := &stubPublisher{}
	dispatcher := NewDispatcher(repo, map[string]domain.OutboxPublisher{
		"events":       events,
		"notify.email": email,
	}, WithRetryBaseDelay(0))

	enqueue(t, repo, "events", "order.created")
	enqueue(t, repo, "notify.email", "order.created")

	dispatcher.ProcessOnce(context.Background())

	if len(events.Published) != 1 || events.Published[0].EventType != "order.created" {
		t.Fatalf("expected one event published, got %+v", events.Published)
	}
	if len(email.Published) != 1 {
		t.Fatalf("expected one email intent published, got %+v", email.Published)
	}
	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d pending", len(pending))
	}
}

func TestProcessOnce_RetriesTransientError(t *testing.T) {
	repo := memory.NewOutboxRepository()
	flaky := &stubPublisher{FailFirst: 2}
	dispatcher := NewDispatcher(repo, map[string]domain.OutboxPublisher{"events": flaky},
		WithMaxAttempts(3), WithRetryBaseDelay(0))

	enqueue(t, repo, "events", "order.created")
	dispatcher.ProcessOnce(context.Background())

	if flaky.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.Calls())
	}
	if len(flaky.Published) != 1 {
		t.Fatalf("expected message delivered on last attempt, got %+v", flaky.Published)
	}
	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d pending", len(pending))
	}
}

func TestProcessOnce_MarksFailedAfterMaxAttempts(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broken := &stubPublisher{Err: errors.New("broker is down")}
	dispatcher := NewDispatcher(repo, map[string]domain.OutboxPublisher{"events": broken},
		WithMaxAttempts(2), WithRetryBaseDelay(0))

	enqueue(t, repo, "events", "order.created")
	dispatcher.ProcessOnce(context.Background())

	if broken.Calls() != 2 {
		t.Fatalf("expected 2 attempts, got %d", broken.Calls())
	}
	// Сообщение ушло в failed: повторный цикл его не трогает.
	dispatcher.ProcessOnce(context.Background())
	if broken.Calls() != 2 {
		t.Fatalf("failed message must not be re-pulled, got %d calls", broken.Calls())
	}
}

func TestProcessOnce_UnroutableChannelFails(t *testing.T) {
	repo := memory.NewOutboxRepository()
	events := &stubPublisher{}
	dispatcher := NewDispatcher(repo, map[string]domain.OutboxPublisher{"events": events},
		WithRetryBaseDelay(0))

	enqueue(t, repo, "notify.sms", "order.created")
	dispatcher.ProcessOnce(context.Background())

	if events.Calls() != 0 {
		t.Fatalf("wrong publisher must not be called, got %d calls", events.Calls())
	}
	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("unroutable message must leave pending, got %d", len(pending))
	}
}

func TestRequeueFailed(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{Err: errors.New("boom")}
	dispatcher := NewDispatcher(repo, map[string]domain.OutboxPublisher{"events": publisher},
		WithMaxAttempts(1), WithRetryBaseDelay(0))

	enqueue(t, repo, "events", "order.created")
	dispatcher.ProcessOnce(context.Background())

	requeued, err := dispatcher.RequeueFailed(10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued, got %d", requeued)
	}

	// После восстановления брокера возвращённое сообщение доставляется.
	publisher.mu.Lock()
	publisher.Err = nil
	publisher.mu.Unlock()
	dispatcher.ProcessOnce(context.Background())
	if len(publisher.Published) != 1 {
		t.Fatalf("expected requeued message delivered, got %+v", publisher.Published)
	}
}
