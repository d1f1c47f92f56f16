// Package worker runs calculations requested over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
)

// Calculator is the part of the compensation service the worker drives.
type Calculator interface {
	Calculate(ctx context.Context, tenantID string, req *domain.CalculationRequest) (*domain.CalculationResult, error)
}

// Reply is the payload sent back to a requester.
type Reply struct {
	Result *domain.CalculationResult `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// ErrStopped is returned for requests that arrive once Stop has begun.
var ErrStopped = errors.New("worker stopped")

// Worker consumes calculation requests from the EventBus.
type Worker struct {
	bus        domain.EventBus
	calculator Calculator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	sem           chan struct{}
	wg            sync.WaitGroup

	// admit gates new work; ctx is handed to calculations in flight and
	// outlives admit until they have finished.
	admit     context.Context
	stopAdmit context.CancelFunc
	ctx       context.Context
	cancel    context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve.
	TenantIDs []string

	// WorkerCount bounds concurrent calculations across all tenants.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, calculator Calculator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	admit, stopAdmit := context.WithCancel(ctx)
	return &Worker{
		bus:        bus,
		calculator: calculator,
		admit:      admit,
		stopAdmit:  stopAdmit,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the requested topic for each tenant.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return errors.New("no tenants configured")
	}

	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	w.sem = make(chan struct{}, count)

	started := 0
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no tenant worker could subscribe to %s", domain.TopicCompensationRequested)
	}

	slog.Info("workers started",
		"tenant_count", started,
		"worker_count", count,
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCompensationRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCompensationRequested,
	)

	return nil
}

// dispatch hands a message to a free slot, blocking while all are busy.
// Nothing is started once Stop has begun.
func (w *Worker) dispatch(tenantID string, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.admit.Done():
		return fmt.Errorf("message %s: %w", msg.ID, ErrStopped)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.sem
		return fmt.Errorf("message %s: %w", msg.ID, ErrStopped)
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(w.ctx, tenantID, msg)
	}()
	return nil
}

func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) {
	start := time.Now()

	var reply Reply
	var req domain.CalculationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse calculation request",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		reply.Error = fmt.Sprintf("invalid request: %v", err)
	} else {
		result, err := w.calculator.Calculate(ctx, tenantID, &req)
		if err != nil {
			slog.Warn("calculation request rejected",
				"message_id", msg.ID,
				"tenant_id", tenantID,
				"strategy", req.Strategy,
				"error", err,
			)
			reply.Error = err.Error()
		}
		reply.Result = result
	}

	if reply.Error != "" {
		w.failed.Add(1)
	} else {
		w.processed.Add(1)
	}

	if msg.ReplyTo() != "" {
		payload, err := json.Marshal(reply)
		if err == nil {
			err = w.bus.Reply(ctx, msg, payload)
		}
		if err != nil {
			slog.Error("failed to reply",
				"message_id", msg.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	if reply.Result != nil {
		slog.Info("calculation processed",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"calculation_id", reply.Result.ID,
			"outcome", reply.Result.Outcome,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Stop refuses new work, unsubscribes and waits for in-flight
// calculations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()
	w.stopAdmit()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
