package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// asyncLogger implements asynchronous audit logging with a ring buffer
type asyncLogger struct {
	writer Writer

	buffer []interface{}
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	flushCh  chan struct{}
	doneCh   chan struct{}
	interval time.Duration
}

// newAsyncLogger creates a new async logger
func newAsyncLogger(writer Writer, cfg Config) *asyncLogger {
	l := &asyncLogger{
		writer:   writer,
		buffer:   make([]interface{}, cfg.BufferSize),
		size:     cfg.BufferSize,
		flushCh:  make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	go l.run()

	return l
}

// LogEvaluation logs one authorization decision
func (l *asyncLogger) LogEvaluation(ctx context.Context, eval *Evaluation) {
	if eval == nil || eval.Request == nil || eval.Decision == nil {
		return
	}

	event := &EvaluationEvent{
		Timestamp:  time.Now(),
		EventType:  EventTypeEvaluation,
		EventID:    generateEventID(),
		RequestID:  eval.Request.RequestID,
		Action:     eval.Request.Action,
		Decision:   eval.Decision.Decision,
		Reason:     eval.Decision.Reason,
		DurationUs: eval.Duration.Microseconds(),
		CacheHit:   eval.CacheHit,
	}

	if eval.Request.User != nil {
		event.UserID = eval.Request.User.ID
		event.Roles = eval.Request.User.Roles
	}
	if eval.Request.Resource != nil {
		event.ResourceType = eval.Request.Resource.Type
		event.ResourcePath = eval.Request.Resource.Path
	}
	for _, p := range eval.Decision.AppliedPolicies {
		event.AppliedPolicies = append(event.AppliedPolicies, p.ID)
	}

	l.enqueue(event)
}

// LogPolicyChange logs a policy lifecycle mutation
func (l *asyncLogger) LogPolicyChange(ctx context.Context, change *PolicyChange) {
	if change == nil {
		return
	}

	l.enqueue(&PolicyChangeEvent{
		Timestamp:     time.Now(),
		EventType:     EventTypePolicyChange,
		EventID:       generateEventID(),
		Operation:     change.Operation,
		PolicyID:      change.PolicyID,
		PolicyVersion: change.Version,
		Actor:         change.Actor,
		Summary:       change.Summary,
	})
}

// LogRoleChange logs a role directory mutation
func (l *asyncLogger) LogRoleChange(ctx context.Context, change *RoleChange) {
	if change == nil {
		return
	}

	l.enqueue(&RoleChangeEvent{
		Timestamp: time.Now(),
		EventType: EventTypeRoleChange,
		EventID:   generateEventID(),
		Operation: change.Operation,
		RoleID:    change.RoleID,
		Actor:     change.Actor,
	})
}

// enqueue adds an event to the ring buffer without blocking
func (l *asyncLogger) enqueue(event interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size

	// Drop oldest when full
	if l.tail == l.head {
		l.head = (l.head + 1) % l.size
	}

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// run flushes events periodically until Close
func (l *asyncLogger) run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush flushes pending events
func (l *asyncLogger) Flush() error {
	return l.flush()
}

// flush writes all buffered events to the writer
func (l *asyncLogger) flush() error {
	l.mu.Lock()
	events := l.copyEvents()
	l.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// copyEvents copies events from the ring buffer and clears it
func (l *asyncLogger) copyEvents() []interface{} {
	if l.head == l.tail {
		return nil
	}

	var events []interface{}
	i := l.head
	for i != l.tail {
		events = append(events, l.buffer[i])
		i = (i + 1) % l.size
	}

	l.head = l.tail

	return events
}

// Close closes the logger and flushes remaining events
func (l *asyncLogger) Close() error {
	close(l.doneCh)
	time.Sleep(200 * time.Millisecond)
	return l.writer.Close()
}

func generateEventID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "evt-" + hex.EncodeToString(b)
}
