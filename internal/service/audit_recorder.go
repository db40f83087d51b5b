package service

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"faturamento/internal/model"
	"faturamento/internal/repository"

	"github.com/google/uuid"
)

// Events buffered locally and persisted durably may reappear from the
// durable replica with a server-assigned timestamp; two events with the
// same action label within this window are treated as the same event.
const fuzzyDedupWindow = 2 * time.Second

// localBufferCap bounds the in-memory replica. Oldest entries are evicted
// first; an evicted entry that was never flushed is lost locally but may
// still exist durably.
const localBufferCap = 512

// AuditRecorder appends one immutable event per workflow transition and
// reads the log back merged from its two replicas: the in-memory buffer
// and the durable store. Recording never fails the triggering transition;
// if the durable sink is unreachable the event is retained locally and
// flushed later by the background worker.
type AuditRecorder interface {
	Record(ctx context.Context, event model.AuditEvent)
	Read(ctx context.Context, orderNumber string) ([]model.AuditEvent, error)
	// FlushPending retries the durable write for locally buffered events
	// that have not reached the store yet. Returns how many were flushed.
	FlushPending(ctx context.Context) int
}

type bufferedEvent struct {
	event     model.AuditEvent
	persisted bool
}

type auditRecorder struct {
	repo repository.AuditRepository

	mu     sync.Mutex
	buffer []bufferedEvent
}

func NewAuditRecorder(repo repository.AuditRepository) AuditRecorder {
	return &auditRecorder{repo: repo}
}

func (r *auditRecorder) Record(ctx context.Context, event model.AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Severity == "" {
		event.Severity = model.SeverityInfo
	}

	persisted := true
	if err := r.repo.Append(ctx, &event); err != nil {
		log.Printf("audit: durable write failed for %s on order %s, event retained locally: %v",
			event.Action, event.OrderNumber, err)
		persisted = false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, bufferedEvent{event: event, persisted: persisted})
	if len(r.buffer) > localBufferCap {
		r.buffer = r.buffer[len(r.buffer)-localBufferCap:]
	}
}

func (r *auditRecorder) Read(ctx context.Context, orderNumber string) ([]model.AuditEvent, error) {
	durable, err := r.repo.ListByOrder(ctx, orderNumber)
	if err != nil {
		// Serve the local replica alone rather than failing the read.
		log.Printf("audit: durable read failed for order %s, serving local replica: %v", orderNumber, err)
		durable = nil
	}

	merged := make([]model.AuditEvent, 0, len(durable))
	seen := make(map[uuid.UUID]bool, len(durable))
	for _, event := range durable {
		merged = append(merged, event)
		seen[event.ID] = true
	}

	r.mu.Lock()
	for _, buffered := range r.buffer {
		if buffered.event.OrderNumber != orderNumber {
			continue
		}
		if seen[buffered.event.ID] {
			continue
		}
		if fuzzyMatch(durable, buffered.event) {
			continue
		}
		merged = append(merged, buffered.event)
		seen[buffered.event.ID] = true
	}
	r.mu.Unlock()

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged, nil
}

// fuzzyMatch tolerates a locally buffered event that was independently
// persisted with a server-assigned id: same action label, timestamps
// within the de-dup window.
func fuzzyMatch(durable []model.AuditEvent, event model.AuditEvent) bool {
	for _, d := range durable {
		if d.Action != event.Action {
			continue
		}
		delta := d.CreatedAt.Sub(event.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= fuzzyDedupWindow {
			return true
		}
	}
	return false
}

func (r *auditRecorder) FlushPending(ctx context.Context) int {
	r.mu.Lock()
	pending := make([]int, 0)
	for i, buffered := range r.buffer {
		if !buffered.persisted {
			pending = append(pending, i)
		}
	}
	events := make([]model.AuditEvent, 0, len(pending))
	for _, i := range pending {
		events = append(events, r.buffer[i].event)
	}
	r.mu.Unlock()

	flushed := 0
	flushedIDs := make(map[uuid.UUID]bool, len(events))
	for _, event := range events {
		if err := r.repo.Append(ctx, &event); err != nil {
			log.Printf("audit: retry of %s on order %s failed: %v", event.Action, event.OrderNumber, err)
			continue
		}
		flushedIDs[event.ID] = true
		flushed++
	}

	if flushed > 0 {
		r.mu.Lock()
		for i := range r.buffer {
			if flushedIDs[r.buffer[i].event.ID] {
				r.buffer[i].persisted = true
			}
		}
		r.mu.Unlock()
	}
	return flushed
}
