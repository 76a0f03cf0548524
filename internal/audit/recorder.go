package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/safego"
	"github.com/barangay-registry/civil-registry/internal/telemetry"
)

// DefaultWriteTimeout bounds each asynchronous audit write
const DefaultWriteTimeout = 5 * time.Second

// Event describes one successful mutation. Old and New are snapshots marshaled to JSON
// before Record returns, so callers may keep mutating the values afterwards.
type Event struct {
	ActorID  *string // nil means system-initiated
	Action   string
	Entity   string
	EntityID string
	Details  string
	Old      any
	New      any
}

// Recorder is the post-commit audit hook. Record never blocks on storage and never fails.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Store persists audit log rows
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AsyncRecorder writes audit entries to a Store and an optional Shipper in panic-safe
// background goroutines. Close waits for in-flight writes.
type AsyncRecorder struct {
	store   Store
	shipper Shipper
	timeout time.Duration
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewAsyncRecorder creates a recorder. store and shipper may each be nil.
func NewAsyncRecorder(store Store, shipper Shipper, timeout time.Duration) *AsyncRecorder {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &AsyncRecorder{store: store, shipper: shipper, timeout: timeout}
}

// Record schedules the write of ev and returns immediately
func (r *AsyncRecorder) Record(ctx context.Context, ev Event) {
	if r.closed.Load() {
		slog.Warn("audit recorder closed, dropping entry", "action", ev.Action, "entity_id", ev.EntityID)
		telemetry.AuditWriteFailuresTotal.WithLabelValues("closed").Inc()
		return
	}

	log := buildLog(ctx, ev)

	safego.GoTracked(&r.wg, "audit.record", func() {
		// Detached from the request context: the request may finish before the write does
		writeCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if r.store != nil {
			if err := r.store.CreateAuditLog(writeCtx, log); err != nil {
				telemetry.AuditWriteFailuresTotal.WithLabelValues("database").Inc()
				slog.Warn("failed to write audit log",
					"action", log.Action, "entity", log.Entity, "entity_id", ev.EntityID, "error", err)
			}
		}

		if r.shipper != nil {
			// MultiShipper logs and counts per-destination failures itself
			_ = r.shipper.Ship(writeCtx, toLogEntry(log))
		}
	})
}

// Close stops accepting entries and waits for in-flight writes until ctx is done,
// then closes the shipper.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.closed.Store(true)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		slog.Warn("audit recorder closed with writes still in flight", "error", err)
	}

	if r.shipper != nil {
		if cerr := r.shipper.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func buildLog(ctx context.Context, ev Event) *models.AuditLog {
	log := &models.AuditLog{
		UserID:    ev.ActorID,
		Action:    ev.Action,
		Entity:    ev.Entity,
		EntityID:  optional(ev.EntityID),
		Details:   optional(ev.Details),
		OldValues: snapshot(ev.Old),
		NewValues: snapshot(ev.New),
		CreatedAt: time.Now(),
	}

	if meta, ok := RequestMetaFrom(ctx); ok {
		log.IPAddress = optional(meta.IPAddress)
		log.UserAgent = optional(meta.UserAgent)
		log.RequestID = optional(meta.RequestID)
	}
	return log
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal audit snapshot", "error", err)
		return nil
	}
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toLogEntry(log *models.AuditLog) *LogEntry {
	return &LogEntry{
		Timestamp: log.CreatedAt,
		Action:    log.Action,
		Entity:    log.Entity,
		EntityID:  deref(log.EntityID),
		UserID:    deref(log.UserID),
		Details:   deref(log.Details),
		OldValues: log.OldValues,
		NewValues: log.NewValues,
		IPAddress: deref(log.IPAddress),
		UserAgent: deref(log.UserAgent),
		RequestID: deref(log.RequestID),
	}
}
