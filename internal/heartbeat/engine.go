// Package heartbeat keeps a bounded rolling history of health samples per
// service and answers sparkline queries over it.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"workshop/internal/db"
	"workshop/internal/logger"
)

// maxPending bounds the unflushed queue when the store is unavailable
const maxPending = 10000

// Sample is one health check result
type Sample struct {
	ServiceID   string        `json:"service_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Success     bool          `json:"success"`
	Status      string        `json:"status"`
	Latency     time.Duration `json:"latency"`
	ErrorDetail string        `json:"error_detail,omitempty"`
}

// Store persists ring slots
type Store interface {
	SaveBatch(ctx context.Context, samples []db.HeartbeatSample) error
	LoadAll(ctx context.Context) ([]db.HeartbeatSample, error)
	PruneSlots(ctx context.Context, capacity int) (int64, error)
}

// ring is a fixed-size buffer indexed by seq % capacity
type ring struct {
	buf []Sample
	seq int64 // sequence number of the next sample
	n   int   // samples held, at most len(buf)
}

func (r *ring) push(s Sample) (slot int, seq int64) {
	seq = r.seq
	slot = int(seq % int64(len(r.buf)))
	r.buf[slot] = s
	r.seq++
	if r.n < len(r.buf) {
		r.n++
	}
	return slot, seq
}

// ordered returns samples oldest first
func (r *ring) ordered() []Sample {
	out := make([]Sample, 0, r.n)
	for i := r.seq - int64(r.n); i < r.seq; i++ {
		out = append(out, r.buf[i%int64(len(r.buf))])
	}
	return out
}

// Engine records samples into per-service rings
type Engine struct {
	capacity int
	store    Store

	mu    sync.RWMutex
	rings map[string]*ring

	pendingMu sync.Mutex
	pending   []db.HeartbeatSample

	flushInterval time.Duration
	now           func() time.Time
}

// NewEngine creates an engine keeping capacity samples per service. A nil
// store keeps history in memory only.
func NewEngine(capacity int, store Store) *Engine {
	if capacity < 1 {
		capacity = 1
	}
	return &Engine{
		capacity:      capacity,
		store:         store,
		rings:         make(map[string]*ring),
		flushInterval: 5 * time.Second,
		now:           time.Now,
	}
}

// Capacity returns the per-service ring size
func (e *Engine) Capacity() int {
	return e.capacity
}

func (e *Engine) ringFor(id string) *ring {
	r, ok := e.rings[id]
	if !ok {
		r = &ring{buf: make([]Sample, e.capacity)}
		e.rings[id] = r
	}
	return r
}

// Record overwrites the oldest slot with s
func (e *Engine) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = e.now()
	}

	e.mu.Lock()
	slot, seq := e.ringFor(s.ServiceID).push(s)
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, toRow(s, slot, seq))
	if len(e.pending) > maxPending {
		e.pending = e.pending[len(e.pending)-maxPending:]
	}
	e.pendingMu.Unlock()
}

// Len returns the number of samples held for a service
func (e *Engine) Len(id string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.rings[id]; ok {
		return r.n
	}
	return 0
}

// Samples returns a copy of a service's history, oldest first
func (e *Engine) Samples(id string) []Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.rings[id]; ok {
		return r.ordered()
	}
	return nil
}

// Latest returns the most recent sample for a service
func (e *Engine) Latest(id string) (Sample, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rings[id]
	if !ok || r.n == 0 {
		return Sample{}, false
	}
	return r.buf[(r.seq-1)%int64(e.capacity)], true
}

// Load restores rings from the store. Only the newest capacity samples per
// service are kept; rows are re-slotted if the capacity changed.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	rows, err := e.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	byService := make(map[string][]db.HeartbeatSample)
	for _, row := range rows {
		byService[row.ServiceID] = append(byService[row.ServiceID], row)
	}

	reslot := false
	var kept []db.HeartbeatSample

	e.mu.Lock()
	for id, svcRows := range byService {
		if len(svcRows) > e.capacity {
			svcRows = svcRows[len(svcRows)-e.capacity:]
		}
		first, last := svcRows[0].Seq, svcRows[len(svcRows)-1].Seq
		if last-first+1 != int64(len(svcRows)) {
			// Dropped flushes left gaps; renumber so the ring is contiguous
			for i := range svcRows {
				svcRows[i].Seq = last - int64(len(svcRows)-1-i)
			}
			reslot = true
		}

		r := &ring{buf: make([]Sample, e.capacity), seq: last + 1, n: len(svcRows)}
		for _, row := range svcRows {
			slot := int(row.Seq % int64(e.capacity))
			if row.Slot != slot {
				reslot = true
			}
			r.buf[slot] = fromRow(row)
		}
		e.rings[id] = r
		kept = append(kept, svcRows...)
	}
	e.mu.Unlock()

	if reslot {
		if _, err := e.store.PruneSlots(ctx, 0); err != nil {
			return err
		}
		for i := range kept {
			kept[i].Slot = int(kept[i].Seq % int64(e.capacity))
		}
		if err := e.store.SaveBatch(ctx, kept); err != nil {
			return err
		}
	}

	logger.WithFields(logger.Fields{
		"services": len(byService),
		"samples":  len(kept),
		"capacity": e.capacity,
	}).Info("Heartbeat history loaded")
	return nil
}

// Flush writes pending samples to the store
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	e.pendingMu.Lock()
	batch := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := e.store.SaveBatch(ctx, batch); err != nil {
		logger.WithError(err).WithField("samples", len(batch)).Warn("Failed to persist heartbeat samples")
		return err
	}
	return nil
}

// Serve flushes pending samples periodically until ctx is done
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = e.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			_ = e.Flush(ctx)
		}
	}
}

func (e *Engine) String() string {
	return "heartbeat-engine"
}

func toRow(s Sample, slot int, seq int64) db.HeartbeatSample {
	return db.HeartbeatSample{
		ServiceID:   s.ServiceID,
		Slot:        slot,
		Seq:         seq,
		Timestamp:   s.Timestamp.UnixNano(),
		Success:     s.Success,
		Status:      s.Status,
		LatencyUS:   s.Latency.Microseconds(),
		ErrorDetail: s.ErrorDetail,
	}
}

func fromRow(row db.HeartbeatSample) Sample {
	return Sample{
		ServiceID:   row.ServiceID,
		Timestamp:   time.Unix(0, row.Timestamp),
		Success:     row.Success,
		Status:      row.Status,
		Latency:     time.Duration(row.LatencyUS) * time.Microsecond,
		ErrorDetail: row.ErrorDetail,
	}
}
