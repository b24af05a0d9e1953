// Package perfbuffer holds in-flight authority timing samples in memory and
// writes completed ones to durable storage in batches.
package perfbuffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/model"
)

// Writer persists completed samples.
type Writer interface {
	SavePerformanceRecords(ctx context.Context, records []model.PerformanceRecord) error
}

// Observer receives flush outcomes, e.g. for metrics.
type Observer interface {
	ObserveFlush(saved, dropped int)
}

// Measurements carries the optional fields of an entry. Nil fields are left
// unchanged by Update.
type Measurements struct {
	ActionTimeMS        *float64
	SizeBytes           *int64
	RetrieveTimeMS      *float64
	GraphLoadTimeMS     *float64
	NormalizationTimeMS *float64
}

// Entry is one in-flight sample.
type Entry struct {
	ID        string
	Timestamp time.Time
	Authority string
	Action    model.Action

	mu sync.Mutex
	m  Measurements
}

// Record converts a complete entry to a durable record. ok is false when a
// required field is missing.
func (e *Entry) Record() (rec model.PerformanceRecord, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.m
	if e.Timestamp.IsZero() || e.Authority == "" || e.Action == "" ||
		m.ActionTimeMS == nil || m.SizeBytes == nil || m.RetrieveTimeMS == nil ||
		m.GraphLoadTimeMS == nil || m.NormalizationTimeMS == nil {
		return model.PerformanceRecord{}, false
	}
	return model.PerformanceRecord{
		Authority:           e.Authority,
		Action:              e.Action,
		Timestamp:           e.Timestamp,
		ActionTimeMS:        *m.ActionTimeMS,
		SizeBytes:           *m.SizeBytes,
		RetrieveTimeMS:      *m.RetrieveTimeMS,
		GraphLoadTimeMS:     *m.GraphLoadTimeMS,
		NormalizationTimeMS: *m.NormalizationTimeMS,
	}, true
}

func (e *Entry) merge(u Measurements) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.ActionTimeMS != nil {
		e.m.ActionTimeMS = u.ActionTimeMS
	}
	if u.SizeBytes != nil {
		e.m.SizeBytes = u.SizeBytes
	}
	if u.RetrieveTimeMS != nil {
		e.m.RetrieveTimeMS = u.RetrieveTimeMS
	}
	if u.GraphLoadTimeMS != nil {
		e.m.GraphLoadTimeMS = u.GraphLoadTimeMS
	}
	if u.NormalizationTimeMS != nil {
		e.m.NormalizationTimeMS = u.NormalizationTimeMS
	}
}

// entryOverhead approximates the resident size of one entry excluding strings.
const entryOverhead = 256

// generation is one buffer instance. Destroy removes entries but never lowers
// bytes; only a swap resets the estimate.
type generation struct {
	entries sync.Map // id -> *Entry
	bytes   atomic.Int64
}

// FlushResult reports the outcome of WriteAll.
type FlushResult struct {
	Saved   int
	Dropped int
}

// Buffer accumulates entries. Inserts, updates and destroys run concurrently
// under a shared lock; WriteAll takes the exclusive lock only to swap in a
// fresh generation, so the snapshot it persists has no concurrent writers.
type Buffer struct {
	mu       sync.RWMutex
	current  *generation
	maxBytes int64
	writer   Writer
	observer Observer
	now      func() time.Time
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithObserver registers a flush observer.
func WithObserver(o Observer) Option {
	return func(b *Buffer) { b.observer = o }
}

// New creates a buffer that flushes to w once its estimated size exceeds
// maxBytes.
func New(w Writer, maxBytes int64, opts ...Option) *Buffer {
	b := &Buffer{
		current:  &generation{},
		maxBytes: maxBytes,
		writer:   w,
		now:      time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewEntry starts a sample for authority/action and returns its id.
func (b *Buffer) NewEntry(authority string, action model.Action) string {
	return b.NewEntryAt(authority, action, b.now())
}

// NewEntryAt starts a sample stamped with ts. Callers use it to re-insert a
// sample whose entry was swapped out by a flush while the request ran.
func (b *Buffer) NewEntryAt(authority string, action model.Action, ts time.Time) string {
	e := &Entry{
		ID:        uuid.New().String(),
		Timestamp: ts.UTC(),
		Authority: authority,
		Action:    action,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	b.current.entries.Store(e.ID, e)
	b.current.bytes.Add(int64(entryOverhead + len(e.ID) + len(authority)))
	return e.ID
}

// Lookup returns the entry for id in the active generation.
func (b *Buffer) Lookup(id string) (*Entry, bool) {
	if id == "" {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.current.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Update merges m into the entry. It returns false when the id is unknown,
// e.g. because the entry was already flushed or destroyed.
func (b *Buffer) Update(id string, m Measurements) bool {
	if id == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.current.entries.Load(id)
	if !ok {
		return false
	}
	v.(*Entry).merge(m)
	return true
}

// Destroy discards an entry without persisting it.
func (b *Buffer) Destroy(id string) {
	if id == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.current.entries.Delete(id)
}

// Len returns the number of entries in the active generation.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	b.current.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// EstimatedBytes returns the size estimate of the active generation.
func (b *Buffer) EstimatedBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.bytes.Load()
}

// CompleteEntry marks a sample finished and flushes the buffer if it has
// outgrown its ceiling.
func (b *Buffer) CompleteEntry(ctx context.Context, id string) error {
	if b.EstimatedBytes() <= b.maxBytes {
		return nil
	}
	zap.L().Debug("perfbuffer: size ceiling exceeded",
		zap.String("entry", id),
		zap.String("ceiling", humanize.Bytes(uint64(b.maxBytes))),
	)
	_, err := b.WriteAll(ctx)
	return err
}

// WriteAll swaps out the active generation and persists its complete entries.
// Incomplete entries are dropped, not retried.
func (b *Buffer) WriteAll(ctx context.Context) (FlushResult, error) {
	b.mu.Lock()
	snapshot := b.current
	b.current = &generation{}
	b.mu.Unlock()

	var res FlushResult
	var records []model.PerformanceRecord
	snapshot.entries.Range(func(k, v any) bool {
		if rec, ok := v.(*Entry).Record(); ok {
			records = append(records, rec)
		} else {
			res.Dropped++
		}
		snapshot.entries.Delete(k)
		return true
	})

	log := zap.L().With(zap.String("component", "perfbuffer"))
	if len(records) > 0 {
		if err := b.writer.SavePerformanceRecords(ctx, records); err != nil {
			log.Error("perfbuffer: flush failed",
				zap.Int("lost", len(records)),
				zap.Int("dropped", res.Dropped),
				zap.Error(err),
			)
			if b.observer != nil {
				b.observer.ObserveFlush(0, res.Dropped+len(records))
			}
			return res, eris.Wrap(err, "perfbuffer: write records")
		}
		res.Saved = len(records)
	}

	log.Info("perfbuffer: flushed",
		zap.Int("saved", res.Saved),
		zap.Int("dropped", res.Dropped),
		zap.String("released", humanize.Bytes(uint64(snapshot.bytes.Load()))),
	)
	if b.observer != nil {
		b.observer.ObserveFlush(res.Saved, res.Dropped)
	}
	return res, nil
}
