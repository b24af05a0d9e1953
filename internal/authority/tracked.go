package authority

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perfbuffer"
)

// Tracked records a performance sample for every successful request made
// through the wrapped client. Failed requests discard their sample.
type Tracked struct {
	next     Client
	buf      *perfbuffer.Buffer
	observer RequestObserver
	now      func() time.Time
}

// RequestObserver is told the outcome of every lookup.
type RequestObserver interface {
	ObserveRequest(authority string, action model.Action, err error)
}

// TrackedOption configures a Tracked client.
type TrackedOption func(*Tracked)

// WithRequestObserver reports each lookup outcome to o.
func WithRequestObserver(o RequestObserver) TrackedOption {
	return func(t *Tracked) { t.observer = o }
}

// NewTracked wraps next so its requests feed buf.
func NewTracked(next Client, buf *perfbuffer.Buffer, opts ...TrackedOption) *Tracked {
	t := &Tracked{next: next, buf: buf, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracked) SearchURL(req SearchRequest) string { return t.next.SearchURL(req) }

func (t *Tracked) FindURL(req FindRequest) string { return t.next.FindURL(req) }

func (t *Tracked) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	id := t.buf.NewEntry(req.Authority, model.ActionSearch)
	start := t.now()
	resp, err := t.next.Search(ctx, req)
	t.observe(req.Authority, model.ActionSearch, err)
	if err != nil {
		t.buf.Destroy(id)
		return nil, err
	}
	t.complete(ctx, id, req.Authority, model.ActionSearch, start, resp.Performance)
	return resp, nil
}

func (t *Tracked) Find(ctx context.Context, req FindRequest) (*FindResponse, error) {
	id := t.buf.NewEntry(req.Authority, model.ActionFetch)
	start := t.now()
	resp, err := t.next.Find(ctx, req)
	t.observe(req.Authority, model.ActionFetch, err)
	if err != nil {
		t.buf.Destroy(id)
		return nil, err
	}
	t.complete(ctx, id, req.Authority, model.ActionFetch, start, resp.Performance)
	return resp, nil
}

func (t *Tracked) observe(authority string, action model.Action, err error) {
	if t.observer != nil {
		t.observer.ObserveRequest(authority, action, err)
	}
}

func (t *Tracked) complete(ctx context.Context, id, authority string, action model.Action, start time.Time, p Performance) {
	actionMS := p.ActionTimeMS
	if actionMS <= 0 {
		actionMS = float64(t.now().Sub(start)) / float64(time.Millisecond)
	}
	size := p.SizeBytes
	m := perfbuffer.Measurements{
		ActionTimeMS:        &actionMS,
		SizeBytes:           &size,
		RetrieveTimeMS:      &p.RetrieveTimeMS,
		GraphLoadTimeMS:     &p.GraphLoadTimeMS,
		NormalizationTimeMS: &p.NormalizationTimeMS,
	}
	if !t.buf.Update(id, m) {
		// A flush swapped the entry out mid-request and dropped it as
		// incomplete; the sample is whole now, so store it again.
		id = t.buf.NewEntryAt(authority, action, start)
		t.buf.Update(id, m)
	}
	// The sample is best effort; a failed flush must not fail the lookup.
	if err := t.buf.CompleteEntry(ctx, id); err != nil {
		zap.L().Warn("authority: flush performance buffer", zap.Error(err))
	}
}
