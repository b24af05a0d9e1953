package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/authority-monitor/internal/authority"
	"github.com/sells-group/authority-monitor/internal/model"
)

// Validator runs a definition's scenarios against an authority client.
type Validator struct {
	client authority.Client
	now    func() time.Time
}

// NewValidator creates a Validator backed by client.
func NewValidator(client authority.Client) *Validator {
	return &Validator{client: client, now: time.Now}
}

// Validate executes every scenario in def sequentially and returns their
// outcomes. Failures are recorded as results, never returned as errors.
func (v *Validator) Validate(ctx context.Context, def Definition) *ResultLog {
	log := NewResultLog()
	for _, s := range def.Search {
		if ctx.Err() != nil {
			break
		}
		log.Add(v.search(ctx, def, s))
	}
	for _, s := range def.Term {
		if ctx.Err() != nil {
			break
		}
		log.Add(v.term(ctx, def, s))
	}
	return log
}

func (v *Validator) search(ctx context.Context, def Definition, s SearchScenario) model.ScenarioResult {
	req := authority.SearchRequest{
		Authority:    def.Authority,
		Subauthority: s.Subauthority,
		Query:        s.Query,
		MaxRecords:   s.MaxRecords,
	}
	r := model.ScenarioResult{
		Authority:    def.Authority,
		Subauthority: s.Subauthority,
		Service:      def.Service,
		Action:       model.ActionSearch,
		URL:          v.client.SearchURL(req),
		ScenarioType: model.ScenarioConnection,
	}
	if s.Accuracy() {
		r.ScenarioType = model.ScenarioAccuracy
		r.Target = s.SubjectURI
		expected := s.Position
		r.Expected = &expected
	}

	start := v.now()
	resp, err := v.client.Search(ctx, req)
	r.RunTime = v.now().Sub(start)
	if err != nil {
		r.Status = model.StatusFail
		r.ErrorMessage = err.Error()
		return r
	}

	if !s.Accuracy() {
		if len(resp.Results) < def.MinResultSize {
			r.Status = model.StatusUnknown
			r.ErrorMessage = fmt.Sprintf("expected at least %d results, got %d", def.MinResultSize, len(resp.Results))
			return r
		}
		r.Status = model.StatusPass
		return r
	}

	for i, res := range resp.Results {
		if res.URI == s.SubjectURI || res.ID == s.SubjectURI {
			actual := i + 1
			r.Actual = &actual
			break
		}
	}
	switch {
	case r.Actual == nil:
		r.Status = model.StatusFail
		r.ErrorMessage = fmt.Sprintf("subject %s not found in %d results", s.SubjectURI, len(resp.Results))
	case *r.Actual > s.Position:
		r.Status = model.StatusFail
		r.ErrorMessage = fmt.Sprintf("subject found at position %d, expected %d or better", *r.Actual, s.Position)
	default:
		r.Status = model.StatusPass
	}
	return r
}

func (v *Validator) term(ctx context.Context, def Definition, s TermScenario) model.ScenarioResult {
	req := authority.FindRequest{
		Authority:    def.Authority,
		Subauthority: s.Subauthority,
		Identifier:   s.Identifier,
	}
	r := model.ScenarioResult{
		Authority:    def.Authority,
		Subauthority: s.Subauthority,
		Service:      def.Service,
		Action:       model.ActionFetch,
		URL:          v.client.FindURL(req),
		ScenarioType: model.ScenarioConnection,
	}

	start := v.now()
	resp, err := v.client.Find(ctx, req)
	r.RunTime = v.now().Sub(start)
	switch {
	case err != nil:
		r.Status = model.StatusFail
		r.ErrorMessage = err.Error()
	case resp.Result.URI == "" && resp.Result.Label == "":
		r.Status = model.StatusUnknown
		r.ErrorMessage = "empty term returned"
	default:
		r.Status = model.StatusPass
	}
	return r
}
