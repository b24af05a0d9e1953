package scenario

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/authority-monitor/internal/model"
)

func result(auth string, st model.ScenarioStatus, typ model.ScenarioType) model.ScenarioResult {
	return model.ScenarioResult{Authority: auth, Status: st, ScenarioType: typ, Action: model.ActionSearch}
}

func TestResultLog_Filter(t *testing.T) {
	l := NewResultLog()
	l.Add(result("A", model.StatusPass, model.ScenarioConnection))
	l.Add(result("B", model.StatusFail, model.ScenarioAccuracy))
	l.Add(result("C", model.StatusUnknown, model.ScenarioConnection))

	all := l.Filter(model.ScenarioAll)
	assert.Equal(t, []string{"A", "B", "C"}, authorities(all))
	assert.Equal(t, []string{"A", "C"}, authorities(l.Filter(model.ScenarioConnection)))
	assert.Equal(t, []string{"B"}, authorities(l.Filter(model.ScenarioAccuracy)))
	assert.Empty(t, l.Filter(model.ScenarioPerformance))
}

func TestResultLog_Counts(t *testing.T) {
	l := NewResultLog()
	assert.Equal(t, 0, l.TestCount())
	assert.Equal(t, 0, l.FailureCount())

	l.Add(result("A", model.StatusPass, model.ScenarioConnection))
	l.Add(result("B", model.StatusFail, model.ScenarioConnection))
	l.Add(result("C", model.StatusUnknown, model.ScenarioConnection))
	assert.Equal(t, 3, l.TestCount())
	assert.Equal(t, 2, l.FailureCount(), "unknown counts as a failure")
}

func TestResultLog_DeletePassing(t *testing.T) {
	l := NewResultLog()
	l.Add(result("A", model.StatusPass, model.ScenarioConnection))
	l.Add(result("B", model.StatusFail, model.ScenarioConnection))
	l.Add(result("C", model.StatusPass, model.ScenarioConnection))
	l.Add(result("D", model.StatusUnknown, model.ScenarioConnection))

	l.DeletePassing()
	assert.Equal(t, []string{"B", "D"}, authorities(l.Results()))
	assert.Equal(t, l.TestCount(), l.FailureCount())
}

func TestResultLog_Append(t *testing.T) {
	a := NewResultLog()
	a.Add(result("A", model.StatusPass, model.ScenarioConnection))
	b := NewResultLog()
	b.Add(result("B", model.StatusFail, model.ScenarioConnection))
	b.Add(result("C", model.StatusPass, model.ScenarioConnection))

	a.Append(b)
	a.Append(nil)
	a.Append(a)
	assert.Equal(t, []string{"A", "B", "C"}, authorities(a.Results()))
	assert.Equal(t, 2, b.TestCount(), "source untouched")
}

func TestResultLog_ResultsIsCopy(t *testing.T) {
	l := NewResultLog()
	l.Add(result("A", model.StatusPass, model.ScenarioConnection))
	rs := l.Results()
	rs[0].Authority = "changed"
	assert.Equal(t, "A", l.Results()[0].Authority)
}

func TestResultLog_ConcurrentAdd(t *testing.T) {
	l := NewResultLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add(result("A", model.StatusFail, model.ScenarioConnection))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.TestCount())
}

func authorities(rs []model.ScenarioResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Authority
	}
	return out
}
