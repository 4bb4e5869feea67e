package observe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/autonext/pkg/detect"
	"github.com/entrhq/autonext/pkg/loop"
	"github.com/entrhq/autonext/pkg/page"
	"github.com/entrhq/autonext/pkg/page/htmldoc"
)

type fixture struct {
	doc      *htmldoc.Document
	sched    *loop.Manual
	obs      *Observer
	rechecks []time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	doc, err := htmldoc.ParseString(`<html><body><div id="main"></div><div id="side"></div></body></html>`)
	require.NoError(t, err)
	f := &fixture{doc: doc, sched: loop.NewManual(time.Unix(0, 0))}
	f.obs, err = New(f.sched, nil, Options{
		Selectors: detect.Selectors(detect.DefaultStrategies()),
		Recheck:   func() { f.rechecks = append(f.rechecks, f.sched.Now()) },
	})
	require.NoError(t, err)
	require.NoError(t, f.obs.Start(context.Background(), doc))
	t.Cleanup(f.obs.Stop)
	return f
}

func TestBatchWithManyMarkersSchedulesOneRecheck(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.doc.Batch(func(b *htmldoc.Batcher) error {
		for i := 0; i < 5; i++ {
			markup := fmt.Sprintf(`<span class="ans-job-icon ans-job-icon-clear" id="m%d"></span>`, i)
			if err := b.Append("#main", markup); err != nil {
				return err
			}
		}
		return nil
	}))
	f.sched.Drain()
	assert.Equal(t, 1, f.obs.Scheduled())
	assert.True(t, f.obs.Pending())

	f.sched.Advance(499 * time.Millisecond)
	assert.Empty(t, f.rechecks)

	f.sched.Advance(time.Millisecond)
	assert.Equal(t, []time.Time{time.Unix(0, 0).Add(500 * time.Millisecond)}, f.rechecks)
	assert.False(t, f.obs.Pending())
}

func TestNestedMarkerQualifies(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.doc.Append("#main", `<div class="wrap"><p><i aria-label="任务点已完成"></i></p></div>`))
	f.sched.Advance(time.Second)
	assert.Len(t, f.rechecks, 1)
}

func TestLaterBatchReplacesPendingRecheck(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.doc.Append("#main", `<div class="ans-job-finished"></div>`))
	f.sched.Advance(200 * time.Millisecond)
	require.NoError(t, f.doc.Append("#side", `<div class="ans-job-finished"></div>`))
	f.sched.Advance(2 * time.Second)

	assert.Equal(t, 2, f.obs.Scheduled())
	assert.Equal(t, []time.Time{time.Unix(0, 0).Add(700 * time.Millisecond)}, f.rechecks)
}

func TestAttributeChangeQualifies(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.doc.Append("#main", `<span id="icon" class="ans-job-icon"></span>`))
	f.sched.Advance(time.Second)
	require.Empty(t, f.rechecks)

	require.NoError(t, f.doc.SetAttribute("#icon", "class", "ans-job-icon ans-job-icon-clear"))
	f.sched.Advance(time.Second)
	assert.Len(t, f.rechecks, 1)
}

func TestIrrelevantMutationsAreIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.doc.Append("#main", `<p>任务点已完成</p>`))
	require.NoError(t, f.doc.SetAttribute("#side", "data-state", "ans-job-finished"))
	require.NoError(t, f.doc.SetAttribute("#side", "class", "loading"))
	f.sched.Advance(time.Second)

	assert.Zero(t, f.obs.Scheduled())
	assert.Empty(t, f.rechecks)
}

func TestStopCancelsPendingRecheck(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.doc.Append("#main", `<div aria-label="任务点已完成"></div>`))
	f.sched.Drain()
	require.True(t, f.obs.Pending())

	f.obs.Stop()
	f.obs.Stop()
	require.NoError(t, f.doc.Append("#main", `<div aria-label="任务点已完成"></div>`))
	f.sched.Advance(time.Second)

	assert.Empty(t, f.rechecks)
	assert.Equal(t, 1, f.obs.Scheduled())
}

func TestHandleWithoutSubscription(t *testing.T) {
	sched := loop.NewManual(time.Unix(0, 0))
	calls := 0
	obs, err := New(sched, nil, Options{Selectors: []string{".done"}, Recheck: func() { calls++ }})
	require.NoError(t, err)

	nodes, err := page.ParseFragment(`<div class="done"></div>`)
	require.NoError(t, err)
	assert.True(t, obs.Handle([]page.MutationRecord{{Type: page.MutationAttributes, Target: nodes[0]}}))
	assert.False(t, obs.Handle([]page.MutationRecord{{Type: page.MutationAttributes}}))

	sched.Advance(DefaultDebounce)
	assert.Equal(t, 1, calls)
}

func TestNewRejectsBadSelector(t *testing.T) {
	_, err := New(loop.NewManual(time.Time{}), nil, Options{Selectors: []string{"[unclosed"}})
	assert.Error(t, err)
}
