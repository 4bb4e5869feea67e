package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/entrhq/autonext/pkg/activate"
	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/loop"
	"github.com/entrhq/autonext/pkg/page"
	"github.com/entrhq/autonext/pkg/page/htmldoc"
	"github.com/entrhq/autonext/pkg/poll"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const control = `<button id="prevNextFocusNext">下一节</button>`

func newDoc(t *testing.T, body string) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString("<html><body>" + body + "</body></html>")
	require.NoError(t, err)
	return doc
}

func newSession(t *testing.T, doc *htmldoc.Document, opts Options) (*Session, *loop.Manual, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	m := loop.NewManual(time.Unix(0, 0))
	s, err := New(doc, m, logging.New(core, "session"), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, m, logs
}

func TestScenarioMarkerPresentAtStart(t *testing.T) {
	doc := newDoc(t, `<div aria-label="任务点已完成"></div>`+control)
	calls := 0
	require.NoError(t, doc.Bind("#prevNextFocusNext", page.HandlerPrimary, func() error {
		calls++
		return nil
	}))
	s, m, _ := newSession(t, doc, Options{})

	s.Start(context.Background())
	m.Advance(time.Second)

	assert.True(t, s.Handled())
	assert.GreaterOrEqual(t, calls, 1)
	assert.Contains(t, doc.Events("#prevNextFocusNext"), page.ClickEvent())
	assert.Len(t, s.Outcomes(), 4)
	assert.True(t, s.Poller().Paused())

	// Later passes detect again but never dispatch again.
	s.Check()
	s.Check()
	m.Advance(time.Minute)
	assert.Len(t, s.Outcomes(), 4)
	assert.Len(t, doc.Events("#prevNextFocusNext"), 3)
}

func TestScenarioDisabledControl(t *testing.T) {
	doc := newDoc(t, `<div aria-label="任务点已完成"></div><button id="prevNextFocusNext" disabled></button>`)
	s, m, logs := newSession(t, doc, Options{})

	s.Start(context.Background())
	m.Advance(0)

	assert.False(t, s.Handled())
	assert.Empty(t, s.Outcomes())
	assert.Equal(t, 1, logs.FilterMessageSnippet("not visible or is disabled").Len())

	// Retried on the next tick.
	m.Advance(poll.DefaultInterval)
	assert.Equal(t, 2, logs.FilterMessageSnippet("not visible or is disabled").Len())
}

func TestScenarioMarkerInsertedLater(t *testing.T) {
	doc := newDoc(t, `<div id="content"></div>`+control)
	s, m, _ := newSession(t, doc, Options{})

	s.Start(context.Background())
	m.Advance(time.Second)
	require.False(t, s.Handled())
	require.Equal(t, 1, s.Checks())

	require.NoError(t, doc.Append("#content", `<span class="ans-job-icon ans-job-icon-clear"></span>`))
	m.Advance(499 * time.Millisecond)
	assert.False(t, s.Handled())

	m.Advance(time.Millisecond)
	assert.True(t, s.Handled(), "observer re-check activates before the next poll tick")
	assert.Equal(t, 2, s.Checks())
	assert.Equal(t, 1, s.Observer().Scheduled())

	m.Advance(300 * time.Millisecond)
	assert.Len(t, doc.Events("#prevNextFocusNext"), 3)
	assert.True(t, s.Poller().Paused(), "observer activation pauses polling")
}

func TestScenarioBoundedExhaustion(t *testing.T) {
	doc := newDoc(t, control)
	s, m, logs := newSession(t, doc, Options{
		Polling: poll.Options{Policy: poll.PolicyBounded, MaxTicks: 4, Interval: time.Second},
	})

	s.Start(context.Background())
	m.Advance(time.Minute)

	assert.True(t, s.Poller().Exhausted())
	assert.Equal(t, 4, s.Checks())
	assert.False(t, s.Handled())
	assert.Empty(t, s.Outcomes())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	// The observer is gone too.
	require.NoError(t, doc.Append("body", `<div aria-label="任务点已完成"></div>`))
	m.Advance(time.Minute)
	assert.False(t, s.Handled())
	assert.Equal(t, 4, s.Checks())
}

func TestBoundedActivationStopsEverything(t *testing.T) {
	doc := newDoc(t, `<div class="ans-job-finished"></div>`+control)
	s, m, _ := newSession(t, doc, Options{
		Polling: poll.Options{Policy: poll.PolicyBounded, MaxTicks: 10},
	})

	s.Start(context.Background())
	m.Advance(time.Minute)

	assert.True(t, s.Handled())
	assert.False(t, s.Poller().Running())
	assert.False(t, s.Poller().Exhausted())
	assert.Equal(t, 1, s.Checks())
}

func TestPollingOnly(t *testing.T) {
	doc := newDoc(t, control)
	s, m, _ := newSession(t, doc, Options{DisableObserver: true})
	assert.Nil(t, s.Observer())

	s.Start(context.Background())
	m.Advance(time.Second)
	require.NoError(t, doc.Append("body", `<div aria-label="任务点已完成"></div>`))
	m.Advance(time.Second)
	assert.False(t, s.Handled(), "no observer, so no re-check before the next tick")

	m.Advance(time.Second)
	assert.True(t, s.Handled())
}

func TestCloseStopsEverything(t *testing.T) {
	doc := newDoc(t, `<div id="content"></div>`+control)
	s, m, _ := newSession(t, doc, Options{})

	s.Start(context.Background())
	m.Advance(0)
	s.Close()
	s.Close()

	require.NoError(t, doc.Append("#content", `<div aria-label="任务点已完成"></div>`))
	m.Advance(time.Minute)
	assert.False(t, s.Handled())
	assert.Equal(t, 1, s.Checks())
	assert.Equal(t, 0, m.Pending())
}

func TestNewRejectsBadOptions(t *testing.T) {
	doc := newDoc(t, control)
	m := loop.NewManual(time.Unix(0, 0))
	_, err := New(doc, m, nil, Options{Polling: poll.Options{Policy: poll.PolicyBounded}})
	assert.Error(t, err)
}

func TestServeOnRealLoop(t *testing.T) {
	doc := newDoc(t, `<div aria-label="任务点已完成"></div>`+control)
	var clicked atomic.Int32
	require.NoError(t, doc.Listen("#prevNextFocusNext", "click", func() error {
		clicked.Add(1)
		return nil
	}))
	s, err := Open(doc, nil, Options{Activation: activateFast()})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, doc.URL(), s.URL())

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.Serve(ctx) }()

	assert.Eventually(t, func() bool { return clicked.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errs)
	assert.True(t, s.Handled())
}

func TestServeRequiresOwnLoop(t *testing.T) {
	s, _, _ := newSession(t, newDoc(t, control), Options{})
	assert.Error(t, s.Serve(context.Background()))
}

func activateFast() activate.Options {
	return activate.Options{Stagger: time.Millisecond}
}
