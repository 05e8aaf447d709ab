package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/queue"
)

type fakeSubscriber struct {
	mu        sync.Mutex
	listened  []string
	listenErr error
	stream    chan *Notification
	onListen  func(channel string)
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{stream: make(chan *Notification, 16)}
}

func (s *fakeSubscriber) Listen(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenErr != nil {
		return s.listenErr
	}
	s.listened = append(s.listened, channel)
	if s.onListen != nil {
		s.onListen(channel)
	}
	return nil
}

func (s *fakeSubscriber) Notifications() <-chan *Notification { return s.stream }

func (s *fakeSubscriber) Close() error {
	close(s.stream)
	return nil
}

func (s *fakeSubscriber) channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listened...)
}

type applied struct {
	dataset string
	event   dataset.Event
}

type fakeUpdater struct {
	mu    sync.Mutex
	calls []applied
	fail  error
	ch    chan applied
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{ch: make(chan applied, 64)}
}

func (u *fakeUpdater) Apply(_ context.Context, ds *dataset.Dataset, ev dataset.Event) error {
	u.mu.Lock()
	u.calls = append(u.calls, applied{ds.Name, ev})
	u.mu.Unlock()
	u.ch <- applied{ds.Name, ev}
	return u.fail
}

func (u *fakeUpdater) next(t *testing.T) applied {
	t.Helper()
	select {
	case a := <-u.ch:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
		return applied{}
	}
}

func (u *fakeUpdater) none(t *testing.T) {
	t.Helper()
	select {
	case a := <-u.ch:
		t.Fatalf("unexpected update %v", a)
	case <-time.After(30 * time.Millisecond):
	}
}

func testDatasets() []*dataset.Dataset {
	return []*dataset.Dataset{
		{Name: "parks", Channel: "parks_changed"},
		{Name: "trails", Channel: "trails_changed"},
		{Name: "parks_lowzoom", Channel: "parks_changed"},
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func TestDispatcher_BootstrapBeforeSubscribe(t *testing.T) {
	sub := newFakeSubscriber()
	u := newFakeUpdater()

	var bootstrapped int
	sub.onListen = func(string) {
		u.mu.Lock()
		bootstrapped = len(u.calls)
		u.mu.Unlock()
	}

	d := New(sub, u, testDatasets())
	runDispatcher(t, d)

	got := map[string]dataset.Event{}
	for i := 0; i < 3; i++ {
		a := u.next(t)
		got[a.dataset] = a.event
	}
	assert.Equal(t, map[string]dataset.Event{
		"parks":         dataset.Bulk(),
		"trails":        dataset.Bulk(),
		"parks_lowzoom": dataset.Bulk(),
	}, got)

	require.Eventually(t, func() bool { return len(sub.channels()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"parks_changed", "trails_changed"}, sub.channels(), "each channel subscribed once")
	assert.Equal(t, 3, bootstrapped, "subscription waits for every bootstrap rebuild")
}

func TestDispatcher_BootstrapFailureStillSubscribes(t *testing.T) {
	sub := newFakeSubscriber()
	u := newFakeUpdater()
	u.fail = errors.New("EMPTY_RESULT")

	runDispatcher(t, New(sub, u, testDatasets()[:1]))

	u.next(t)
	require.Eventually(t, func() bool { return len(sub.channels()) == 1 }, time.Second, time.Millisecond)
}

func TestDispatcher_BootstrapDisabled(t *testing.T) {
	sub := newFakeSubscriber()
	u := newFakeUpdater()

	runDispatcher(t, New(sub, u, testDatasets(), WithBootstrap(false)))

	require.Eventually(t, func() bool { return len(sub.channels()) == 2 }, time.Second, time.Millisecond)
	u.none(t)
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	sub := newFakeSubscriber()
	u := newFakeUpdater()
	runDispatcher(t, New(sub, u, testDatasets(), WithBootstrap(false)))
	require.Eventually(t, func() bool { return len(sub.channels()) == 2 }, time.Second, time.Millisecond)

	sub.stream <- &Notification{Channel: "trails_changed", Payload: `{"action":"add","ref":4}`}
	a := u.next(t)
	assert.Equal(t, applied{"trails", dataset.Add(4)}, a)

	sub.stream <- &Notification{Channel: "parks_changed", Payload: ""}
	got := map[string]dataset.Event{}
	for i := 0; i < 2; i++ {
		a := u.next(t)
		got[a.dataset] = a.event
	}
	assert.Equal(t, map[string]dataset.Event{
		"parks":         dataset.Bulk(),
		"parks_lowzoom": dataset.Bulk(),
	}, got)
}

func TestDispatcher_MalformedPayloadDropped(t *testing.T) {
	sub := newFakeSubscriber()
	u := newFakeUpdater()

	var mu sync.Mutex
	var rejected []string
	d := New(sub, u, testDatasets()[1:2], WithBootstrap(false), WithRejectHook(func(ch string) {
		mu.Lock()
		defer mu.Unlock()
		rejected = append(rejected, ch)
	}))
	runDispatcher(t, d)
	require.Eventually(t, func() bool { return len(sub.channels()) == 1 }, time.Second, time.Millisecond)

	sub.stream <- &Notification{Channel: "trails_changed", Payload: `{"action":"add","ref":"x"}`}
	sub.stream <- &Notification{Channel: "trails_changed", Payload: `{"action":"upsert","ref":1}`}
	sub.stream <- &Notification{Channel: "trails_changed", Payload: `{"action":"remove","ref":0}`}

	assert.Equal(t, applied{"trails", dataset.Remove(0)}, u.next(t))
	u.none(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"trails_changed", "trails_changed"}, rejected)
}

func TestDispatcher_UnknownChannelIgnored(t *testing.T) {
	u := newFakeUpdater()
	d := New(newFakeSubscriber(), u, testDatasets())

	d.Dispatch(&Notification{Channel: "roads_changed"})

	for _, q := range d.Queues() {
		assert.Equal(t, 0, q.Len())
	}
}

func TestDispatcher_ReconnectQueuesBulkEverywhere(t *testing.T) {
	d := New(newFakeSubscriber(), newFakeUpdater(), testDatasets())

	d.Dispatch(nil)

	for _, q := range d.Queues() {
		assert.Equal(t, 1, q.Len(), q.Dataset().Name)
	}
}

func TestDispatcher_SubscribeFailureIsFatal(t *testing.T) {
	sub := newFakeSubscriber()
	sub.listenErr = errors.New("connection refused")

	_, errc := runDispatcher(t, New(sub, newFakeUpdater(), testDatasets(), WithBootstrap(false)))

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDispatcher_StopsWhenStreamCloses(t *testing.T) {
	sub := newFakeSubscriber()
	_, errc := runDispatcher(t, New(sub, newFakeUpdater(), testDatasets(), WithBootstrap(false)))
	require.Eventually(t, func() bool { return len(sub.channels()) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, sub.Close())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

type fakeGauge struct{ v float64 }

func (g *fakeGauge) Set(v float64) { g.v = v }

func TestDispatcher_DepthGauges(t *testing.T) {
	gauges := map[string]*fakeGauge{}
	d := New(newFakeSubscriber(), newFakeUpdater(), testDatasets(), WithDepthGauges(func(name string) queue.Gauge {
		g := &fakeGauge{}
		gauges[name] = g
		return g
	}))

	d.Dispatch(&Notification{Channel: "parks_changed"})

	assert.Equal(t, float64(1), gauges["parks"].v)
	assert.Equal(t, float64(0), gauges["trails"].v)
}
