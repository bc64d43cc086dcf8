package portalpasazera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/livetrains/pkg/ctdf"
)

type fakeNegotiator struct {
	calls atomic.Int32
	err   error
	url   string
}

func (n *fakeNegotiator) Negotiate(ctx context.Context) (*Session, error) {
	n.calls.Add(1)

	if n.err != nil {
		return nil, n.err
	}

	sessionURL := n.url
	if sessionURL == "" {
		sessionURL = "https://example.test/client/?hub=alltrainshub"
	}

	return &Session{
		URL:             sessionURL,
		AccessToken:     "token",
		ConnectionToken: "connection",
	}, nil
}

// fakeConnection replays scripted fragments then either reports a close or
// blocks until it is closed
type fakeConnection struct {
	mutex            sync.Mutex
	fragments        []Fragment
	sent             [][]byte
	closeWhenDrained bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConnection(closeWhenDrained bool, messages ...string) *fakeConnection {
	connection := &fakeConnection{
		closeWhenDrained: closeWhenDrained,
		closed:           make(chan struct{}),
	}

	for _, message := range messages {
		connection.fragments = append(connection.fragments, Fragment{Data: []byte(message), EndOfMessage: true})
	}

	return connection
}

func (c *fakeConnection) Send(ctx context.Context, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConnection) Receive(ctx context.Context) (Fragment, error) {
	c.mutex.Lock()
	if len(c.fragments) > 0 {
		fragment := c.fragments[0]
		c.fragments = c.fragments[1:]
		c.mutex.Unlock()

		return fragment, nil
	}
	c.mutex.Unlock()

	if c.closeWhenDrained {
		return Fragment{}, ErrConnectionClosed
	}

	select {
	case <-c.closed:
	case <-ctx.Done():
	}

	return Fragment{}, ErrConnectionClosed
}

func (c *fakeConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})

	return nil
}

func (c *fakeConnection) Sent() [][]byte {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([][]byte(nil), c.sent...)
}

type fakeDialer struct {
	mutex       sync.Mutex
	connections []*fakeConnection
	dialed      []string
}

func (d *fakeDialer) Dial(ctx context.Context, streamURL string) (Connection, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.dialed = append(d.dialed, streamURL)

	if len(d.connections) == 0 {
		return newFakeConnection(false, "{}\x1e"), nil
	}

	connection := d.connections[0]
	d.connections = d.connections[1:]

	return connection, nil
}

type recordingSubscriber struct {
	mutex   sync.Mutex
	batches [][]*ctdf.TrainPosition
}

func (s *recordingSubscriber) PositionsUpdated(positions []*ctdf.TrainPosition) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.batches = append(s.batches, positions)
}

func (s *recordingSubscriber) Count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.batches)
}

func (s *recordingSubscriber) Last() []*ctdf.TrainPosition {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}

const duplicateBatch = `{"type":1,"target":"TrainStatus","arguments":["PL",[` +
	`{"s":52.1,"d":21.0,"n":"101","p":"EIC","pr":"IC","t":4411,"c":"12:00:01"},` +
	`{"s":52.2,"d":21.1,"n":"101","p":"EIC","pr":"IC","t":4411},` +
	`{"s":50.0,"d":19.9,"n":"202","p":"R","pr":"PR","t":5000}` +
	`]]}` + "\x1e"

func startOrchestrator(t *testing.T, options Options) (*Orchestrator, *recordingSubscriber) {
	orchestrator, err := NewOrchestrator(options)
	require.NoError(t, err)

	subscriber := &recordingSubscriber{}
	orchestrator.Subscribe(subscriber)

	require.NoError(t, orchestrator.Start(context.Background()))
	t.Cleanup(func() {
		orchestrator.Stop()
		<-orchestrator.Done()
	})

	return orchestrator, subscriber
}

func TestOrchestratorStreamsAndPublishes(t *testing.T) {
	connection := newFakeConnection(false, "{}\x1e", duplicateBatch)
	dialer := &fakeDialer{connections: []*fakeConnection{connection}}

	orchestrator, subscriber := startOrchestrator(t, Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     dialer,
	})

	require.Eventually(t, func() bool { return subscriber.Count() == 1 }, time.Second, 5*time.Millisecond)

	published := subscriber.Last()
	require.Len(t, published, 2)
	assert.Equal(t, "101", published[0].Number)
	assert.False(t, published[0].HasGPS)
	assert.Equal(t, "202", published[1].Number)

	sent := connection.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, HandshakeFrame(), sent[0])
	register, _ := RegisterFrame(DefaultRegion, 0)
	assert.Equal(t, register, sent[1])

	assert.Equal(t, []string{"wss://example.test/client/?hub=alltrainshub&id=connection&access_token=token"}, dialer.dialed)
	assert.Equal(t, StateStreaming, orchestrator.State())

	id, ok := orchestrator.TrainIDFor("202")
	assert.True(t, ok)
	assert.Equal(t, int64(5000), id)
}

func TestOrchestratorGPSFilterRepublishes(t *testing.T) {
	connection := newFakeConnection(false, "{}\x1e", duplicateBatch)

	orchestrator, subscriber := startOrchestrator(t, Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     &fakeDialer{connections: []*fakeConnection{connection}},
	})

	require.Eventually(t, func() bool { return subscriber.Count() == 1 }, time.Second, 5*time.Millisecond)

	orchestrator.SetGPSFilter(true)

	assert.Equal(t, 2, subscriber.Count())
	assert.True(t, orchestrator.GPSFilterEnabled())

	published := subscriber.Last()
	require.Len(t, published, 2)
	assert.Equal(t, "101", published[0].Number)
	assert.True(t, published[0].HasGPS)

	positions := orchestrator.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, published[0].GPSTimestamp, positions[0].GPSTimestamp)
	assert.NotSame(t, published[0], positions[0])
}

func TestOrchestratorSingleTrainUpdate(t *testing.T) {
	connection := newFakeConnection(false,
		"{}\x1e",
		duplicateBatch,
		`{"s":50.5,"d":20.0,"n":"202","p":"R","t":5000}`+"\x1e",
		`{"s":51.0,"d":17.0,"n":"303","p":"KM","t":6000,"c":"12:01:00"}`+"\x1e",
	)

	orchestrator, subscriber := startOrchestrator(t, Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     &fakeDialer{connections: []*fakeConnection{connection}},
	})

	require.Eventually(t, func() bool { return subscriber.Count() == 3 }, time.Second, 5*time.Millisecond)

	published := subscriber.Last()
	require.Len(t, published, 3)
	assert.Equal(t, "202", published[1].Number)
	assert.Equal(t, 50.5, published[1].Latitude)
	assert.Equal(t, "303", published[2].Number)

	position, ok := orchestrator.Position("303")
	require.True(t, ok)
	assert.True(t, position.HasGPS)
}

func TestOrchestratorReconnectsAfterClose(t *testing.T) {
	negotiator := &fakeNegotiator{}
	first := newFakeConnection(true, "{}\x1e", duplicateBatch)
	second := newFakeConnection(false, "{}\x1e")

	var states []State
	var statesMutex sync.Mutex

	metrics := &recordingMetrics{onState: func(state State) {
		statesMutex.Lock()
		states = append(states, state)
		statesMutex.Unlock()
	}}

	orchestrator, subscriber := startOrchestrator(t, Options{
		Negotiator: negotiator,
		Dialer:     &fakeDialer{connections: []*fakeConnection{first, second}},
		Metrics:    metrics,
	})

	require.Eventually(t, func() bool {
		statesMutex.Lock()
		defer statesMutex.Unlock()

		return len(states) >= 7
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), negotiator.calls.Load())
	assert.Equal(t, StateStreaming, orchestrator.State())
	assert.Equal(t, 1, subscriber.Count())
	assert.Equal(t, 2, len(second.Sent()))

	statesMutex.Lock()
	defer statesMutex.Unlock()
	assert.Equal(t, []State{
		StateNegotiating, StateConnected, StateStreaming, StateClosed,
		StateNegotiating, StateConnected, StateStreaming,
	}, states)
}

func TestOrchestratorRetriesFailedNegotiation(t *testing.T) {
	negotiator := &fakeNegotiator{err: errors.New("upstream down")}

	orchestrator, _ := startOrchestrator(t, Options{
		Negotiator: negotiator,
		Dialer:     &fakeDialer{},
	})

	require.Eventually(t, func() bool { return negotiator.calls.Load() >= 3 }, time.Second, time.Millisecond)

	orchestrator.Stop()
	select {
	case <-orchestrator.Done():
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}

	assert.Equal(t, StateIdle, orchestrator.State())
}

func TestOrchestratorStopsWhileStreaming(t *testing.T) {
	orchestrator, _ := startOrchestrator(t, Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     &fakeDialer{connections: []*fakeConnection{newFakeConnection(false, "{}\x1e")}},
	})

	require.Eventually(t, func() bool { return orchestrator.State() == StateStreaming }, time.Second, 5*time.Millisecond)

	orchestrator.Stop()
	select {
	case <-orchestrator.Done():
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}

	assert.ErrorIs(t, orchestrator.Start(context.Background()), ErrAlreadyStarted)
}

func TestOrchestratorHandshakeRejected(t *testing.T) {
	negotiator := &fakeNegotiator{}
	rejected := newFakeConnection(false, `{"error":"Requested protocol 'json' is not available."}`+"\x1e")

	orchestrator, _ := startOrchestrator(t, Options{
		Negotiator: negotiator,
		Dialer:     &fakeDialer{connections: []*fakeConnection{rejected}},
	})

	require.Eventually(t, func() bool {
		return negotiator.calls.Load() == 2 && orchestrator.State() == StateStreaming
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, rejected.Sent(), 1)
}

func TestOrchestratorExpressionFilter(t *testing.T) {
	connection := newFakeConnection(false, "{}\x1e", duplicateBatch)

	_, subscriber := startOrchestrator(t, Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     &fakeDialer{connections: []*fakeConnection{connection}},
		Filter:     `Carrier == "PR"`,
	})

	require.Eventually(t, func() bool { return subscriber.Count() == 1 }, time.Second, 5*time.Millisecond)

	published := subscriber.Last()
	require.Len(t, published, 1)
	assert.Equal(t, "202", published[0].Number)
}

func TestNewOrchestratorRejectsBadFilter(t *testing.T) {
	_, err := NewOrchestrator(Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     &fakeDialer{},
		Filter:     `Carrier ==`,
	})
	assert.Error(t, err)

	_, err = NewOrchestrator(Options{})
	assert.Error(t, err)
}

func TestSubscriberPanicDoesNotStopPublishing(t *testing.T) {
	connection := newFakeConnection(false, "{}\x1e", duplicateBatch)

	orchestrator, err := NewOrchestrator(Options{
		Negotiator: &fakeNegotiator{},
		Dialer:     &fakeDialer{connections: []*fakeConnection{connection}},
	})
	require.NoError(t, err)

	orchestrator.Subscribe(SubscriberFunc(func(positions []*ctdf.TrainPosition) {
		panic("subscriber bug")
	}))
	subscriber := &recordingSubscriber{}
	orchestrator.Subscribe(subscriber)

	require.NoError(t, orchestrator.Start(context.Background()))
	defer func() {
		orchestrator.Stop()
		<-orchestrator.Done()
	}()

	require.Eventually(t, func() bool { return subscriber.Count() == 1 }, time.Second, 5*time.Millisecond)
}

// blockingNegotiator never answers until its context ends
type blockingNegotiator struct {
	calls atomic.Int32
}

func (n *blockingNegotiator) Negotiate(ctx context.Context) (*Session, error) {
	n.calls.Add(1)

	<-ctx.Done()
	return nil, ctx.Err()
}

type stateRecorder struct {
	mutex  sync.Mutex
	states []State
}

func (r *stateRecorder) record(state State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.states = append(r.states, state)
}

func (r *stateRecorder) States() []State {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]State(nil), r.states...)
}

func TestOrchestratorReconnectsAfterReceiveTimeout(t *testing.T) {
	server := newSilentHub(t)
	negotiator := &fakeNegotiator{url: server.URL + "/client/?hub=alltrainshub"}
	recorder := &stateRecorder{}

	startOrchestrator(t, Options{
		Negotiator: negotiator,
		Dialer: &WebsocketDialer{
			HandshakeTimeout: 5 * time.Second,
			ReceiveTimeout:   50 * time.Millisecond,
			WriteTimeout:     5 * time.Second,
		},
		Metrics: &recordingMetrics{onState: recorder.record},
	})

	require.Eventually(t, func() bool {
		return len(recorder.States()) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{
		StateNegotiating, StateConnected, StateStreaming, StateClosed, StateNegotiating,
	}, recorder.States()[:5])

	require.Eventually(t, func() bool { return negotiator.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestratorNegotiateTimeout(t *testing.T) {
	negotiator := &blockingNegotiator{}
	recorder := &stateRecorder{}

	orchestrator, _ := startOrchestrator(t, Options{
		Negotiator:       negotiator,
		Dialer:           &fakeDialer{},
		NegotiateTimeout: 20 * time.Millisecond,
		Metrics:          &recordingMetrics{onState: recorder.record},
	})

	require.Eventually(t, func() bool { return negotiator.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{StateNegotiating, StateIdle, StateNegotiating}, recorder.States()[:3])

	orchestrator.Stop()
	select {
	case <-orchestrator.Done():
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

type recordingMetrics struct {
	noopMetrics
	onState func(State)
}

func (m *recordingMetrics) StateChanged(state State) {
	m.onState(state)
}
