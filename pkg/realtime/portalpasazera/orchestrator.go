package portalpasazera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/ctdf"
	"github.com/travigo/livetrains/pkg/realtime/trainstate"
)

var (
	ErrHandshake      = errors.New("handshake rejected")
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

type State string

const (
	StateIdle        State = "Idle"
	StateNegotiating State = "Negotiating"
	StateConnected   State = "Connected"
	StateStreaming   State = "Streaming"
	StateClosed      State = "Closed"
)

// Subscriber receives every published batch. The slice is shared between
// subscribers and must not be modified. Subscribers are called from the
// receive loop so they must not block.
type Subscriber interface {
	PositionsUpdated(positions []*ctdf.TrainPosition)
}

type SubscriberFunc func(positions []*ctdf.TrainPosition)

func (f SubscriberFunc) PositionsUpdated(positions []*ctdf.TrainPosition) {
	f(positions)
}

type Metrics interface {
	FramesReceived(count int)
	FramesMalformed(count int)
	BatchPublished(trains int, duration time.Duration)
	Reconnected()
	NegotiationFailed()
	StateChanged(state State)
}

type noopMetrics struct{}

func (noopMetrics) FramesReceived(int) {}
func (noopMetrics) FramesMalformed(int) {}
func (noopMetrics) BatchPublished(int, time.Duration) {}
func (noopMetrics) Reconnected() {}
func (noopMetrics) NegotiationFailed() {}
func (noopMetrics) StateChanged(State) {}

type Options struct {
	Negotiator Negotiator
	Dialer     Dialer
	Region     Region

	// Prefer GPS tracked entries when a train appears twice
	GPSFilter bool
	// Optional expression evaluated against each deduplicated position
	Filter string

	History          trainstate.Config
	NegotiateTimeout time.Duration
	// Wait between reconnection attempts, reconnects immediately when nil
	Backoff backoff.BackOff

	Metrics Metrics
	Now     func() time.Time
}

// Orchestrator owns the stream connection lifecycle and publishes the
// deduplicated positions to its subscribers
type Orchestrator struct {
	options Options

	tracker  *trainstate.Tracker
	trainIDs *trainstate.IDMapping
	decoder  *Decoder
	filter   *vm.Program
	metrics  Metrics
	backoff  backoff.BackOff

	stateMutex sync.RWMutex
	state      State

	subscribersMutex sync.RWMutex
	subscribers      []Subscriber

	dataMutex    sync.RWMutex
	allPositions []*ctdf.TrainPosition
	published    []*ctdf.TrainPosition
	gpsFilter    bool
	lastUpdate   time.Time

	publishMutex sync.Mutex

	lifecycleMutex sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
}

func NewOrchestrator(options Options) (*Orchestrator, error) {
	if options.Negotiator == nil || options.Dialer == nil {
		return nil, errors.New("orchestrator requires a negotiator and a dialer")
	}

	if options.History.MaxFixes == 0 {
		options.History = trainstate.DefaultConfig
	}
	if options.Region.Country == "" {
		options.Region = DefaultRegion
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	orchestrator := &Orchestrator{
		options:   options,
		tracker:   trainstate.NewTracker(options.History),
		trainIDs:  trainstate.NewIDMapping(),
		metrics:   options.Metrics,
		backoff:   options.Backoff,
		state:     StateIdle,
		gpsFilter: options.GPSFilter,
	}
	orchestrator.tracker.Now = options.Now

	if orchestrator.metrics == nil {
		orchestrator.metrics = noopMetrics{}
	}
	if orchestrator.backoff == nil {
		orchestrator.backoff = &backoff.ZeroBackOff{}
	}

	if options.Filter != "" {
		program, err := expr.Compile(options.Filter, expr.Env(ctdf.TrainPosition{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile position filter: %w", err)
		}
		orchestrator.filter = program
	}

	orchestrator.decoder = &Decoder{
		Tracker:  orchestrator.tracker,
		TrainIDs: orchestrator.trainIDs,
		Now:      options.Now,
	}

	return orchestrator, nil
}

func (o *Orchestrator) Subscribe(subscriber Subscriber) {
	o.subscribersMutex.Lock()
	defer o.subscribersMutex.Unlock()

	o.subscribers = append(o.subscribers, subscriber)
}

// Start launches the background connection loop. It runs until Stop is called
// or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycleMutex.Lock()
	defer o.lifecycleMutex.Unlock()

	if o.done != nil {
		return ErrAlreadyStarted
	}

	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	go o.run(ctx, o.done)

	return nil
}

// Stop requests the loop to end without waiting for it, use Done to wait
func (o *Orchestrator) Stop() {
	o.lifecycleMutex.Lock()
	defer o.lifecycleMutex.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
}

// Done is closed once the background loop has exited
func (o *Orchestrator) Done() <-chan struct{} {
	o.lifecycleMutex.Lock()
	defer o.lifecycleMutex.Unlock()

	if o.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	return o.done
}

func (o *Orchestrator) State() State {
	o.stateMutex.RLock()
	defer o.stateMutex.RUnlock()

	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.stateMutex.Lock()
	previous := o.state
	o.state = state
	o.stateMutex.Unlock()

	if previous != state {
		log.Info().Str("from", string(previous)).Str("to", string(state)).Msg("Stream state changed")
		o.metrics.StateChanged(state)
	}
}

func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer o.setState(StateIdle)

	log.Info().Msg("Starting live train stream")

	for ctx.Err() == nil {
		o.cycle(ctx)

		if ctx.Err() != nil {
			break
		}

		wait := o.backoff.NextBackOff()
		if wait == backoff.Stop {
			o.backoff.Reset()
			wait = o.backoff.NextBackOff()
		}
		o.metrics.Reconnected()

		if wait > 0 {
			log.Info().Str("wait", wait.String()).Msg("Waiting before reconnecting")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	log.Info().Msg("Stopped live train stream")
}

// cycle performs one negotiate, connect and stream pass
func (o *Orchestrator) cycle(ctx context.Context) {
	o.setState(StateNegotiating)

	connection, err := o.connect(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to open stream")
		}
		o.setState(StateIdle)
		return
	}
	defer connection.Close()

	// Unblock a pending receive when shutting down
	stopWatching := context.AfterFunc(ctx, func() {
		connection.Close()
	})
	defer stopWatching()

	o.setState(StateConnected)

	pipeline := NewPipeline(o.decoder)

	if err := o.subscribe(ctx, connection, pipeline); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to subscribe to train status")
		}
		o.setState(StateClosed)
		return
	}

	o.setState(StateStreaming)
	o.backoff.Reset()

	err = o.stream(ctx, connection, pipeline)
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Stream ended")
	}

	o.setState(StateClosed)
}

func (o *Orchestrator) connect(ctx context.Context) (Connection, error) {
	negotiateContext := ctx
	if o.options.NegotiateTimeout > 0 {
		var cancel context.CancelFunc
		negotiateContext, cancel = context.WithTimeout(ctx, o.options.NegotiateTimeout)
		defer cancel()
	}

	session, err := o.options.Negotiator.Negotiate(negotiateContext)
	if err != nil {
		o.metrics.NegotiationFailed()
		return nil, err
	}

	return o.options.Dialer.Dial(negotiateContext, session.StreamURL())
}

// subscribe performs the protocol handshake then registers the region
func (o *Orchestrator) subscribe(ctx context.Context, connection Connection, pipeline *Pipeline) error {
	if err := connection.Send(ctx, HandshakeFrame()); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	for {
		fragment, err := connection.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive handshake: %w", err)
		}

		frames := pipeline.Framer.Push(fragment.Data, fragment.EndOfMessage)
		if !fragment.EndOfMessage {
			continue
		}

		if err := handshakeError(frames); err != nil {
			return err
		}

		o.handle(pipeline.ProcessFrames(frames))
		break
	}

	register, err := RegisterFrame(o.options.Region, 0)
	if err != nil {
		return err
	}

	if err := connection.Send(ctx, register); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}

	return nil
}

func handshakeError(frames [][]byte) error {
	for _, frame := range frames {
		var response struct {
			Error string `json:"error"`
		}

		if json.Unmarshal(frame, &response) == nil && response.Error != "" {
			return fmt.Errorf("%w: %s", ErrHandshake, response.Error)
		}
	}

	return nil
}

func (o *Orchestrator) stream(ctx context.Context, connection Connection, pipeline *Pipeline) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fragment, err := connection.Receive(ctx)
		if err != nil {
			pipeline.Reset()
			return err
		}

		output := pipeline.Push(fragment)
		o.handle(output)

		if output.Close {
			return ErrConnectionClosed
		}
	}
}

func (o *Orchestrator) handle(output Output) {
	if output.Frames > 0 {
		o.metrics.FramesReceived(output.Frames)
	}
	if output.Malformed > 0 {
		o.metrics.FramesMalformed(output.Malformed)
	}

	for _, batch := range output.Batches {
		if len(batch) == 0 {
			continue
		}

		o.dataMutex.Lock()
		o.allPositions = batch
		o.lastUpdate = o.options.Now()
		o.dataMutex.Unlock()

		o.publish()
	}

	for _, update := range output.Updates {
		o.applyUpdate(update)
		o.publish()
	}
}

// applyUpdate replaces the cached entry with the same number and GPS presence
func (o *Orchestrator) applyUpdate(update *ctdf.TrainPosition) {
	o.dataMutex.Lock()
	defer o.dataMutex.Unlock()

	positions := make([]*ctdf.TrainPosition, 0, len(o.allPositions)+1)
	replaced := false

	for _, position := range o.allPositions {
		if !replaced && position.Number == update.Number && position.HasGPS == update.HasGPS {
			positions = append(positions, update)
			replaced = true
			continue
		}

		positions = append(positions, position)
	}

	if !replaced {
		positions = append(positions, update)
	}

	o.allPositions = positions
	o.lastUpdate = o.options.Now()
}

// publish filters the latest full batch and hands it to every subscriber
func (o *Orchestrator) publish() {
	o.publishMutex.Lock()
	defer o.publishMutex.Unlock()

	start := time.Now()

	o.dataMutex.RLock()
	all := o.allPositions
	preferGPS := o.gpsFilter
	o.dataMutex.RUnlock()

	filtered := o.applyFilter(Deduplicate(all, preferGPS))

	o.dataMutex.Lock()
	o.published = filtered
	o.dataMutex.Unlock()

	log.Debug().Int("total", len(all)).Int("published", len(filtered)).Bool("gps", preferGPS).Msg("Publishing train positions")

	o.subscribersMutex.RLock()
	subscribers := append([]Subscriber(nil), o.subscribers...)
	o.subscribersMutex.RUnlock()

	for _, subscriber := range subscribers {
		notify(subscriber, filtered)
	}

	o.metrics.BatchPublished(len(filtered), time.Since(start))
}

func notify(subscriber Subscriber, positions []*ctdf.TrainPosition) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Subscriber failed")
		}
	}()

	subscriber.PositionsUpdated(positions)
}

func (o *Orchestrator) applyFilter(positions []*ctdf.TrainPosition) []*ctdf.TrainPosition {
	if o.filter == nil {
		return positions
	}

	filtered := make([]*ctdf.TrainPosition, 0, len(positions))
	for _, position := range positions {
		output, err := expr.Run(o.filter, *position)
		if err != nil {
			log.Debug().Err(err).Str("train", position.Number).Msg("Position filter failed")
			continue
		}

		if keep, ok := output.(bool); ok && keep {
			filtered = append(filtered, position)
		}
	}

	return filtered
}

// SetGPSFilter changes the duplicate resolution mode and immediately republishes
// the last received batch
func (o *Orchestrator) SetGPSFilter(enabled bool) {
	o.dataMutex.Lock()
	o.gpsFilter = enabled
	hasData := len(o.allPositions) > 0
	o.dataMutex.Unlock()

	log.Info().Bool("enabled", enabled).Msg("GPS filter changed")

	if hasData {
		o.publish()
	}
}

func (o *Orchestrator) GPSFilterEnabled() bool {
	o.dataMutex.RLock()
	defer o.dataMutex.RUnlock()

	return o.gpsFilter
}

// Positions returns a copy of the last published batch
func (o *Orchestrator) Positions() []*ctdf.TrainPosition {
	o.dataMutex.RLock()
	defer o.dataMutex.RUnlock()

	positions := make([]*ctdf.TrainPosition, 0, len(o.published))
	for _, position := range o.published {
		copied := &ctdf.TrainPosition{}
		if err := copier.Copy(copied, position); err != nil {
			log.Error().Err(err).Str("train", position.Number).Msg("Failed to copy position")
			continue
		}

		positions = append(positions, copied)
	}

	return positions
}

// Position returns a copy of the published entry for a train number
func (o *Orchestrator) Position(trainNumber string) (*ctdf.TrainPosition, bool) {
	o.dataMutex.RLock()
	defer o.dataMutex.RUnlock()

	for _, position := range o.published {
		if position.Number == trainNumber {
			copied := *position
			return &copied, true
		}
	}

	return nil, false
}

func (o *Orchestrator) LastUpdate() time.Time {
	o.dataMutex.RLock()
	defer o.dataMutex.RUnlock()

	return o.lastUpdate
}

func (o *Orchestrator) TrainIDFor(trainNumber string) (int64, bool) {
	return o.trainIDs.TrainIDFor(trainNumber)
}

// CurrentSpeedFor prefers the GPS history of a train over its schedule history.
// The two histories are kept apart, so a train whose entries stop carrying a
// GPS timestamp starts a new estimate from its schedule positions.
func (o *Orchestrator) CurrentSpeedFor(trainNumber string) (float64, ctdf.SpeedCategory) {
	speed, category := o.tracker.CurrentSpeed(trainstate.HistoryKey(trainNumber, true))
	if category != ctdf.SpeedCategoryUnknown {
		return speed, category
	}

	return o.tracker.CurrentSpeed(trainstate.HistoryKey(trainNumber, false))
}

// TrainIDs exposes the id mapping to detail lookups
func (o *Orchestrator) TrainIDs() *trainstate.IDMapping {
	return o.trainIDs
}

// TrackedTrains is the number of train histories held
func (o *Orchestrator) TrackedTrains() int {
	return o.tracker.Len()
}
