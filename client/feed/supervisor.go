package feed

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
	"bitbucket.org/novatechnologies/datafeed/infra/metrics"
)

const (
	DefaultRetries        = 3
	DefaultRetryDelay     = 3 * time.Second
	DefaultReadBufferSize = 32 * 1024

	// longest partial line kept between reads, in read buffers
	maxLineBuffers = 4
)

var errStreamEnded = errors.New("stream ended")

// Dispatcher receives every decoded tick.
type Dispatcher interface {
	Dispatch(ctx context.Context, tick domain.Tick)
}

type SupervisorConfig struct {
	Retries        int
	RetryDelay     time.Duration
	ReadBufferSize int
}

// Supervisor owns the upstream connection. A chain of connection attempts
// starts on demand with a fresh retry budget; while a chain is live further
// start requests are ignored, so at most one connection exists at a time.
type Supervisor struct {
	connector    Connector
	dispatcher   Dispatcher
	eventsBroker domain.EventsBroker
	cfg          SupervisorConfig
	after        func(time.Duration) <-chan time.Time
	// owned by the chain goroutine
	decoder *Decoder

	// orders state events; never held by State or Start
	pubMu     sync.Mutex
	announced domain.StreamState

	mu     sync.Mutex
	state  domain.StreamState
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(connector Connector, dispatcher Dispatcher, cfg SupervisorConfig) *Supervisor {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	return &Supervisor{
		connector:  connector,
		dispatcher: dispatcher,
		cfg:        cfg,
		after:      time.After,
		decoder:    NewDecoder(cfg.ReadBufferSize * maxLineBuffers),
		state:      domain.StreamIdle,
		announced:  domain.StreamIdle,
	}
}

// WithEventsBroker makes the supervisor publish its state changes.
func (s *Supervisor) WithEventsBroker(eventsBroker domain.EventsBroker) *Supervisor {
	s.eventsBroker = eventsBroker
	return s
}

func (s *Supervisor) State() domain.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a connection chain unless one is already live. It reports
// whether a new chain was started. The chain runs until ctx is done, Stop is
// called or the retry budget is exhausted.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Live() {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	// announced by the chain goroutine so events keep their order
	s.setStateLocked(runCtx, domain.StreamConnecting)

	go func() {
		defer close(done)
		defer cancel()
		s.run(runCtx)
	}()
	return true
}

// Stop cancels the live chain, if any, and waits until its reads and timers
// are released. An exhausted supervisor goes back to idle.
func (s *Supervisor) Stop() {
	s.pubMu.Lock()
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	exhausted := cancel == nil && s.state == domain.StreamExhausted
	if exhausted {
		s.setStateLocked(context.Background(), domain.StreamIdle)
	}
	s.mu.Unlock()
	if exhausted {
		s.announce(domain.StreamIdle)
	}
	s.pubMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) run(ctx context.Context) {
	log := logger.FromContext(ctx).WithField("component", "supervisor")
	retriesLeft := s.cfg.Retries

	for {
		s.setState(ctx, domain.StreamConnecting)
		err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			s.finish(ctx, domain.StreamIdle)
			log.Infof("[Supervisor.run] Streaming stopped.")
			return
		}
		log.WithError(err).Errorf("[Supervisor.run] Stream interrupted.")

		s.setState(ctx, domain.StreamReconnectPending)
		if retriesLeft <= 0 {
			s.finish(ctx, domain.StreamExhausted)
			log.Errorf("[Supervisor.run] Maximum reconnection attempts reached.")
			return
		}

		log.Infof("[Supervisor.run] Attempting to reconnect in %s, %d retries left.", s.cfg.RetryDelay, retriesLeft)
		select {
		case <-ctx.Done():
			s.finish(ctx, domain.StreamIdle)
			log.Infof("[Supervisor.run] Streaming stopped.")
			return
		case <-s.after(s.cfg.RetryDelay):
		}
		retriesLeft--
	}
}

func (s *Supervisor) connectAndStream(ctx context.Context) error {
	body, err := s.connector.Connect(ctx)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		return errors.Wrap(err, "connect")
	}
	metrics.ConnectAttempts.WithLabelValues("success").Inc()
	defer body.Close()
	s.decoder.Reset()

	s.setState(ctx, domain.StreamStreaming)
	logger.FromContext(ctx).Infof("[Supervisor.connectAndStream] Connected to the stream.")

	// Close the body on cancellation so a blocked Read returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = body.Close()
		case <-stop:
		}
	}()

	return s.stream(ctx, body)
}

func (s *Supervisor) stream(ctx context.Context, body io.Reader) error {
	decoder := s.decoder
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			s.dispatch(ctx, decoder.Feed(buf[:n]))
		}
		if err == io.EOF {
			s.dispatch(ctx, decoder.Flush())
			return errStreamEnded
		}
		if err != nil {
			return errors.Wrap(err, "read")
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, ticks []domain.Tick) {
	for _, tick := range ticks {
		if ctx.Err() != nil {
			return
		}
		metrics.TicksDecoded.Inc()
		s.dispatcher.Dispatch(ctx, tick)
	}
}

func (s *Supervisor) finish(ctx context.Context, state domain.StreamState) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.setStateLocked(ctx, state)
	s.mu.Unlock()

	s.announce(state)
}

func (s *Supervisor) setState(ctx context.Context, state domain.StreamState) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.setStateLocked(ctx, state)
	s.mu.Unlock()

	s.announce(state)
}

func (s *Supervisor) setStateLocked(ctx context.Context, state domain.StreamState) {
	if s.state == state {
		return
	}
	logger.FromContext(ctx).
		WithField("from", s.state.String()).
		WithField("to", state.String()).
		Debugf("[Supervisor] State changed.")
	s.state = state
	metrics.StreamState.Set(float64(state))
}

// announce publishes state unless it was the last one published. It runs
// under pubMu and outside mu, a full broker only delays other announcements.
func (s *Supervisor) announce(state domain.StreamState) {
	if s.announced == state {
		return
	}
	from := s.announced
	s.announced = state
	if s.eventsBroker == nil {
		return
	}
	// detached from the chain context which is cancelled on stop
	s.eventsBroker.Publish(
		domain.EvTypeStreamState,
		domain.NewEvent(context.Background(), state).WithMetaKV(domain.MetaKeyPrevState, from.String()),
	)
}
