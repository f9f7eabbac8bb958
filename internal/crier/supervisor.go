package crier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultLivenessInterval = time.Second
	defaultStartTimeout     = 60 * time.Second
	defaultWorkers          = 8
	queuePerWorker          = 16
)

// MessageHandler handles inbound messages of a session. Router implements it.
type MessageHandler interface {
	Handle(ctx context.Context, conn Connection, msg InboundMessage)
}

// restartRequest ends the current session.
type restartRequest struct {
	reason string
	class  FailureClass
}

// Supervisor keeps one session alive at a time. A session is one
// Connection from the Connector; when it ends the Supervisor waits out the
// backoff and builds a new one, until Stop or context cancellation.
type Supervisor struct {
	connector    Connector
	handler      MessageHandler
	sink         RecoverySink
	backoff      Backoff
	liveness     time.Duration
	startTimeout time.Duration
	workers      int
	onReady      func(Status)
	logger       *zap.Logger
	now          func() time.Time

	restartCh chan restartRequest
	inFlight  atomic.Int64

	mu           sync.Mutex
	state        State
	since        time.Time
	retries      int
	lastFailure  string
	identity     string
	pending      bool
	authRequired bool
	conn         Connection
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// SupervisorOpts holds parameters for creating a Supervisor.
type SupervisorOpts struct {
	Connector        Connector
	Handler          MessageHandler
	Sink             RecoverySink // optional; challenges are only logged without it
	Backoff          Backoff      // defaults to DefaultBackoff()
	LivenessInterval time.Duration
	StartTimeout     time.Duration // bounds connector, Connect and Listen
	Workers          int           // concurrent message handlers per session
	OnReady          func(Status)  // optional; called on every ready event
	Logger           *zap.Logger
	Now              func() time.Time
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts SupervisorOpts) (*Supervisor, error) {
	if opts.Connector == nil {
		return nil, fmt.Errorf("crier: supervisor: connector is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("crier: supervisor: handler is required")
	}
	if opts.Backoff.Disconnect == 0 && opts.Backoff.Launch == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = defaultLivenessInterval
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Supervisor{
		connector:    opts.Connector,
		handler:      opts.Handler,
		sink:         opts.Sink,
		backoff:      opts.Backoff,
		liveness:     opts.LivenessInterval,
		startTimeout: opts.StartTimeout,
		workers:      opts.Workers,
		onReady:      opts.OnReady,
		logger:       opts.Logger,
		now:          opts.Now,
		restartCh:    make(chan restartRequest, 1),
		state:        StateUninitialized,
		since:        opts.Now(),
	}, nil
}

// Run supervises sessions until ctx is cancelled or Stop is called. It
// returns nil on orderly shutdown, and immediately if Stop came first.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("crier: supervisor: already running")
	}
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.transition(StateTerminated, "stopped")
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for {
		req := s.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.transition(StateDegraded, req.reason)

		if req.class == FailureAuth {
			if !s.park(ctx, req) {
				return nil
			}
			continue
		}

		s.mu.Lock()
		s.pending = true
		if req.class != FailureOperator {
			s.retries++
		}
		attempt := s.retries
		s.mu.Unlock()

		delay := s.backoff.Delay(req.class, attempt)
		s.logger.Info("restart scheduled",
			zap.String("reason", req.reason),
			zap.Stringer("class", req.class),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if !s.sleep(ctx, delay) {
			return nil
		}
	}
}

// park waits for an operator restart after an authentication failure.
func (s *Supervisor) park(ctx context.Context, req restartRequest) bool {
	s.mu.Lock()
	s.authRequired = true
	s.pending = false
	s.mu.Unlock()
	s.writeChallenge(ctx, Challenge{Reason: req.reason, IssuedAt: s.now()})
	s.logger.Error("authentication required; waiting for operator restart", zap.String("reason", req.reason))

	select {
	case <-ctx.Done():
		return false
	case op := <-s.restartCh:
		s.mu.Lock()
		s.authRequired = false
		s.retries = 0
		s.mu.Unlock()
		s.logger.Info("resuming after operator restart", zap.String("reason", op.reason))
		return true
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runSession runs one connection until it fails, a restart is requested,
// or ctx is cancelled.
func (s *Supervisor) runSession(ctx context.Context) restartRequest {
	s.beginSession()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(sctx, s.startTimeout)
	conn, events, err := s.open(startCtx, sctx)
	startCancel()
	if err != nil {
		class := FailureLaunch
		if errors.Is(err, ErrAuthentication) {
			class = FailureAuth
		}
		s.logger.Warn("session start failed", zap.Stringer("class", class), zap.Error(err))
		return restartRequest{reason: err.Error(), class: class}
	}

	s.setConn(conn)
	jobs := make(chan InboundMessage, s.workers*queuePerWorker)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if sctx.Err() != nil {
					continue
				}
				s.inFlight.Add(1)
				s.handler.Handle(sctx, conn, msg)
				s.inFlight.Add(-1)
			}
		}()
	}

	defer func() {
		if n := s.inFlight.Load() + int64(len(jobs)); n > 0 {
			s.logger.Warn("abandoning in-flight handlers", zap.Int64("count", n))
		}
		cancel()
		close(jobs)
		wg.Wait()
		s.setConn(nil)
		if err := conn.Close(); err != nil {
			s.logger.Warn("close connection", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(s.liveness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return restartRequest{reason: "stopped"}

		case req := <-s.restartCh:
			return req

		case ev, ok := <-events:
			if !ok {
				events = nil
				s.RequestRestart("event stream closed", FailureDisconnect)
				continue
			}
			s.handleEvent(sctx, ev, jobs)

		case <-ticker.C:
			if s.State() == StateReady && !conn.Connected() {
				s.RequestRestart("unresponsive", FailureDisconnect)
			}
		}
	}
}

// open builds, connects and subscribes a new Connection. The event stream
// is bound to the session context, not the start timeout.
func (s *Supervisor) open(startCtx, sctx context.Context) (Connection, <-chan Event, error) {
	conn, err := s.connector(startCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("crier: build connection: %w", err)
	}
	if err := conn.Connect(startCtx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("crier: connect: %w", err)
	}
	events, err := conn.Listen(sctx)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("crier: listen: %w", err)
	}
	return conn, events, nil
}

func (s *Supervisor) handleEvent(ctx context.Context, ev Event, jobs chan<- InboundMessage) {
	switch ev.Kind {
	case EventMessage:
		select {
		case jobs <- ev.Message:
		default:
			s.logger.Warn("handler queue full; message dropped",
				zap.String("chat", ev.Message.ChatID),
				zap.String("message", ev.Message.MessageID))
		}

	case EventReady:
		s.mu.Lock()
		s.retries = 0
		s.identity = ev.Identity
		s.mu.Unlock()
		if s.transition(StateReady, "ready") && s.onReady != nil {
			s.onReady(s.Snapshot())
		}

	case EventQR:
		s.logger.Info("pairing challenge received")
		s.writeChallenge(ctx, Challenge{Payload: ev.Challenge, Reason: "pairing required", IssuedAt: s.now()})

	case EventAuthFailure:
		s.RequestRestart("authentication failure: "+ev.Reason, FailureAuth)

	case EventDisconnected:
		reason := ev.Reason
		if reason == "" {
			reason = "disconnected"
		}
		s.RequestRestart(reason, FailureDisconnect)

	default:
		s.logger.Debug("ignoring event", zap.String("kind", string(ev.Kind)))
	}
}

func (s *Supervisor) writeChallenge(ctx context.Context, c Challenge) {
	if s.sink == nil {
		return
	}
	if err := s.sink.WriteChallenge(ctx, c); err != nil {
		s.logger.Error("write recovery challenge", zap.Error(err))
	}
}

// RequestRestart ends the current session. It returns false, doing
// nothing, when a restart is already pending.
func (s *Supervisor) RequestRestart(reason string, class FailureClass) bool {
	s.mu.Lock()
	if s.pending || s.state == StateTerminated {
		s.mu.Unlock()
		s.logger.Debug("restart already pending", zap.String("reason", reason))
		return false
	}
	s.pending = true
	s.mu.Unlock()

	s.restartCh <- restartRequest{reason: reason, class: class}
	return true
}

// Restart is the operator entry point: it ends the current session, or
// resumes a supervisor parked after an authentication failure.
func (s *Supervisor) Restart() bool {
	return s.RequestRestart("operator restart", FailureOperator)
}

// Stop cancels Run and waits for the teardown to finish or ctx to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done, running := s.cancel, s.done, s.running
	s.mu.Unlock()

	if !running {
		s.transition(StateTerminated, "stopped before start")
		if done != nil {
			<-done
		}
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("crier: stop: %w", ctx.Err())
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:          s.state,
		Since:          s.since,
		Retries:        s.retries,
		LastFailure:    s.lastFailure,
		Identity:       s.identity,
		RestartPending: s.pending,
		AuthRequired:   s.authRequired,
	}
}

// Connection returns the live connection, or nil between sessions.
func (s *Supervisor) Connection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Supervisor) setConn(c Connection) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// beginSession clears the pending restart and enters Authenticating.
func (s *Supervisor) beginSession() {
	select {
	case <-s.restartCh:
	default:
	}
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
	s.transition(StateAuthenticating, "starting session")
}

// transition moves to state to if the state machine allows it and logs the
// change.
func (s *Supervisor) transition(to State, reason string) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			s.logger.Warn("invalid state transition",
				zap.Stringer("from", from), zap.Stringer("to", to), zap.String("reason", reason))
		}
		return false
	}
	s.state = to
	s.since = s.now()
	if to == StateDegraded {
		s.lastFailure = reason
	}
	retries := s.retries
	s.mu.Unlock()

	s.logger.Info("session state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("reason", reason),
		zap.Int("retries", retries))
	return true
}
