package crier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/crier/internal/config"
	"github.com/zulandar/crier/internal/cooldown"
	"github.com/zulandar/crier/internal/health"
	"github.com/zulandar/crier/internal/mention"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Daemon is the main Crier process. It owns the cooldown tracker, the
// router and the supervisor, and runs the maintenance jobs and the health
// server next to them.
type Daemon struct {
	cfg        *config.Config
	tracker    *cooldown.Tracker
	router     *Router
	supervisor *Supervisor
	logger     *zap.Logger
	out        io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config    *config.Config
	Connector Connector
	Book      ContactBook  // optional
	Recorder  Recorder     // optional
	Sink      RecoverySink // optional
	Logger    *zap.Logger
	Out       io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("crier: config is required")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("crier: connector is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	cfg := opts.Config

	tracker := cooldown.NewTracker(cooldown.TrackerOpts{
		Windows: map[string]time.Duration{
			KindBroadcast.String(): cfg.Cooldown.Broadcast,
			KindMention.String():   cfg.Cooldown.Mention,
		},
	})
	resolver := mention.NewResolver(mention.ResolverOpts{
		Normalizer:  Normalizer(cfg),
		Timeout:     cfg.Supervisor.CallTimeout,
		Concurrency: cfg.Supervisor.ResolveConcurrency,
		Logger:      logger.Named("resolver"),
	})
	router, err := NewRouter(RouterOpts{
		Prefix:      cfg.Bot.Prefix,
		BotName:     cfg.Bot.Name,
		MaxMentions: cfg.Bot.MaxMentions,
		CallTimeout: cfg.Supervisor.CallTimeout,
		Tracker:     tracker,
		Resolver:    resolver,
		Book:        opts.Book,
		Recorder:    opts.Recorder,
		Logger:      logger.Named("router"),
	})
	if err != nil {
		return nil, fmt.Errorf("crier: build router: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		tracker: tracker,
		router:  router,
		logger:  logger,
		out:     out,
	}

	b := cfg.Supervisor.Backoff
	d.supervisor, err = NewSupervisor(SupervisorOpts{
		Connector: opts.Connector,
		Handler:   router,
		Sink:      opts.Sink,
		Backoff: Backoff{
			Disconnect: b.Disconnect,
			Launch:     b.Launch,
			Max:        b.Max,
			Jitter:     b.Jitter,
		},
		LivenessInterval: cfg.Supervisor.LivenessInterval,
		StartTimeout:     cfg.Supervisor.StartTimeout,
		Workers:          cfg.Supervisor.Workers,
		OnReady:          d.banner,
		Logger:           logger.Named("supervisor"),
	})
	if err != nil {
		return nil, fmt.Errorf("crier: build supervisor: %w", err)
	}
	return d, nil
}

// Normalizer builds the phone number normalizer described by cfg.
func Normalizer(cfg *config.Config) mention.Normalizer {
	return mention.Normalizer{
		DefaultCode:    cfg.Bot.DefaultCountryCode,
		Prefixes:       cfg.Bot.CountryPrefixes,
		NationalLength: cfg.Bot.NationalLength,
	}
}

// Supervisor returns the daemon's supervisor.
func (d *Daemon) Supervisor() *Supervisor { return d.supervisor }

// Tracker returns the daemon's cooldown tracker.
func (d *Daemon) Tracker() *cooldown.Tracker { return d.tracker }

// Restart asks the supervisor for an operator restart.
func (d *Daemon) Restart() bool { return d.supervisor.Restart() }

// Run starts the supervisor, the maintenance jobs and the health server,
// and blocks until ctx is cancelled. Shutdown is bounded by the configured
// grace period.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "%s starting...\n", d.cfg.Bot.Name)

	jobs, err := d.startMaintenance()
	if err != nil {
		return err
	}
	defer func() {
		<-jobs.Stop().Done()
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return d.supervisor.Run(gctx)
	})
	if !d.cfg.Health.Disabled {
		g.Go(func() error {
			return health.Start(gctx, health.StartOpts{
				Source: healthSource{d.supervisor},
				Name:   d.cfg.Bot.Name,
				Port:   d.cfg.Health.Port,
				Out:    d.out,
			})
		})
	}

	select {
	case <-ctx.Done():
	case <-gctx.Done():
	}

	fmt.Fprintf(d.out, "%s shutting down...\n", d.cfg.Bot.Name)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), d.cfg.Supervisor.ShutdownGrace)
	defer stopCancel()
	if err := d.supervisor.Stop(stopCtx); err != nil {
		d.logger.Error("supervisor did not stop within grace period", zap.Error(err))
		return err
	}
	cancel()

	err = g.Wait()
	fmt.Fprintf(d.out, "%s stopped\n", d.cfg.Bot.Name)
	return err
}

// startMaintenance schedules the heartbeat log and the cooldown reaper.
func (d *Daemon) startMaintenance() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(d.cfg.Maintenance.Heartbeat, d.heartbeat); err != nil {
		return nil, fmt.Errorf("crier: schedule heartbeat %q: %w", d.cfg.Maintenance.Heartbeat, err)
	}
	if _, err := c.AddFunc(d.cfg.Maintenance.Reap, d.reap); err != nil {
		return nil, fmt.Errorf("crier: schedule reap %q: %w", d.cfg.Maintenance.Reap, err)
	}
	c.Start()
	return c, nil
}

func (d *Daemon) heartbeat() {
	st := d.supervisor.Snapshot()
	d.logger.Info("bot alive",
		zap.Stringer("state", st.State),
		zap.Int("retries", st.Retries),
		zap.Int("cooldown_keys", d.tracker.Len()))
}

func (d *Daemon) reap() {
	if n := d.tracker.Reap(time.Minute); n > 0 {
		d.logger.Debug("reaped cooldown entries", zap.Int("count", n))
	}
}

// banner announces a ready session.
func (d *Daemon) banner(st Status) {
	p := d.cfg.Bot.Prefix
	commands := []string{p + "todo", p + "notify", p + "help"}
	d.logger.Info("session ready",
		zap.String("name", d.cfg.Bot.Name),
		zap.String("identity", st.Identity),
		zap.String("prefix", p),
		zap.Strings("commands", commands))
	fmt.Fprintf(d.out, "%s is online as %s. Commands: %s\n",
		d.cfg.Bot.Name, st.Identity, strings.Join(commands, ", "))
}

// healthSource adapts the supervisor to the health server.
type healthSource struct {
	s *Supervisor
}

func (h healthSource) Status() health.Status {
	st := h.s.Snapshot()
	return health.Status{
		State:        st.State.String(),
		Ready:        st.State == StateReady,
		Since:        st.Since,
		Retries:      st.Retries,
		LastFailure:  st.LastFailure,
		Identity:     st.Identity,
		AuthRequired: st.AuthRequired,
	}
}

func (h healthSource) Restart() bool { return h.s.Restart() }
