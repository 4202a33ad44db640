package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"hostwatch-agent/internal/agent/version"
	"hostwatch-agent/internal/collector"
	"hostwatch-agent/internal/command"
	"hostwatch-agent/internal/config"
	"hostwatch-agent/internal/container"
	"hostwatch-agent/internal/database"
	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/model"
	"hostwatch-agent/internal/stream"
	"hostwatch-agent/internal/system"
	"hostwatch-agent/internal/wire"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sink      stream.Sink
	pubConn   *stream.NATSClient
	cmdConn   *stream.NATSClient
	docker    *container.DockerRuntime
	scheduler *collector.Scheduler
	consumer  *command.Consumer
	health    *HealthStatus
}

const (
	healthInterval   = 30 * time.Second
	dockerPingWindow = 5 * time.Second
)

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	a := &Agent{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		health:  NewHealthStatus(),
	}

	facts, err := system.DetectHostFacts(ctx)
	if err != nil {
		logger.Warn("host facts incomplete", "error", err)
	}
	identity := collector.Identity{
		Name:       cfg.HostName,
		Identifier: cfg.HostIdentifier,
		IPs:        cfg.HostIPs,
		OSType:     facts.OSType,
	}
	if len(identity.IPs) == 0 {
		identity.IPs = facts.IPs
	}
	if identity.OSType == "" {
		identity.OSType = "Linux"
	}

	var (
		containers collector.ContainerLister
		databases  collector.DatabaseLister
		controller command.ContainerController
	)
	if cfg.ContainersEnabled {
		a.docker, err = container.NewDockerRuntime(cfg.DockerHost)
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		a.pingDocker(ctx)
		stats := container.NewCLIStats(system.ExecRunner{}, cfg.DockerHost, cfg.ContainerStatsTimeout)
		containers = container.NewInspector(logger, a.docker, stats, cfg.ContainerConcurrency, a.metrics)
		controller = a.docker
	}

	targets, backups := databaseTargets(cfg.Databases)
	if len(targets) > 0 {
		queries := database.DefaultQueries().WithOverrides(cfg.QueryOverrides)
		databases = database.NewProber(logger, targets, database.DefaultCollectors(logger, queries), cfg.DatabaseProbeTimeout, a.metrics)
	}

	pub, pubConn, err := stream.NewPublisherFromConfig(ctx, cfg, tlsCfg, logger, a.metrics)
	if err != nil {
		a.closeDocker()
		return nil, fmt.Errorf("publisher: %w", err)
	}
	a.pubConn = pubConn
	a.sink = &healthSink{sink: pub, health: a.health}
	a.health.SetBrokerConnected(pubConn.Connected())

	sampler := system.NewSampler(logger)
	a.scheduler = collector.NewScheduler(
		logger,
		collector.NewHostCollector(sampler, identity),
		containers,
		databases,
		a.sink,
		cfg.ScrapeInterval(),
		cfg.CollectorErrorBackoff,
		a.metrics,
	)
	a.health.scheduler = a.scheduler

	if cfg.CommandsEnabled {
		executor := command.NewExecutor(command.ExecutorConfig{
			AllowedActions: cfg.AllowedActions,
			AllowedUnits:   cfg.AllowedUnits,
			BackupDir:      cfg.BackupDir,
			BackupTargets:  backups,
			Timeout:        cfg.ActionTimeout,
		}, controller, system.ExecRunner{})

		if err := a.startConsumer(ctx, cfg, tlsCfg, executor); err != nil {
			_ = pub.Close(ctx)
			a.closeDocker()
			return nil, err
		}
		logger.Info("command consumer ready", "subject", cfg.CommandSubject, "actions", executor.Allowed())
	}

	return a, nil
}

// startConsumer opens the command connection. The durable subscription is
// bound by the consumer loop, so a missing command stream does not block
// startup.
func (a *Agent) startConsumer(ctx context.Context, cfg config.Config, tlsCfg *tls.Config, executor command.Executor) error {
	conn, err := stream.ConnectNATS(ctx, stream.NATSOptionsFromConfig(cfg, tlsCfg, "commands"), a.logger)
	if err != nil {
		return fmt.Errorf("command connection: %w", err)
	}
	a.cmdConn = conn
	a.consumer = command.NewConsumer(
		a.logger,
		command.JetStreamBinder(conn, cfg.CommandSubject, cfg.ConsumerDurable()),
		executor,
		cfg.CommunicationKey,
		cfg.HostIdentifier,
		cfg.CommandBatchSize,
		cfg.CommandFetchWait,
		a.metrics,
	)
	a.health.consumer = a.consumer
	return nil
}

// databaseTargets converts configured instances into probe targets and
// collects the postgres ones that may be backed up on command.
func databaseTargets(in []config.DatabaseTarget) ([]database.Target, map[string]string) {
	targets := make([]database.Target, 0, len(in))
	backups := make(map[string]string)
	for _, d := range in {
		t := database.Target{
			Name:       d.Name,
			Engine:     model.ParseEngineType(d.Type),
			Connection: d.Connection,
		}
		targets = append(targets, t)
		if t.Engine == model.EnginePostgres {
			backups[t.Name] = t.Connection
		}
	}
	return targets, backups
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting hostwatch-agent",
		"version", version.Version,
		"host_identifier", a.cfg.HostIdentifier,
		"broker_url", a.cfg.BrokerURL,
		"scrape_interval", a.cfg.ScrapeInterval(),
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("hostwatch-agent stopped")
	return nil
}

// BuildLogger writes to stdout and, when a log file is configured, to a
// size-rotated file as well.
func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	hOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(out, hOpts)
	if cfg.LogJSON {
		h = slog.NewJSONHandler(out, hOpts)
	}
	return slog.New(h).With("host_identifier", cfg.HostIdentifier)
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) Publish(ctx context.Context, subject model.Subject, rec wire.Record) error {
	if err := s.sink.Publish(ctx, subject, rec); err != nil {
		if ctx.Err() == nil {
			s.health.SetBrokerConnected(false)
		}
		return err
	}
	now := time.Now().UTC()
	s.health.SetBrokerConnected(true)
	s.health.MarkPublish(now)
	if subject == model.SubjectHostMetric {
		if host, ok := rec.(model.HostMetric); ok {
			now = host.Timestamp
		}
		s.health.MarkHostSample(now)
	}
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
