// Command gpsfix drives an emulator's location through its console port,
// either on a random walk or along a recorded track.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/gpsfix/core"
	"github.com/signalsfoundry/gpsfix/internal/config"
	"github.com/signalsfoundry/gpsfix/internal/console"
	"github.com/signalsfoundry/gpsfix/internal/httpserver"
	"github.com/signalsfoundry/gpsfix/internal/logging"
	"github.com/signalsfoundry/gpsfix/internal/observability"
	"github.com/signalsfoundry/gpsfix/internal/sink"
	"github.com/signalsfoundry/gpsfix/model"
	"github.com/signalsfoundry/gpsfix/timectrl"
	"github.com/signalsfoundry/gpsfix/track"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "gpsfix:", err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	accelerated bool
}

// parseFlags loads the configuration and applies explicitly set flags on
// top of it.
func parseFlags(args []string, stderr io.Writer) (config.Config, options, error) {
	fs := flag.NewFlagSet("gpsfix", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	def := config.Default()
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	fs.BoolVar(&opts.accelerated, "accelerated", false, "skip real delays between fixes (dry runs)")
	host := fs.String("host", def.Console.Hostname, "console host")
	port := fs.Int("port", def.Console.Port, "console port")
	timeout := fs.Duration("timeout", def.Console.Timeout(), "acknowledgement timeout")
	token := fs.String("auth-token", "", "console auth token")
	tokenFile := fs.String("auth-token-file", "", "file holding the console auth token")
	trackPath := fs.String("track", "", "replay this track file instead of walking")
	trackDelay := fs.Duration("track-delay", def.Track.Delay(), "pause between replayed waypoints")
	cycles := fs.Int("cycles", def.Walk.Cycles, "walk cycles to run, 0 runs until interrupted")
	seed := fs.Uint64("seed", 0, "jitter seed, 0 picks one at random")
	httpAddr := fs.String("http-addr", "", "serve /metrics, /healthz and /fixes on this address")
	logLevel := fs.String("log-level", def.Logging.Level, "debug, info, warn or error")
	logFormat := fs.String("log-format", def.Logging.Format, "text or json")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}

	cfg := def
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Console.Hostname = *host
		case "port":
			cfg.Console.Port = *port
		case "timeout":
			cfg.Console.TimeoutSeconds = timeout.Seconds()
		case "auth-token":
			cfg.Console.AuthToken = *token
		case "auth-token-file":
			cfg.Console.AuthTokenFile = *tokenFile
		case "track":
			cfg.Track.Path = *trackPath
		case "track-delay":
			cfg.Track.DelaySeconds = trackDelay.Seconds()
		case "cycles":
			cfg.Walk.Cycles = *cycles
		case "seed":
			cfg.Walk.Seed = *seed
		case "http-addr":
			cfg.HTTP.Addr = *httpAddr
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-format":
			cfg.Logging.Format = *logFormat
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, opts, err
	}
	return cfg, opts, nil
}

// run executes one session. It returns nil when ctx is cancelled, which is
// how a signal ends an endless walk. reg may be nil for the default
// Prometheus registry.
func run(ctx context.Context, args []string, stderr io.Writer, reg prometheus.Registerer) error {
	cfg, opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	base := logging.NewFromEnv(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})
	ctx, log := logging.WithSessionLogger(ctx, base)
	sessionID := logging.SessionIDFromContext(ctx)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewFixCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	mode := "walk"
	var waypoints []model.GeoPosition
	if cfg.Track.Path != "" {
		mode = "track"
		if waypoints, err = track.Load(cfg.Track.Path); err != nil {
			log.Error(ctx, "track rejected", logging.String("path", cfg.Track.Path), logging.String("kind", model.ErrorKind(err)), logging.Err(err))
			return err
		}
		log.Info(ctx, "track loaded", logging.String("path", cfg.Track.Path), logging.Int("waypoints", len(waypoints)))
	}
	origin, err := cfg.Origin.Position()
	if err != nil {
		return err
	}
	legs, err := cfg.Walk.MotionLegs()
	if err != nil {
		return err
	}

	satellites, err := satelliteProvider(ctx, cfg.Fix, log)
	if err != nil {
		return err
	}

	sinks, closeSinks, err := openSinks(cfg, sessionID, collector, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	if cfg.HTTP.Addr != "" {
		srv := httpserver.New(cfg.HTTP.Addr, httpserver.Options{
			SessionID: sessionID,
			Console:   consoleAddress(cfg.Console),
			Mode:      mode,
			Metrics:   collector,
			Stream:    sinks.hub,
			Latest:    sinks.latest,
			Logger:    log,
		})
		if _, err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(stopCtx)
		}()
	}

	token, err := cfg.Console.ResolveAuthToken()
	if err != nil {
		return err
	}
	client, err := console.Dial(ctx, console.Config{
		Host:         cfg.Console.Hostname,
		Port:         cfg.Console.Port,
		Timeout:      cfg.Console.Timeout(),
		AuthToken:    token,
		SkipGreeting: cfg.Console.SkipGreeting,
		Logger:       log,
	})
	if err != nil {
		log.Error(ctx, "console unreachable", logging.String("kind", model.ErrorKind(err)), logging.Err(err))
		return err
	}
	defer client.Close()

	clock := timectrl.Real()
	if opts.accelerated {
		clock = timectrl.NewTimeController(time.Now().UTC(), timectrl.Accelerated)
	}
	simOpts := []core.Option{
		core.WithClock(clock),
		core.WithLogger(log),
		core.WithRecorder(collector),
		core.WithSinks(sinks.all...),
		core.WithSatellites(satellites),
		core.WithAltitude(cfg.Fix.AltitudeMeters),
	}
	if cfg.Walk.Seed != 0 {
		simOpts = append(simOpts, core.WithSeed(cfg.Walk.Seed))
	}
	sim := core.NewMotionSimulator(client, simOpts...)

	st, err := sim.Reset(ctx, origin)
	if err == nil {
		if mode == "track" {
			st, err = sim.Replay(ctx, st, waypoints, cfg.Track.Delay())
		} else {
			st, err = core.Patrol(ctx, sim, st, legs, cfg.Walk.Cycles)
		}
	}

	switch {
	case err == nil:
		log.Info(ctx, "run complete", logging.Int("fixes", st.Steps), logging.String("position", st.Position.String()))
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		log.Info(ctx, "run interrupted", logging.Int("fixes", st.Steps), logging.String("position", st.Position.String()))
		return nil
	default:
		fields := []logging.Field{logging.String("kind", model.ErrorKind(err)), logging.Int("fixes", st.Steps), logging.Err(err)}
		var stepErr *model.StepError
		if errors.As(err, &stepErr) {
			fields = append(fields, logging.Int("step", stepErr.Step), logging.String("label", stepErr.Label))
		}
		log.Error(ctx, "run aborted", fields...)
		return err
	}
}

func consoleAddress(c config.ConsoleConfig) string {
	return console.Config{Host: c.Hostname, Port: c.Port}.Address()
}

func satelliteProvider(ctx context.Context, cfg config.FixConfig, log logging.Logger) (core.SatelliteProvider, error) {
	if cfg.TLEFile == "" {
		return core.FixedSatellites(cfg.Satellites), nil
	}
	f, err := os.Open(cfg.TLEFile)
	if err != nil {
		return nil, fmt.Errorf("open tle file: %w", err)
	}
	defer f.Close()
	tles, err := core.LoadTLEs(f)
	if err != nil {
		return nil, fmt.Errorf("tle file %s: %w", cfg.TLEFile, err)
	}
	c, err := core.NewConstellationSatellites(tles)
	if err != nil {
		return nil, err
	}
	c.MaskDegrees = cfg.ElevationMaskDegrees
	log.Info(ctx, "constellation loaded",
		logging.String("path", cfg.TLEFile),
		logging.Int("satellites", c.Size()),
		logging.Float64("mask_degrees", c.MaskDegrees),
	)
	return c, nil
}

type openedSinks struct {
	all    []core.FixSink
	latest *sink.Latest
	hub    *sink.Hub
}

// openSinks creates the configured observers. The returned func closes
// every opened sink.
func openSinks(cfg config.Config, sessionID string, collector *observability.FixCollector, log logging.Logger) (openedSinks, func(), error) {
	var (
		out     openedSinks
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	out.latest = &sink.Latest{}
	out.all = append(out.all, out.latest)

	if cfg.HTTP.Addr != "" {
		out.hub = sink.NewHub(sessionID, log, collector.SetStreamClients)
		out.all = append(out.all, out.hub)
		closers = append(closers, out.hub)
	}
	if k := cfg.Sinks.Kafka; len(k.Brokers) > 0 {
		ks, err := sink.NewKafka(k.Brokers, k.Topic, sessionID)
		if err != nil {
			closeAll()
			return openedSinks{}, nil, err
		}
		out.all = append(out.all, ks)
		closers = append(closers, ks)
		log.Info(context.Background(), "publishing fixes to kafka", logging.String("topic", k.Topic), logging.Any("brokers", k.Brokers))
	}
	if s := cfg.Sinks.Serial; s.Device != "" {
		ss, err := sink.OpenSerial(s.Device, s.BaudRate, s.Sentence)
		if err != nil {
			closeAll()
			return openedSinks{}, nil, err
		}
		out.all = append(out.all, ss)
		closers = append(closers, ss)
		log.Info(context.Background(), "writing NMEA to serial", logging.String("device", s.Device), logging.Int("baud", s.BaudRate))
	}
	return out, closeAll, nil
}
