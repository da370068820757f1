package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/nullclaw/internal/audit"
	"github.com/basket/nullclaw/internal/bus"
	"github.com/basket/nullclaw/internal/channels"
	"github.com/basket/nullclaw/internal/config"
	"github.com/basket/nullclaw/internal/cron"
	"github.com/basket/nullclaw/internal/doctor"
	"github.com/basket/nullclaw/internal/memory"
	otelPkg "github.com/basket/nullclaw/internal/otel"
	"github.com/basket/nullclaw/internal/peersync"
	"github.com/basket/nullclaw/internal/policy"
	"github.com/basket/nullclaw/internal/reliability"
	"github.com/basket/nullclaw/internal/telemetry"
	"github.com/basket/nullclaw/internal/timeline"
	"github.com/basket/nullclaw/internal/tools"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the nullclaw daemon

SUBCOMMANDS:
  %s doctor [-json]           Run diagnostic checks

ENVIRONMENT VARIABLES:
  NULLCLAW_HOME               Data directory (default: ~/.nullclaw)
  NULLCLAW_NODE_ID            Sync node id override
  NULLCLAW_PEER_URL           Peer websocket URL (enables federation)
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			os.Exit(2)
		}
	}

	os.Exit(runDaemon(ctx))
}

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit JSON output")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	var cfgPtr *config.Config
	if err == nil {
		cfgPtr = &cfg
	}

	d := doctor.Run(ctx, cfgPtr, Version)
	if *asJSON {
		out, _ := json.MarshalIndent(d, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, r := range d.Results {
			fmt.Printf("%-12s %-4s %s\n", r.Name, r.Status, r.Message)
		}
	}
	if !d.Healthy() {
		return 1
	}
	return 0
}

func runDaemon(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	quiet := !isatty.IsTerminal(os.Stdout.Fd())
	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("nullclaw starting", "version", Version, "config", cfg.Fingerprint())

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:  cfg.Otel.Enabled,
		Exporter: cfg.Otel.Exporter,
	})
	if err != nil {
		logger.Error("otel init failed", "error", err)
		return 1
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		logger.Error("otel metrics failed", "error", err)
		return 1
	}

	store := timeline.NewStore(filepath.Join(cfg.HomeDir, "logs", "timeline.jsonl"))
	_ = store.Emit(timeline.KindSystem, timeline.SeverityInfo, "system.start",
		timeline.WithComponent("daemon"), timeline.WithMessage(Version))

	eventBus := bus.New()

	auditLog, err := audit.Open(cfg.HomeDir)
	if err != nil {
		logger.Error("audit log init failed", "error", err)
		return 1
	}

	engine := cfg.SecurityEngine()
	engine.SetDenyHook(policy.DenyHookFunc(func(d policy.Denial) {
		auditLog.OnDeny(d)
		eventBus.Publish(bus.TopicPolicyDenied, d)
		metrics.PolicyDenials.Add(ctx, 1)
		_ = store.Emit(timeline.KindSystem, timeline.SeverityWarn, "policy.denied",
			timeline.WithComponent("policy"), timeline.WithMessage(string(d.Reason)))
	}))

	memBackend, err := memory.NewSQLiteBackend(cfg.Memory.Path, cfg.Memory.RelevanceAlpha)
	if err != nil {
		logger.Error("memory backend init failed", "error", err)
		return 1
	}
	defer memBackend.Close()

	toolRegistry := tools.NewRegistry()
	toolRegistry.Register(tools.NewShellTool(engine, nil, cfg.Security.WorkspaceDir))

	envelopes := buildEnvelopes(cfg, toolRegistry, logger)

	outbox := bus.NewOutbox()
	registry := channels.NewRegistry()
	dispatcher := bus.NewDispatcher(outbox, registry, logger)
	dispatcher.Start(ctx)

	scheduler := cron.NewScheduler(cfg.Schedules, outbox, logger, time.Minute)
	scheduler.Start(ctx)

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				eventBus.Publish(bus.TopicConfigReloaded, nil)
				logger.Info("configuration change detected; restart to apply")
			}
		}()
	}

	syncDone := startFederation(ctx, cfg, memBackend, store, metrics, logger)

	if cfg.Pipeline.Enabled {
		// The pipeline needs planner/executor hooks from an embedding
		// integration; without them tasks take the direct path.
		logger.Info("pipeline enabled in config; waiting for planner/executor hooks")
	}

	logger.Info("nullclaw ready",
		"node", cfg.Sync.NodeID,
		"channels", registry.Names(),
		"tools", toolRegistry.Names(),
		"envelopes", len(envelopes))

	<-ctx.Done()
	logger.Info("shutdown requested")

	bus.Shutdown.Store(true)
	scheduler.Stop()
	outbox.Close()
	dispatcher.Wait()
	if syncDone != nil {
		<-syncDone
	}
	_ = store.Emit(timeline.KindSystem, timeline.SeverityInfo, "system.stop",
		timeline.WithComponent("daemon"))
	logger.Info("nullclaw stopped",
		"dispatched", dispatcher.Counters().Dispatched.Load(),
		"errors", dispatcher.Counters().Errors.Load())
	return 0
}

// buildEnvelopes creates one reliability envelope per registered tool from
// the tools config.
func buildEnvelopes(cfg config.Config, registry *tools.Registry, logger *slog.Logger) map[string]*reliability.Envelope {
	retryPolicy := reliability.RetryPolicy{
		MaxRetries:   cfg.Tools.MaxRetries,
		BaseDelay:    time.Duration(cfg.Tools.BaseDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Tools.MaxDelayMS) * time.Millisecond,
		MultiplierFP: 2000,
	}
	breakerOn := cfg.Tools.BreakerEnabled == nil || *cfg.Tools.BreakerEnabled

	envelopes := make(map[string]*reliability.Envelope)
	for _, name := range registry.Names() {
		var breaker *reliability.CircuitBreaker
		if breakerOn {
			breaker = reliability.NewCircuitBreaker(reliability.DefaultBreakerConfig())
		}
		var cache *reliability.Cache
		if cfg.Tools.CacheCapacity > 0 && cfg.Tools.CacheTTLSec >= 0 && name != "exec" {
			// The shell tool is not idempotent; everything else may opt in.
			cache = reliability.NewCache(cfg.Tools.CacheCapacity,
				time.Duration(cfg.Tools.CacheTTLSec)*time.Second)
		}
		envelopes[name] = reliability.NewEnvelope(retryPolicy, breaker, cache, logger)
	}
	return envelopes
}

// startFederation wires the huginn/muninn peer link: an accept endpoint on
// the gateway host and, when a peer URL is configured, an outbound dial
// loop with heartbeats and miss tracking. Returns a done channel, or nil
// when federation is fully disabled.
func startFederation(ctx context.Context, cfg config.Config, memBackend memory.Backend,
	store *timeline.Store, metrics *otelPkg.Metrics, logger *slog.Logger) <-chan struct{} {

	codec, err := peersync.CodecByName(cfg.Sync.Codec)
	if err != nil {
		logger.Error("sync codec invalid; federation disabled", "error", err)
		return nil
	}
	hbCfg := peersync.HeartbeatConfig{
		IntervalMS:          cfg.Sync.HeartbeatIntervalMS,
		DegradedAfterMissed: cfg.Sync.DegradedAfterMissed,
		OfflineAfterMissed:  cfg.Sync.OfflineAfterMissed,
	}

	apply := func(msg *peersync.Message, gap uint64) {
		metrics.DeltasApplied.Add(ctx, 1)
		_ = store.Emit(timeline.KindMemory, timeline.SeverityInfo, "sync.delta.applied",
			timeline.WithComponent("peersync"),
			timeline.WithMessage(fmt.Sprintf("%s/%s seq=%d gap=%d",
				msg.Header.Kind, msg.Header.Op, msg.Header.Sequence, gap)))
		applyDelta(ctx, memBackend, msg, logger)
	}

	// Accept side: peers dial us at ws://<gateway>/sync.
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		link, err := peersync.Accept(w, r, cfg.Sync.NodeID, codec, hbCfg, 0, apply, logger)
		if err != nil {
			logger.Warn("peer accept failed", "error", err)
			return
		}
		defer link.Close()
		logger.Info("peer connected", "peer", link.Peer().Node)
		go link.RunHeartbeats(r.Context())
		if err := link.ReadLoop(r.Context()); err != nil && r.Context().Err() == nil {
			logger.Warn("peer link closed", "error", err)
		}
	})

	addr := net.JoinHostPort(cfg.Gateway.Host, fmt.Sprint(cfg.Gateway.Port))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("sync listener failed", "addr", addr, "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if cfg.Sync.PeerURL != "" {
			dialLoop(ctx, cfg, codec, hbCfg, apply, logger)
		} else {
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return done
}

// dialLoop keeps the outbound peer link alive, reconnecting with backoff.
func dialLoop(ctx context.Context, cfg config.Config, codec peersync.Codec,
	hbCfg peersync.HeartbeatConfig, apply peersync.ApplyFunc, logger *slog.Logger) {

	backoff := time.Second
	for ctx.Err() == nil {
		link, err := peersync.Dial(ctx, cfg.Sync.PeerURL, cfg.Sync.NodeID, codec, hbCfg, apply, logger)
		if err != nil {
			logger.Warn("peer dial failed", "url", cfg.Sync.PeerURL, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		logger.Info("peer connected", "peer", link.Peer().Node)

		go link.RunHeartbeats(ctx)
		if err := link.ReadLoop(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("peer link dropped", "error", err)
		}
		_ = link.Close()
	}
}

// applyDelta folds an incoming delta into local state. Only memory deltas
// mutate storage here; task and event deltas are audit-visible but their
// owning components consume them via the bus.
func applyDelta(ctx context.Context, backend memory.Backend, msg *peersync.Message, logger *slog.Logger) {
	if msg.Header.Kind != peersync.DeltaMemory || msg.Memory == nil {
		return
	}
	delta := msg.Memory
	if msg.Header.Op == peersync.OpDelete {
		if err := backend.Forget(ctx, delta.Key); err != nil {
			logger.Warn("sync forget failed", "key", delta.Key, "error", err)
		}
		return
	}

	rec := &memory.Record{
		ID:         msg.Header.RecordID,
		Key:        delta.Key,
		Kind:       memory.KindSemantic,
		Tier:       memory.TierStandard,
		Confidence: 1.0,
		Source:     memory.Source{Origin: "sync", ContextID: msg.Header.SourceNode},
		CreatedAt:  time.Now(),
	}
	if delta.Content != nil {
		rec.Content = *delta.Content
	}
	if delta.Kind != nil && memory.ValidKind(memory.RecordKind(*delta.Kind)) {
		rec.Kind = memory.RecordKind(*delta.Kind)
	}
	if delta.Tier != nil && memory.ValidTier(memory.Tier(*delta.Tier)) {
		rec.Tier = memory.Tier(*delta.Tier)
	}
	if delta.Confidence != nil && *delta.Confidence >= 0 && *delta.Confidence <= 1 {
		rec.Confidence = *delta.Confidence
	}
	if err := backend.Store(ctx, rec); err != nil {
		logger.Warn("sync store failed", "key", delta.Key, "error", err)
	}
}
