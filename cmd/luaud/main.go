// Command luaud runs a script under the embedded debug adapter:
//
//	luaud <port> <entry_script_path>
//
// The process listens for a DAP client on the TCP port, loads and runs
// the entry script, and exits 0 on normal completion, 1 on a script
// error, -1 on an argument error.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sssooonnnggg/luaud/internal/audit"
	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/config"
	"github.com/sssooonnnggg/luaud/internal/console"
	"github.com/sssooonnnggg/luaud/internal/debugger"
	"github.com/sssooonnnggg/luaud/internal/evalhistory"
	"github.com/sssooonnnggg/luaud/internal/httpserver"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/metrics"
	"github.com/sssooonnnggg/luaud/internal/observer"
	"github.com/sssooonnnggg/luaud/internal/presets"
	"github.com/sssooonnnggg/luaud/internal/tracing"
)

const version = "1.0.0"

var (
	flagConfig      string
	flagRoot        string
	flagStopOnEntry bool
	flagLogLevel    string
	flagLogFormat   string
)

func main() {
	root := &cobra.Command{
		Use:           "luaud <port> <entry_script_path>",
		Short:         "DAP debug adapter for an embedded scripting VM",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "luaud.yaml", "path to the YAML settings file")
	root.Flags().StringVar(&flagRoot, "root", "", "directory relative script paths resolve against")
	root.Flags().BoolVar(&flagStopOnEntry, "stop-on-entry", false, "break on line 1 of the entry script")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error")
	root.Flags().StringVar(&flagLogFormat, "log-format", "", "text|json")

	if err := root.Execute(); err != nil {
		console.Error(os.Stderr, "%v", err)
		os.Exit(-1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[0])
	}
	script := args[1]

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("root") {
		cfg.Root = flagRoot
	}
	if cmd.Flags().Changed("stop-on-entry") {
		cfg.StopOnEntry = flagStopOnEntry
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}

	log := logging.New(logging.Config{
		MinLevel: logLevel(cfg.Log.Level),
		Format:   logFormat(cfg.Log.Format),
	})
	defer log.Close()

	tp, err := tracing.InitTracing(&tracing.Config{
		ServiceName:    "luaud",
		ServiceVersion: version,
		Environment:    "production",
		ExporterType:   cfg.Tracing.ExporterType,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	d := debugger.New(cfg, log)
	d.Initialize(d.VM.MainThread())

	var hub *observer.Hub
	if cfg.Observer.Enabled {
		hub = observer.NewHub(log)
		go hub.Run()
		defer hub.Shutdown()
		d.SetObserver(hub)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(metrics.DefaultConfig())
		d.SetMetrics(m)

		ops := httpserver.New(cfg.Metrics.Addr, version, m.Handler())
		if hub != nil {
			// The spectator websocket rides the operational listener.
			ops.Handle("/observe", http.HandlerFunc(hub.ServeWS))
		}
		ops.Start(nil)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ops.Shutdown(ctx)
		}()
	}

	if cfg.Audit.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		auditLog, err := audit.Open(ctx, audit.Config{Driver: cfg.Audit.Driver, DSN: cfg.Audit.DSN}, log)
		cancel()
		if err != nil {
			console.Warn(os.Stderr, "audit log disabled: %v", err)
		} else {
			defer auditLog.Close()
			d.SetAudit(auditLog)
		}
	}

	if cfg.History.Enabled {
		hist, err := evalhistory.New(cfg.History.URI, cfg.History.DBName, log)
		if err != nil {
			console.Warn(os.Stderr, "eval history disabled: %v", err)
		} else {
			defer hist.Close()
			d.SetHistory(hist)
		}
	}

	if cfg.Presets.Enabled {
		startPresets(d, cfg, log)
	}

	d.SetOnLaunchExit(func() { os.Exit(0) })

	if err := d.Listen(port); err != nil {
		console.Error(os.Stderr, "%v", err)
		os.Exit(1)
	}
	defer d.Stop()
	console.Banner(os.Stdout, version, port)

	scriptErr := d.RunEntry(script)
	if scriptErr != nil {
		d.Bridge.NotifyExited(1)
		console.Error(os.Stderr, "script error: %v", scriptErr)
		log.Sync()
		os.Exit(1)
	}
	d.Bridge.NotifyExited(0)
	return nil
}

// startPresets connects the Redis preset store and, if configured, the
// preset file watcher; applied presets are routed through the Task Pool
// so breakpoint placement stays on the VM thread.
func startPresets(d *debugger.Debugger, cfg *config.Config, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := presets.NewClient(presets.DefaultClientConfig(cfg.Presets.RedisAddr))
	if err := client.Connect(ctx); err != nil {
		console.Warn(os.Stderr, "presets disabled: %v", err)
		return
	}
	store := presets.NewStore(client, log)

	apply := func(p presets.Preset) {
		byPath := make(map[string][]breakpoints.BreakpointSpec)
		for _, bp := range p.Breakpoints {
			norm := d.Paths.Normalize(bp.Path)
			byPath[norm] = append(byPath[norm], breakpoints.BreakpointSpec{
				Line:       bp.Line,
				Condition:  bp.Condition,
				LogMessage: bp.LogMessage,
			})
		}
		for path, specs := range byPath {
			path, specs := path, specs
			d.Tasks.Post(func() { d.Files.SetBreakpoints(path, specs) })
		}
	}

	// A preset named "default" applies before the script starts.
	if p, err := store.Load(ctx, "default"); err == nil {
		apply(*p)
	}

	if cfg.Presets.WatchFile == "" {
		return
	}
	w, err := presets.NewWatcher(cfg.Presets.WatchFile, apply, log)
	if err != nil {
		console.Warn(os.Stderr, "preset watcher disabled: %v", err)
		return
	}
	w.Start()
}

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.Debug
	case "warn":
		return logging.Warn
	case "error":
		return logging.Error
	default:
		return logging.Info
	}
}

func logFormat(s string) logging.Format {
	if s == "json" {
		return logging.JSONFormat
	}
	return logging.TextFormat
}
