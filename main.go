package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antibyte/raamcode/pkg/api"
	"github.com/antibyte/raamcode/pkg/auth"
	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/configuration"
	"github.com/antibyte/raamcode/pkg/logger"
	"github.com/antibyte/raamcode/pkg/samples"
	"github.com/antibyte/raamcode/pkg/session"
	"github.com/antibyte/raamcode/pkg/terminal"
	tlsmanager "github.com/antibyte/raamcode/pkg/tls"
)

func main() {
	configPath := flag.String("config", "settings.cfg", "path of the settings file")
	runPath := flag.String("run", "", "run a program file once and print its output")
	variantName := flag.String("variant", "", "glyph variant for -run (latin or devanagari)")
	flag.Parse()

	if *runPath != "" {
		os.Exit(runOnce(*configPath, *runPath, *variantName))
	}

	// Konfiguration vor allen anderen Initialisierungen
	if err := configuration.Initialize(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.ConfigInfo("System started - Configuration loaded from: %s", *configPath)

	if err := serve(); err != nil {
		logger.Error(logger.AreaGeneral, "Server stopped: %v", err)
		fmt.Fprintf(os.Stderr, "Server stopped: %v\n", err)
		os.Exit(1)
	}
}

// runOnce prepares configuration and logging for the CLI mode and runs file.
func runOnce(configPath, file, variantName string) int {
	// ohne vorhandene Datei keine settings.cfg anlegen
	if _, err := os.Stat(configPath); err == nil {
		if err := configuration.Initialize(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
			return 1
		}
	} else {
		configuration.InitializeDefaults()
	}
	logger.InitializeWriter(os.Stderr, logger.WARN)
	return runFile(os.Stdout, os.Stderr, file, variantName)
}

// runFile executes a program file, writes its output to stdout and a failure to
// stderr. Files ending in .rc default to the Devanagari variant. The return value
// is the exit code: 0 success, 1 read or machine error, 2 unknown variant.
func runFile(stdout, stderr io.Writer, file, variantName string) int {
	source, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading %s: %v\n", file, err)
		return 1
	}

	cfg := session.ConfigFromSettings()
	v := cfg.DefaultVariant
	if variantName == "" && filepath.Ext(file) == ".rc" {
		v = brainfuck.VariantDevanagari
	}
	if variantName != "" {
		if v, err = brainfuck.ParseVariant(variantName); err != nil {
			fmt.Fprintln(stderr, brainfuck.FriendlyErrorText(err))
			return 2
		}
	}

	ctx := context.Background()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	m := brainfuck.NewMachine(cfg.MachineOptions()...)
	output, err := m.RunContext(ctx, session.CompileSource(string(source), v, cfg.CondenseWords))
	fmt.Fprint(stdout, output)
	if err != nil {
		fmt.Fprintln(stderr, brainfuck.FriendlyErrorText(err))
		return 1
	}
	return 0
}

// serve wires the HTTP surface and blocks until SIGINT/SIGTERM or a listener error.
func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openSamples(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionConfig := session.ConfigFromSettings()
	sessions := session.NewManager(sessionConfig)
	sessions.StartCleanup(ctx)
	logger.SessionInfo("Session manager ready (max %d sessions)", sessionConfig.MaxSessions)

	handler := terminal.NewTerminalHandler(sessions, store)
	defer handler.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", auth.HandleCreateSession(sessions))
	mux.HandleFunc("/api/auth/validate", auth.HandleTokenValidation)
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	api.NewHandler(sessionConfig, store).Register(mux)

	staticDir := configuration.GetString("Server", "static_dir", "web")
	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
		logger.Info(logger.AreaGeneral, "Serving static files from %s", staticDir)
	} else {
		logger.Warn(logger.AreaGeneral, "Static directory %s not found, only the API is served", staticDir)
	}

	tm, err := tlsmanager.NewTLSManager()
	if err != nil {
		return fmt.Errorf("TLS manager: %w", err)
	}

	var servers []*http.Server
	errc := make(chan error, 2)
	listen := func(srv *http.Server, tlsOn bool) {
		servers = append(servers, srv)
		go func() {
			var err error
			if tlsOn {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	if tm.IsEnabled() {
		logger.SecurityInfo("Starting HTTPS server on port %s", tm.HTTPSPort())
		listen(&http.Server{
			Addr:              ":" + tm.HTTPSPort(),
			Handler:           mux,
			TLSConfig:         tm.TLSConfig(),
			ReadHeaderTimeout: 10 * time.Second,
		}, true)
		if h := tm.HTTPHandler(); h != nil {
			logger.SecurityInfo("Starting HTTP server for challenges/redirects on port %s", tm.HTTPPort())
			listen(&http.Server{Addr: ":" + tm.HTTPPort(), Handler: h, ReadHeaderTimeout: 10 * time.Second}, false)
		}
	} else {
		logger.Info(logger.AreaGeneral, "Starting HTTP server on port %s", tm.HTTPPort())
		listen(&http.Server{Addr: ":" + tm.HTTPPort(), Handler: mux, ReadHeaderTimeout: 10 * time.Second}, false)
	}

	select {
	case err = <-errc:
	case <-ctx.Done():
		logger.Info(logger.AreaGeneral, "Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
	return err
}

// openSamples opens the sample library and imports [Samples] seed_file when set
func openSamples(ctx context.Context) (*samples.Store, error) {
	path := configuration.GetString("Samples", "database", "raamcode.db")
	store, err := samples.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("sample library %s: %w", path, err)
	}

	if seedFile := configuration.GetString("Samples", "seed_file", ""); seedFile != "" {
		f, err := os.Open(seedFile)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed file: %w", err)
		}
		defer f.Close()
		n, err := store.Seed(ctx, f)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed file %s: %w", seedFile, err)
		}
		logger.SamplesInfo("Imported %d samples from %s", n, seedFile)
	}
	return store, nil
}
