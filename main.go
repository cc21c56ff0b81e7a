package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/daemon"
	"github.com/appresence/appresence/internal/database"
	"github.com/appresence/appresence/internal/relay"
	"github.com/appresence/appresence/internal/relayclient"
	"github.com/appresence/appresence/internal/resolver"
	"github.com/appresence/appresence/internal/sdk"
	"github.com/appresence/appresence/internal/tracker"
	"github.com/appresence/appresence/internal/web"
	"github.com/appresence/appresence/pkg/source"
	"github.com/appresence/appresence/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "track":
		trackCommand()
	case "relay":
		relayCommand()
	case "apps":
		appsCommand()
	case "status":
		showStatus()
	case "stop":
		stopCommand()
	case "version":
		showVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`appresence - foreground application presence relay

Usage:
  appresence <command> [options]

Commands:
  track [relay-address]       Start the reporter daemon. The address is
                              probed and persisted; later runs reuse it.
  relay                       Start the relay daemon (HTTP API + presence IPC)
  apps list                   List configured application identities
  apps set <pkg> <name> <client-id>
                              Configure an application identity
  apps enable <pkg>           Enable publishing for an application
  apps disable <pkg>          Disable publishing for an application
  apps remove <pkg>           Remove an application identity
  status                      Show daemon status and current foreground app
  stop [track|relay]          Stop a running daemon (default: track)
  version                     Show version information
  help                        Show this help message

Examples:
  appresence relay
  appresence track 192.168.1.20:3000
  appresence apps set com.spotify.music Spotify 123456789012345678
  appresence status
  appresence stop relay

Environment Variables:
  APPRESENCE_DB_PATH            Database file path
  APPRESENCE_POLL_INTERVAL      Reporter poll interval in seconds
  APPRESENCE_LOOKBACK_MS        Usage event lookback window in milliseconds
  APPRESENCE_THROTTLE_MS        Minimum gap between same-app updates
  APPRESENCE_RELAY_HOST         Relay listen host
  APPRESENCE_RELAY_PORT         Relay listen port
  APPRESENCE_STALE_AFTER        Relay staleness timeout in seconds
  APPRESENCE_PID_FILE           PID file path

Version: %s
`, version.Version)
}

func newLogger(logFile *os.File) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if logFile != nil {
		out.Out = logFile
		out.NoColor = true
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func openLogFile() *os.File {
	logPath := fmt.Sprintf("/tmp/appresence-%d.log", os.Getuid())
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	return logFile
}

// relayPIDFile derives the relay daemon's PID file from the reporter's
// so the two daemons never clobber each other.
func relayPIDFile(cfg *config.Config) string {
	return strings.TrimSuffix(cfg.Daemon.PIDFile, ".pid") + "-relay.pid"
}

func trackCommand() {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration: %v", err)
	}

	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fatal("Failed to check daemon status: %v", err)
	}
	if running {
		fatal("Reporter daemon is already running (PID: %d)", pid)
	}

	if os.Getenv("APPRESENCE_DAEMON_CHILD") != "1" {
		daemonize()
		return
	}

	runTracker(cfg, dm)
}

func runTracker(cfg *config.Config, dm *daemon.Daemon) {
	logFile := openLogFile()
	if logFile != nil {
		defer logFile.Close()
	}
	logger := newLogger(logFile)

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	repo := database.NewRepository(db)

	src, err := source.New(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize usage source")
	}
	defer src.Close()

	client := relayclient.NewClient(cfg.Transport, repo, logger)
	if len(os.Args) > 2 {
		if err := client.Initialize(os.Args[2]); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize relay address")
		}
	} else if err := client.Restore(); err != nil {
		logger.Fatal().Err(err).Msg("no relay address; run: appresence track <relay-address>")
	}

	if err := dm.WritePID(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer dm.RemovePID()

	res := resolver.New(src, cfg.Tracker, logger)
	svc := tracker.NewService(cfg, res, client, repo, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("received shutdown signal")
		cancel()
		svc.Stop()
	}()

	logger.Info().Str("config", cfg.String()).Msg("starting reporter daemon")
	if err := svc.Start(ctx); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("reporter error")
	}
	logger.Info().Msg("reporter stopped")
}

func relayCommand() {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration: %v", err)
	}

	dm := daemon.New(relayPIDFile(cfg))
	running, pid, err := dm.IsRunning()
	if err != nil {
		fatal("Failed to check daemon status: %v", err)
	}
	if running {
		fatal("Relay daemon is already running (PID: %d)", pid)
	}

	if os.Getenv("APPRESENCE_DAEMON_CHILD") != "1" {
		daemonize()
		return
	}

	runRelay(cfg, dm)
}

func runRelay(cfg *config.Config, dm *daemon.Daemon) {
	logFile := openLogFile()
	if logFile != nil {
		defer logFile.Close()
	}
	logger := newLogger(logFile)

	if err := dm.WritePID(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer dm.RemovePID()

	connector := sdk.NewIPCConnector(logger)
	manager := relay.NewManager(connector, cfg.Relay, logger)
	server := web.NewServer(cfg, manager, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go manager.Run(ctx)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("relay API error")
			cancel()
		}
	}()

	logger.Info().Str("addr", server.GetAddress()).Msg("relay daemon started")

	select {
	case <-sigChan:
		logger.Info().Msg("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down relay API")
	}
	manager.Shutdown()
	logger.Info().Msg("relay stopped")
}

func appsCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: appresence apps <list|set|enable|disable|remove> [args]")
		os.Exit(1)
	}

	cfg := config.New()
	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		fatal("Failed to initialize database: %v", err)
	}
	repo := database.NewRepository(db)

	switch os.Args[2] {
	case "list":
		identities, err := repo.ListIdentities()
		if err != nil {
			fatal("Failed to list applications: %v", err)
		}
		if len(identities) == 0 {
			fmt.Println("No applications configured")
			return
		}
		fmt.Printf("%-40s %-24s %-20s %s\n", "PACKAGE", "DISPLAY NAME", "CLIENT ID", "ENABLED")
		for _, id := range identities {
			fmt.Printf("%-40s %-24s %-20s %v\n", id.PackageName, id.DisplayName, id.ClientID, id.Enabled)
		}

	case "set":
		if len(os.Args) < 6 {
			fatal("Usage: appresence apps set <package> <display-name> <client-id>")
		}
		identity, err := repo.UpsertIdentity(os.Args[3], os.Args[4], os.Args[5])
		if err != nil {
			fatal("Failed to save application: %v", err)
		}
		fmt.Printf("Saved %s (%s), enabled: %v\n", identity.PackageName, identity.DisplayName, identity.Enabled)

	case "enable", "disable":
		if len(os.Args) < 4 {
			fatal("Usage: appresence apps %s <package>", os.Args[2])
		}
		if err := repo.SetIdentityEnabled(os.Args[3], os.Args[2] == "enable"); err != nil {
			fatal("Failed to update application: %v", err)
		}
		fmt.Printf("Application %s %sd\n", os.Args[3], os.Args[2])

	case "remove":
		if len(os.Args) < 4 {
			fatal("Usage: appresence apps remove <package>")
		}
		if err := repo.DeleteIdentity(os.Args[3]); err != nil {
			fatal("Failed to remove application: %v", err)
		}
		fmt.Printf("Removed %s\n", os.Args[3])

	default:
		fatal("Unknown apps subcommand: %s", os.Args[2])
	}
}

func showStatus() {
	cfg := config.New()

	for _, d := range []struct {
		name    string
		pidFile string
	}{
		{"Reporter", cfg.Daemon.PIDFile},
		{"Relay", relayPIDFile(cfg)},
	} {
		running, pid, err := daemon.New(d.pidFile).IsRunning()
		switch {
		case err != nil:
			fmt.Printf("%s: status check failed: %v\n", d.name, err)
		case running:
			fmt.Printf("%s: Running (PID: %d)\n", d.name, pid)
		default:
			fmt.Printf("%s: Not running\n", d.name)
		}
	}
	fmt.Printf("Database: %s\n", cfg.Database.Path)

	logger := zerolog.Nop()
	src, err := source.New(logger)
	if err != nil {
		fmt.Printf("\nCould not open usage source: %v\n", err)
		return
	}
	defer src.Close()

	state := resolver.New(src, cfg.Tracker, logger).Resolve()
	fmt.Printf("\nCurrent Foreground:\n")
	fmt.Printf("  Package: %s\n", orDash(state.Package))
	fmt.Printf("  Name:    %s\n", orDash(state.DisplayName))
	fmt.Printf("  Method:  %s\n", state.Method)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stopCommand() {
	cfg := config.New()

	target := "track"
	if len(os.Args) > 2 {
		target = os.Args[2]
	}

	var name, pidFile string
	switch target {
	case "track":
		name, pidFile = "Reporter", cfg.Daemon.PIDFile
	case "relay":
		name, pidFile = "Relay", relayPIDFile(cfg)
	default:
		fatal("Unknown stop target: %s (expected track or relay)", target)
	}

	dm := daemon.New(pidFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fatal("Failed to check daemon status: %v", err)
	}
	if !running {
		fmt.Printf("%s daemon is not running\n", name)
		return
	}
	fmt.Printf("Stopping %s daemon (PID: %d)...\n", strings.ToLower(name), pid)
	if err := dm.Stop(); err != nil {
		fatal("Failed to stop daemon: %v", err)
	}
	fmt.Println("Daemon stopped successfully")
}

func daemonize() {
	env := append(os.Environ(), "APPRESENCE_DAEMON_CHILD=1")
	procAttr := &os.ProcAttr{
		Env:   env,
		Files: []*os.File{nil, nil, nil},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	process, err := os.StartProcess(os.Args[0], os.Args, procAttr)
	if err != nil {
		fatal("Failed to start daemon process: %v", err)
	}
	fmt.Printf("Daemon started successfully (PID: %d)\n", process.Pid)
	fmt.Printf("Logs: /tmp/appresence-%d.log\n", os.Getuid())
}

func showVersion() {
	fmt.Printf("version: %s\n", version.Version)
	fmt.Printf("built  : %s\n", version.Date)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
