package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"instaweb/internal/daemon"
	"instaweb/internal/deps"
	"instaweb/internal/download"
	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/services/ytdlp"
	"instaweb/internal/updater"
	"instaweb/internal/workflow"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bindFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download workers and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx, bindFlag)
		},
	}

	cmd.Flags().StringVar(&bindFlag, "bind", "", "Listen address (overrides the configured server bind)")
	return cmd
}

func runServe(cmd *cobra.Command, ctx *commandContext, bindFlag string) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bind := strings.TrimSpace(bindFlag); bind != "" {
		cfg.Server.Bind = bind
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("instaweb-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update instaweb.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "instaweb-*.log", Exclude: []string{logPath}},
	)

	pidPath := filepath.Join(cfg.Paths.LogDir, "instaweb.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	for _, name := range deps.MissingRequired(deps.CheckBinaries(deps.Required(cfg))) {
		logger.Warn("required binary unavailable",
			logging.String("binary", name),
			logging.String(logging.FieldErrorHint, "downloads will fail until the binary is installed"),
		)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	hub := progress.NewHub()
	downloader := download.New(store, cfg, logger, hub)
	manager := workflow.NewManager(cfg, store, logger, hub, downloader)
	upd := updater.New(cfg, logger, ytdlp.NewCLI(ytdlp.WithBinary(cfg.YtDlpBinary())))

	d, err := daemon.New(cfg, store, logger, manager, hub, upd)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	server, err := daemon.NewServer(cfg, d, store, hub, logger)
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	if err := server.Start(signalCtx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	defer server.Stop()

	<-signalCtx.Done()
	logger.Info("instaweb shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "instaweb.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err == nil {
		return nil
	}
	return fmt.Errorf("link log pointer for %s", target)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
