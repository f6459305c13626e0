package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"autolite/internal/browsermgr"
	"autolite/internal/catalog"
	"autolite/internal/config"
	"autolite/internal/installer"
	"autolite/internal/launcher"
	"autolite/internal/monitoring"
	"autolite/internal/orchestrator"
	"autolite/internal/platform"
	"autolite/internal/session"
	"autolite/internal/ui"
	"autolite/internal/utils"
	"autolite/internal/version"
	"autolite/internal/workspace"
)

type runFlags struct {
	port       int
	binary     string
	mode       string
	headful    bool
	loadImages bool
	owned      bool
	urls       []string
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the browser, open a session and visit the given URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err == nil {
				applyFlags(cmd, f, &cfg)
				err = cfg.Validate()
			}
			if err != nil {
				fmt.Fprintln(stderr, "Error:", err)
				return &exitError{code: exitFatal, err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, f.urls, stdout, stderr)
		},
	}

	bindRunFlags(cmd, &f)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.IntVarP(&f.port, "port", "p", 9001, "remote debugging port")
	flags.StringVarP(&f.binary, "binary", "b", config.BinaryDefault, "driver binary: default or undetected")
	flags.StringVarP(&f.mode, "mode", "m", config.ModeDebug, "starting mode: debug or release")
	flags.BoolVar(&f.headful, "headful", false, "show the browser window")
	flags.BoolVar(&f.loadImages, "load-images", false, "let pages load images")
	flags.BoolVar(&f.owned, "owned", false, "let the driver start the browser instead of attaching to one")
	flags.StringSliceVar(&f.urls, "url", nil, "URL to visit once the session is ready (repeatable)")
}

// applyFlags overrides environment configuration with explicitly set flags
func applyFlags(cmd *cobra.Command, f runFlags, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("binary") {
		cfg.Binary = f.binary
	}
	if flags.Changed("mode") {
		cfg.Mode = f.mode
	}
	if flags.Changed("headful") {
		cfg.Headless = !f.headful
	}
	if flags.Changed("load-images") {
		cfg.LoadImages = f.loadImages
	}
	if flags.Changed("owned") {
		cfg.Slave = !f.owned
	}
}

func sessionConfig(cfg config.Config, paths config.Paths) session.Config {
	sc := session.DefaultConfig()
	sc.Headless = cfg.Headless
	sc.LoadImages = cfg.LoadImages
	sc.Slave = cfg.Slave
	sc.Port = cfg.Port
	sc.BinaryPath = paths.BinaryPath
	sc.ProfileDir = paths.ProfileDir
	sc.WaitTimeout = cfg.WaitTimeout
	if cfg.Stealth() {
		sc.Variant = session.Stealth
	}
	if !cfg.Debug() {
		sc.Mode = session.Release
	}
	return sc
}

func run(ctx context.Context, cfg config.Config, urls []string, stdout, stderr io.Writer) error {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	printer := ui.NewPrinter(stdout, !color.NoColor)
	fs := afero.NewOsFs()

	fatal := func(err error) error {
		if errors.Is(err, launcher.ErrInterrupted) || errors.Is(err, context.Canceled) {
			printer.Warn("Interrupted by user.")
			return &exitError{code: exitInterrupted, err: err}
		}
		printer.Error("Error! %v", err)
		return &exitError{code: exitFatal, err: err}
	}

	p, err := platform.Current()
	if err != nil {
		return fatal(err)
	}
	home, err := cfg.ResolveHome()
	if err != nil {
		return fatal(err)
	}
	paths := config.NewPaths(home, p, cfg.DriverBaseName())
	if err := paths.Ensure(); err != nil {
		return fatal(err)
	}

	ws := workspace.New(fs, logger.With("component", "workspace"))
	cwd, _ := os.Getwd()
	if _, err := ws.CleanDriverLogs(paths.RuntimeDir, cwd); err != nil {
		logger.Warn("driver log clean-up failed", "error", err)
	}
	if _, err := ws.Tidy(paths.TempDir, paths.BackupDir); err != nil {
		logger.Warn("temp folder clean-up failed", "error", err)
	}

	client, err := utils.NewHTTPClient(cfg.SOCKS5Proxy, cfg.Timeouts.DownloadTimeout)
	if err != nil {
		return fatal(err)
	}

	report := utils.RunHealthChecks(ctx, utils.HealthCheckConfig{
		CheckBrowser:       true,
		CheckDriver:        cfg.Debug(),
		CheckManifest:      cfg.Debug(),
		BrowserVersionArgv: p.VersionArgv(),
		DriverPath:         paths.BinaryPath,
		ManifestURL:        cfg.ManifestURL,
		Client:             client,
		Timeout:            cfg.Timeouts.HealthCheckTimeout,
	})
	if !report.OK() {
		printer.Warn("Health check warning: %s", report.Error())
	}

	monitor := monitoring.NewBrowserMonitor(p, logger.With("component", "monitor"))

	if cfg.Slave {
		l := launcher.New(p, monitor, logger.With("component", "launcher"))
		l.Recorder = monitor
		l.Fs = fs
		l.Interval = cfg.ReadinessInterval
		l.Threshold = cfg.ReadinessThreshold
		l.Settle = cfg.ReadinessSettle
		l.ProbeTimeout = cfg.Timeouts.ProbeTimeout

		printer.Info("Launching browser on port %d ...", cfg.Port)
		handle, res, err := l.Launch(ctx, platform.LaunchOptions{
			ProfileDir: paths.ProfileDir,
			Headless:   cfg.Headless,
			Port:       cfg.Port,
		})
		if err != nil {
			return fatal(err)
		}
		defer handle.Terminate()
		if res.NewProfile {
			printer.Info("Crafting new profile ...")
		} else {
			printer.Info("Spooling up existing profile ...")
		}
	}

	release := browsermgr.New(logger.With("component", "release"))
	defer release.Close()

	manifests := catalog.New(cfg.ManifestURL, p.Tag(), client, cfg.Timeouts.ManifestTimeout, logger.With("component", "catalog"))
	manifests.Retry = utils.DefaultRetryConfig()

	orch := &orchestrator.Orchestrator{
		Sessions: session.NewBootstrapper(
			session.NewWebDriverOpener(fs, logger.With("component", "webdriver")),
			release,
			logger.With("component", "session"),
		),
		Versions:   version.NewResolver(p.VersionArgv(), cfg.Timeouts.VersionTimeout, logger.With("component", "version")),
		Catalog:    manifests,
		Installer:  installer.New(fs, client, installerTarget(p, paths), cfg.SettleDelay, cfg.Timeouts.DownloadTimeout, logger.With("component", "installer")),
		Recorder:   monitor,
		Notifier:   printer,
		RetryPause: cfg.RetryPause,
		Logger:     logger.With("component", "orchestrator"),
	}

	printer.Info("Spawning session ...")
	bundle, rep, err := orch.Run(ctx, sessionConfig(cfg, paths))
	if err != nil {
		// the orchestrator has already told the user
		if errors.Is(err, orchestrator.ErrInterrupted) {
			return &exitError{code: exitInterrupted, err: err}
		}
		return &exitError{code: exitFatal, err: err}
	}
	defer bundle.Close()
	printer.Info("Session ready after %d attempt(s) in %s mode", rep.Attempts, rep.FinalMode)

	for _, u := range urls {
		if err := visit(ctx, bundle, u, printer); err != nil {
			return fatal(err)
		}
	}

	monitor.Refresh(ctx)
	if js, err := monitor.GetMetricsJSON(); err == nil {
		logger.Debug("run metrics", "metrics", js)
	}
	return nil
}

func visit(ctx context.Context, b *session.Bundle, url string, printer *ui.Printer) error {
	if err := utils.ValidateURL(url); err != nil {
		return fmt.Errorf("--url %q: %w", url, err)
	}
	if err := b.Session.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if err := b.Waiter.Until(ctx, session.ElementPresent("body")); err != nil {
		return fmt.Errorf("waiting for %s: %w", url, err)
	}
	title, err := b.Session.Title(ctx)
	if err != nil {
		return err
	}
	printer.Info("%s: %s", url, title)
	return nil
}

func installerTarget(p platform.Platform, paths config.Paths) installer.Target {
	return installer.Target{
		RuntimeDir:     paths.RuntimeDir,
		BinaryPath:     paths.BinaryPath,
		DriverFileName: p.DriverFileName,
		NeedsExecBit:   p.NeedsExecBit(),
	}
}
