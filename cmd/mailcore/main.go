package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/mcp"
	mailsync "github.com/brandon/mailcore/internal/sync"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", config.DefaultConfigPath(), "Path to the configuration file")
	accountName = flag.String("account", "", "Account to use, the default account if empty")
	dryRun      = flag.Bool("dry-run", false, "sync: only print the patch")
	include     = flag.String("include", "", "sync: comma-separated folders to sync")
	exclude     = flag.String("exclude", "", "sync: comma-separated folders to skip")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] serve|sync|notify|watch\n", os.Args[0])
	fmt.Fprintf(flag.CommandLine.Output(), "       %s store-secret <key>\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailcore version %s\n", version)
		os.Exit(0)
	}

	mode := "serve"
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
	}

	if mode == "store-secret" {
		if err := storeSecret(flag.Arg(1), os.Stdin); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// stdout carries the serve protocol and the sync report
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	emailCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer emailCache.Close()

	cacheStore := cache.NewStore(emailCache, logger)

	emailManager, err := email.NewManager(cfg, cacheStore, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create email manager")
	}
	defer emailManager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.WithFields(logrus.Fields{"mode": mode, "account": *accountName})
	log.Info("Starting mailcore")

	switch mode {
	case "serve":
		var server *mcp.Server
		server, err = mcp.NewServer(cfg, emailManager, logger)
		if err != nil {
			log.WithError(err).Fatal("Failed to create server")
		}
		server.SetVersion(version)
		err = server.Run(ctx)
	case "sync":
		err = runSync(ctx, emailManager, logger)
	case "notify":
		err = emailManager.Notify(ctx, *accountName, nil)
	case "watch":
		err = emailManager.Watch(ctx, *accountName)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.WithError(err).Error("mailcore failed")
		emailManager.Close()
		emailCache.Close()
		os.Exit(1)
	}
	log.Info("Shutting down mailcore")
}

func runSync(ctx context.Context, m *email.Manager, logger *logrus.Logger) error {
	opts := mailsync.Options{
		DryRun: *dryRun,
		Progress: func(ev mailsync.Event) {
			logger.WithField("stage", ev.Stage).Debug(ev.String())
		},
	}
	switch {
	case *include != "" && *exclude != "":
		return fmt.Errorf("-include and -exclude are mutually exclusive")
	case *include != "":
		opts.Filter = mailsync.Include(splitList(*include)...)
	case *exclude != "":
		opts.Filter = mailsync.Exclude(splitList(*exclude)...)
	}

	report, err := m.Sync(ctx, *accountName, opts)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	errs := report.Errors()
	for _, err := range errs {
		logger.WithError(err).WithField("run_id", report.RunID).Warn("Sync hunk failed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("sync finished with %d errors", len(errs))
	}
	return nil
}
