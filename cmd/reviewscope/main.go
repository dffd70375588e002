package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"reviewscope/pkg/classifier"
	"reviewscope/pkg/config"
	"reviewscope/pkg/dataset"
	"reviewscope/pkg/journal"
	"reviewscope/pkg/loop"
	"reviewscope/pkg/sink"
	"reviewscope/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"f" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address, overrides server.listen from config"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[ERROR] can't load config: %v", err)
		os.Exit(1)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	var secrets []string
	if cfg.Classifier.APIKey != "" {
		secrets = append(secrets, cfg.Classifier.APIKey)
	}
	setupLog(opts.Debug, secrets...)

	log.Printf("[INFO] starting reviewscope version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		log.Printf("[ERROR] reviewscope failed: %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] shutdown complete")
}

// run wires dependencies and blocks until the context is cancelled
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	cls, err := classifier.New(cfg.GetClassifierConfig())
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	var jrnl *journal.Journal
	if cfg.Journal.DSN != "" {
		jrnl, err = journal.New(cfg.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				log.Printf("[WARN] journal close failed: %v", err)
			}
		}()
	}

	var sheet *sink.Sheet
	if cfg.Sink.URL != "" {
		sheet = sink.NewSheet(cfg.GetSinkConfig())
	}

	loopCfg := cfg.GetLoopConfig()
	params := loop.Params{
		Loader:         dataset.NewLoader(cfg.Dataset.Timeout, cfg.Dataset.UserAgent),
		Sampler:        dataset.NewSampler(nil),
		Classifier:     cls,
		Source:         cfg.Dataset.Source,
		Interval:       loopCfg.Interval,
		HistorySize:    loopCfg.HistorySize,
		DedupWindow:    loopCfg.DedupWindow,
		TruncateLength: loopCfg.TruncateLength,
		SinkTimeout:    cfg.Sink.Timeout,
		AutoLogging:    cfg.Sink.Enabled,
	}
	if jrnl != nil {
		params.Journal = jrnl
	}
	if sheet != nil {
		params.Sink = sheet
	}
	lp := loop.New(params)

	var srvJournal server.Journal
	if jrnl != nil {
		srvJournal = jrnl
	}
	var srvSink server.SinkStatus
	if sheet != nil {
		srvSink = sheet
	}
	srv := server.New(cfg, lp, srvJournal, srvSink, revision, debug)
	lp.Subscribe(loop.Events{OnError: srv.NoteError})

	// startup failure is fatal to the interactive features only: the
	// manual trigger answers not-ready and the timer never starts, but
	// the status surface stays up
	if err := lp.Init(ctx); err != nil {
		log.Printf("[ERROR] startup failed, analysis disabled: %v", err)
	} else {
		lp.Start(ctx)
		defer lp.Stop()
	}

	return srv.Run(ctx)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
