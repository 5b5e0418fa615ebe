package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/notify"
	"github.com/always-cache/offline-cache/resync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	addrFlag           string
	hostFlag           string
	dbFilenameFlag     string
	cacheVersionFlag   string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Config file to use (yaml)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db, default cache.db)")
	flag.StringVar(&cacheVersionFlag, "cache-version", "", "Cache version, old versions are deleted on startup")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	config, err := getConfig(configFilenameFlag, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&config)

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if config.LogFile != "" {
		if logFileOutput, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	// set up sqlite provider
	dbFilename := config.DB
	if dbFilename == "memory" {
		dbFilename = ""
	}
	provider, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache db")
	}
	defer provider.Close()

	table, err := config.Table()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid strategy table")
	}
	cacheConfig := offlinecache.Config{
		Cache:      provider,
		OriginHost: config.Host,
		Version:    config.Version,
		APIPrefix:  config.APIPrefix,
		Table:      table,
		Manifest:   config.Manifest,
		Logger:     &log.Logger,
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil || originURL.Host == "" {
		log.Fatal().Err(err).Str("origin", config.Origin).Msg("Please specify a valid origin")
	}
	cacheConfig.OriginURL = *originURL

	ocache := offlinecache.New(cacheConfig)
	report, err := ocache.Start(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Could not delete old cache generations")
	}
	log.Info().Int("cached", len(report.Cached)).Int("failed", len(report.Failed)).Msg("Cache started")

	syncer := resync.NewRunner(log.Logger)
	syncer.Register(resync.BackgroundSync, resync.FetchTask{
		Handler:     ocache,
		Paths:       config.Sync,
		Concurrency: 4,
	})
	notifier := notify.NewDispatcher(logDisplay{}, nil, log.Logger)

	srv := &server{cache: ocache, notifier: notifier, syncer: syncer, version: config.Version}
	log.Info().Msgf("Serving port %v from %s (with hostname '%s')", config.Port, cacheConfig.OriginURL.String(), cacheConfig.OriginHost)
	err = http.ListenAndServe(fmt.Sprintf(":%d", config.Port), newRouter(srv, log.Logger))

	if err != nil {
		panic(err)
	}
}

// applyFlags overrides config values with the flags that were set,
// and fills in defaults.
func applyFlags(config *Config) {
	if originFlag != "" {
		config.Origin = originFlag
	} else if addrFlag != "" {
		config.Origin = "https://" + addrFlag
		config.Host = hostFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	if cacheVersionFlag != "" {
		config.Version = cacheVersionFlag
	}
	if logFilenameFlag != "" {
		config.LogFile = logFilenameFlag
	}

	if config.Port == 0 {
		config.Port = 8080
	}
	if config.DB == "" {
		config.DB = "cache.db"
	}
	if config.Version == "" {
		config.Version = "v1"
	}
}

// logDisplay shows notifications in the log.
type logDisplay struct{}

func (logDisplay) Display(ctx context.Context, n notify.Notification) error {
	log.Info().Str("tag", n.Tag).Str("title", n.Title).Str("body", n.Body).Msg("Notification")
	return nil
}
