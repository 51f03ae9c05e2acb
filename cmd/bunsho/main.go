// Package main is the bunsho CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hyperjump/bunsho/internal/charset"
	"github.com/hyperjump/bunsho/internal/chunker"
	"github.com/hyperjump/bunsho/internal/cli"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/documents"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/ingest"
	"github.com/hyperjump/bunsho/internal/server"
	"github.com/hyperjump/bunsho/internal/store"
	"github.com/hyperjump/bunsho/internal/tabular"
	"github.com/hyperjump/bunsho/internal/watcher"
	"github.com/hyperjump/bunsho/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/bunsho/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml exists in
// the current directory, that file is used instead so the binary works from a checkout.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "documents":
		runDocuments()
	case "chunks":
		runChunks()
	case "delete":
		runDelete()
	case "schema":
		runSchema()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("bunsho version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags are shared by every subcommand that touches the store.
type commonFlags struct {
	configPath *string
	output     *string
	collection *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		output:     fs.String("output", "text", "output format: text or json"),
		collection: fs.String("collection", "", "target collection (default: class from the schema file)"),
	}
}

// argsReorder moves flags that follow positional arguments to the front so
// "bunsho delete report -collection Docs" parses the same as the flag-first form.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// session is the state a store-backed subcommand needs.
type session struct {
	cfg        *config.Config
	logger     *zap.Logger
	components *Components
	format     cli.OutputFormat
	collection string
}

// openSession loads config, credentials and components, exiting on failure.
func openSession(flags commonFlags) *session {
	format, err := cli.ParseOutputFormat(*flags.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, _, err := loadConfig(*flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(context.Background(), cfg, logger, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	collection := *flags.collection
	if collection == "" {
		collection = components.Collection
	}
	return &session{cfg: cfg, logger: logger, components: components, format: format, collection: collection}
}

func (s *session) Close() {
	s.components.Close()
	_ = s.logger.Sync()
}

func fail(s *session, what string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", what, err)
	s.Close()
	os.Exit(1)
}

func runServer() {
	fs, flags := newFlagSet("server")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*flags.configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	cfg.Debug = debugMode
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("store", cfg.Store.Type),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(context.Background(), cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	// HTTP actions and inbox ingestion take turns on one lock.
	var actions sync.Mutex
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Directory != "" {
		inbox := newInbox(cfg, components, *flags.collection, &actions, logger)
		if err := inbox.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		if err := inbox.SyncExisting(); err != nil {
			logger.Warn("inbox sync failed", zap.Error(err))
		}
		defer inbox.Stop()
	}

	defaultCollection := *flags.collection
	if defaultCollection == "" {
		defaultCollection = components.Collection
	}
	srv := server.NewServer(components.Coordinator, components.Documents, cfg, logger,
		server.WithDefaultCollection(defaultCollection),
		server.WithActionLock(&actions),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	waitForSignal()

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}

func runIngest() {
	fs, flags := newFlagSet("ingest")
	docName := fs.String("doc-name", "", "document name (default: file name without extension)")
	docType := fs.String("doc-type", "", "document type")
	chunkSize := fs.Int("chunk-size", 0, "characters per chunk (default from config)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 {
		fmt.Println("Usage: bunsho ingest [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		os.Exit(1)
	}
	name := *docName
	if name == "" {
		name = utils.FileStem(path)
	}

	s := openSession(flags)
	defer s.Close()

	res, err := s.components.Coordinator.Ingest(context.Background(), ingest.Request{
		FileName:   filepath.Base(path),
		Content:    content,
		ChunkSize:  *chunkSize,
		DocName:    name,
		DocType:    *docType,
		Collection: s.collection,
	})
	if err != nil {
		fail(s, "Ingestion", err)
	}
	if err := cli.WriteIngestResult(os.Stdout, res, s.format); err != nil {
		fail(s, "Output", err)
	}
}

func runDocuments() {
	fs, flags := newFlagSet("documents")
	raw := fs.Bool("raw", false, "list every stored record instead of per-document summaries")
	_ = fs.Parse(os.Args[2:])

	s := openSession(flags)
	defer s.Close()
	ctx := context.Background()

	if *raw {
		objs, err := s.components.Documents.ListDocuments(ctx, s.collection)
		if err != nil {
			fail(s, "Listing", err)
		}
		if err := cli.WriteObjects(os.Stdout, objs, s.format); err != nil {
			fail(s, "Output", err)
		}
		return
	}
	docs, err := s.components.Documents.Summaries(ctx, s.collection)
	if err != nil {
		fail(s, "Listing", err)
	}
	if err := cli.WriteDocuments(os.Stdout, s.collection, docs, s.format); err != nil {
		fail(s, "Output", err)
	}
}

func runChunks() {
	fs, flags := newFlagSet("chunks")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: bunsho chunks [flags] <doc-name>")
		os.Exit(1)
	}
	docName := fs.Arg(0)

	s := openSession(flags)
	defer s.Close()

	chunks, err := s.components.Documents.GetChunks(context.Background(), s.collection, docName)
	if err != nil {
		fail(s, "Fetching chunks", err)
	}
	if err := cli.WriteChunks(os.Stdout, docName, chunks, s.format); err != nil {
		fail(s, "Output", err)
	}
}

func runDelete() {
	fs, flags := newFlagSet("delete")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: bunsho delete [flags] <doc-name>")
		os.Exit(1)
	}
	docName := fs.Arg(0)

	s := openSession(flags)
	defer s.Close()

	msg, err := s.components.Documents.DeleteDocument(context.Background(), s.collection, docName)
	if err != nil {
		fail(s, "Deletion", err)
	}
	fmt.Println(msg)
}

func runSchema() {
	fs, flags := newFlagSet("schema")
	create := fs.Bool("create", false, "create the collection when it does not exist")
	_ = fs.Parse(os.Args[2:])

	s := openSession(flags)
	defer s.Close()
	ctx := context.Background()

	exists, err := s.components.Documents.SchemaExists(ctx, s.collection)
	if err != nil {
		fail(s, "Schema check", err)
	}
	switch {
	case exists:
		fmt.Printf("Collection %s exists.\n", s.collection)
	case *create:
		if err := s.components.Documents.CreateSchema(ctx, s.collection); err != nil {
			fail(s, "Schema creation", err)
		}
		fmt.Printf("Collection %s created.\n", s.collection)
	default:
		fmt.Printf("Collection %s does not exist. Run with -create to create it.\n", s.collection)
	}
}

func runWatch() {
	fs, flags := newFlagSet("watch")
	dir := fs.String("dir", "", "inbox directory (default: watch.directory from config)")
	_ = fs.Parse(os.Args[2:])

	s := openSession(flags)
	defer s.Close()
	if *dir != "" {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			fail(s, "Resolving inbox", err)
		}
		s.cfg.Watch.Directory = abs
	}
	if s.cfg.Watch.Directory == "" {
		fail(s, "Watch", errors.New("no inbox directory: set watch.directory or pass -dir"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox := newInbox(s.cfg, s.components, *flags.collection, nil, s.logger)
	if err := inbox.Start(ctx); err != nil {
		fail(s, "Watch", err)
	}
	if err := inbox.SyncExisting(); err != nil {
		s.logger.Warn("inbox sync failed", zap.Error(err))
	}
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", inbox.Dir())

	waitForSignal()
	cancel()
	inbox.Stop()
}

// newInbox builds the inbox watcher. Each settled file is ingested with its stem as
// doc_name. collection overrides watch.collection when set. A non-nil actions lock
// is held for each ingestion.
func newInbox(cfg *config.Config, components *Components, collection string, actions sync.Locker, logger *zap.Logger) *watcher.Watcher {
	if collection == "" {
		collection = cfg.Watch.Collection
	}
	if collection == "" {
		collection = components.Collection
	}
	return watcher.NewWatcher(
		cfg.Watch.Directory,
		cfg.Watch.Extensions,
		inboxHandler(components.Coordinator, cfg.Watch, collection, actions, logger),
		watcher.WithLogger(logger),
	)
}

func inboxHandler(coordinator *ingest.Coordinator, wc config.WatchConfig, collection string, actions sync.Locker, logger *zap.Logger) watcher.Handler {
	return func(ctx context.Context, path string) error {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if actions != nil {
			actions.Lock()
			defer actions.Unlock()
		}
		res, err := coordinator.Ingest(ctx, ingest.Request{
			FileName:   filepath.Base(path),
			Content:    content,
			ChunkSize:  wc.ChunkSize,
			DocName:    utils.FileStem(path),
			DocType:    wc.DocType,
			Collection: collection,
		})
		if err != nil {
			return err
		}
		logger.Info("inbox file ingested", zap.String("path", path), zap.String("message", res.Message))
		return nil
	}
}

func runStatus() {
	fs, flags := newFlagSet("status")
	_ = fs.Parse(os.Args[2:])

	s := openSession(flags)
	defer s.Close()

	stats, err := s.components.Documents.Stats(context.Background(), s.collection)
	if err != nil {
		fail(s, "Status", err)
	}
	paths := []string{s.cfg.Ingest.StagingDir}
	if s.cfg.Store.Type == config.StoreSQLite {
		paths = append(paths, s.cfg.Store.DatabasePath)
	}
	usage, err := store.DiskUsageOf(paths...)
	if err != nil {
		s.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	if err := cli.WriteStats(os.Stdout, stats, usage.Bytes, s.format); err != nil {
		fail(s, "Output", err)
	}
}

// Components holds initialized services.
type Components struct {
	Store       store.RecordStore
	Coordinator *ingest.Coordinator
	Documents   *documents.Service
	// Collection is the default collection named by the schema file.
	Collection string
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	config.LoadDotEnv()
	secrets, err := config.LoadSecrets(cfg.Store.Type)
	if err != nil {
		return nil, err
	}
	schema, collection, err := config.LoadSchema(cfg.Store.SchemaPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store, secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	segmenter, err := chunker.NewSegmenter(cfg.Ingest.Segmenter)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize segmenter: %w", err)
	}

	debugLogger := zap.NewNop()
	if debug && logger != nil {
		debugLogger = logger
	}
	coordinator := ingest.NewCoordinator(
		st,
		chunker.NewChunker(segmenter, chunker.WithLogger(debugLogger)),
		tabular.NewMapper(
			tabular.WithDelimiter(cfg.Ingest.DelimiterRune()),
			tabular.WithFallbackEncodings(cfg.Ingest.FallbackEncodings),
			tabular.WithLogger(debugLogger),
		),
		charset.NewDetector(
			charset.WithSampleBytes(cfg.Ingest.SampleBytes),
			charset.WithMinConfidence(cfg.Ingest.MinConfidence),
			charset.WithLogger(debugLogger),
		),
		extract.NewExtractor(),
		cfg.Ingest,
		ingest.WithLogger(logger),
		ingest.WithSchema(schema),
		ingest.WithAutoCreateSchema(cfg.Store.AutoCreateSchemaOrDefault()),
	)
	docs := documents.NewService(st, documents.WithLogger(logger), documents.WithSchema(schema))

	if logger != nil {
		logger.Info("components initialized",
			zap.String("store", cfg.Store.Type),
			zap.String("collection", collection),
			zap.String("segmenter", cfg.Ingest.Segmenter))
	}

	return &Components{
		Store:       st,
		Coordinator: coordinator,
		Documents:   docs,
		Collection:  collection,
	}, nil
}

func printUsage() {
	fmt.Println(`bunsho - Document ingestion and retrieval for vector collections

Usage:
  bunsho server [flags]                 Start the HTTP server (and the inbox watcher when configured)
  bunsho ingest [flags] <file>          Chunk or map a file into a collection
  bunsho documents [flags]              List documents in a collection
  bunsho chunks [flags] <doc-name>      Show the chunks of a document
  bunsho delete [flags] <doc-name>      Delete every record of a document
  bunsho schema [-create] [flags]       Check or create a collection
  bunsho watch [flags]                  Ingest files dropped into the inbox directory
  bunsho status [flags]                 Show collection counts and disk usage
  bunsho version                        Show version
  bunsho help                           Show this help

Common Flags:
  --config string      Config file path (default: /usr/local/etc/bunsho/config.yaml, or ./config.yaml when present)
  --collection string  Target collection (default: class from the schema file)
  --output string      Output format: text or json (default: text)

Server Flags:
  --debug              Enable debug logging

Ingest Flags:
  --doc-name string    Document name (default: file name without extension)
  --doc-type string    Document type
  --chunk-size int     Characters per chunk (default from config)

Documents Flags:
  --raw                List every stored record

Watch Flags:
  --dir string         Inbox directory (default: watch.directory from config)

Environment:
  WEAVIATE_HOST, WEAVIATE_API_KEY, OPENAI_API_KEY   required for the weaviate store; read from .env when present

Examples:
  bunsho schema -create
  bunsho ingest -doc-type law -chunk-size 500 constitution.txt
  bunsho ingest -doc-name prices prices.csv
  bunsho documents -output json
  bunsho chunks constitution
  bunsho delete constitution
  bunsho watch -dir ./inbox`)
}
