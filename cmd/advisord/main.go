// Advisord is the learning and retrieval daemon behind a pension
// guidance service.
//
// It assembles multi-faceted context for each guidance turn, records
// the agent's memory stream, and closes the loop from ended
// consultations to stored cases and learned rules.
//
// Usage:
//
//	# Start with defaults
//	advisord
//
//	# Start with a config file and environment overrides
//	ADVISORD_SERVER_PORT=9090 advisord -config /etc/advisord/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/advisory"
	"github.com/harbourlane/advisord/internal/audit"
	"github.com/harbourlane/advisord/internal/casestore"
	"github.com/harbourlane/advisord/internal/config"
	"github.com/harbourlane/advisord/internal/embeddings"
	"github.com/harbourlane/advisord/internal/httpapi"
	"github.com/harbourlane/advisord/internal/knowledge"
	"github.com/harbourlane/advisord/internal/learning"
	"github.com/harbourlane/advisord/internal/llm"
	"github.com/harbourlane/advisord/internal/logging"
	"github.com/harbourlane/advisord/internal/memory"
	"github.com/harbourlane/advisord/internal/reflection"
	"github.com/harbourlane/advisord/internal/retrieval"
	"github.com/harbourlane/advisord/internal/rulestore"
	"github.com/harbourlane/advisord/internal/telemetry"
	"github.com/harbourlane/advisord/internal/vectorstore"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("advisord %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("advisord: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.NewWithOTEL(cfg.Logging.Level, cfg.Logging.Format, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting advisord",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()
	meter := tel.Meter("advisord")

	embedder, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}
	if err := embeddings.ValidateDimension(ctx, embedder); err != nil {
		return fmt.Errorf("probing embedding provider: %w", err)
	}

	store, err := vectorstore.NewChromemStore(cfg.Store.Path, cfg.Store.Compress, embedder, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer store.Close()

	client, err := llm.NewLangchainClient(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initializing llm client: %w", err)
	}

	var publisher audit.Publisher
	if cfg.Audit.Enabled {
		publisher, err = audit.NewNATSPublisher(cfg.Audit.NATSURL, cfg.Audit.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connecting audit publisher: %w", err)
		}
	} else {
		publisher = audit.NewMemoryPublisher()
	}
	defer publisher.Close()

	memories, err := memory.NewStream(store, client, cfg.Memory, logger)
	if err != nil {
		return fmt.Errorf("initializing memory stream: %w", err)
	}
	cases, err := casestore.NewStore(store, logger)
	if err != nil {
		return fmt.Errorf("initializing case store: %w", err)
	}
	rules, err := rulestore.NewStore(store, cfg.Rules.ConfidenceFloor, cfg.Rules.RetrievalThreshold, logger)
	if err != nil {
		return fmt.Errorf("initializing rule store: %w", err)
	}

	fcaBase, err := knowledge.NewBase(store, vectorstore.CollectionFCAKnowledge, cfg.Knowledge.FCADir, logger)
	if err != nil {
		return fmt.Errorf("initializing fca knowledge base: %w", err)
	}
	pensionBase, err := knowledge.NewBase(store, vectorstore.CollectionPensionKnowledge, cfg.Knowledge.PensionDir, logger)
	if err != nil {
		return fmt.Errorf("initializing pension knowledge base: %w", err)
	}
	for _, base := range []*knowledge.Base{fcaBase, pensionBase} {
		if err := base.Load(ctx); err != nil {
			// Missing snippet directories degrade to an empty base; the
			// retriever compensates per request.
			logger.Warn("knowledge base unavailable", zap.String("dir", base.Dir()), zap.Error(err))
		}
	}
	if cfg.Knowledge.Watch {
		watcher, err := knowledge.NewWatcher(logger, fcaBase, pensionBase)
		if err != nil {
			logger.Warn("knowledge watcher unavailable", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("knowledge watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	retriever, err := retrieval.NewRetriever(memories, cases, rules, fcaBase, pensionBase,
		cfg.Retrieval, publisher, meter, logger)
	if err != nil {
		return fmt.Errorf("initializing retriever: %w", err)
	}

	engine, err := reflection.NewEngine(client, memories, rules, publisher, cfg.Learning, cfg.Rules, meter, logger)
	if err != nil {
		return fmt.Errorf("initializing reflection engine: %w", err)
	}
	worker, err := reflection.NewWorker(engine, memories, cfg.Reflection, logger)
	if err != nil {
		return fmt.Errorf("initializing reflection worker: %w", err)
	}
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting reflection worker: %w", err)
	}
	defer worker.Stop()

	sessions := httpapi.NewSessions()
	cycle, err := learning.NewCycle(sessions, client, cases, memories, engine, publisher, cfg.Learning, meter, logger)
	if err != nil {
		return fmt.Errorf("initializing learning cycle: %w", err)
	}

	validator, err := advisory.NewLLMValidator(client)
	if err != nil {
		return fmt.Errorf("initializing compliance validator: %w", err)
	}
	generator, err := advisory.NewGenerator(client, retriever, validator, memories, logger)
	if err != nil {
		return fmt.Errorf("initializing guidance generator: %w", err)
	}

	server, err := httpapi.NewServer(generator, cycle, rules, memories, sessions, cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info("advisord stopped")
	return <-errCh
}
