package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/config"
	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/indexer"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// appOptions selects the project and its collaborators. Tests replace
// GitOps and Progress.
type appOptions struct {
	RootDir  string
	Verbose  bool
	Quiet    bool
	GitOps   git.Operations
	Progress indexer.ProgressReporter
}

// app is one command's view of a project: its configuration, stores and
// the orchestrator wired over them.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    vectorstore.Store
	embedder embed.Provider
	meta     *cache.MetadataStore
	orch     *indexer.Orchestrator
}

func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadConfigFromDir(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logOpts := cfg.ToLoggingOptions()
	switch {
	case opts.Verbose:
		logOpts.Level = "debug"
	case opts.Quiet:
		logOpts.Level = "error"
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, opts appOptions) error {
	ops := opts.GitOps
	if ops == nil {
		ops = git.NewOperations()
	}
	projectKey := cache.ProjectKey(ctx, ops, opts.RootDir)
	collection := a.cfg.VectorStore.Collection
	if collection == "" {
		collection = cache.CollectionName(projectKey)
	}

	repo, err := git.OpenRepository(opts.RootDir)
	if errors.Is(err, git.ErrNotRepository) {
		a.logger.Debug(ctx, "not a git repository, indexing the working directory as one branch",
			zap.String("root", opts.RootDir))
		repo = nil
	} else if err != nil {
		return err
	}

	if a.store, err = vectorstore.Open(ctx, a.cfg.ToVectorStoreOptions(opts.RootDir), a.logger); err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	if a.embedder, err = embed.NewProvider(a.cfg.ToEmbedConfig(), a.logger); err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if a.meta, err = cache.OpenMetadataStore(cache.MetadataPath(a.cfg.Storage.CacheLocation, projectKey)); err != nil {
		return err
	}

	rcfg, err := a.cfg.ReindexConfig(a.logger)
	if err != nil {
		return fmt.Errorf("invalid reindexing configuration: %w", err)
	}

	a.orch, err = indexer.NewOrchestrator(a.cfg.ToIndexerConfig(opts.RootDir, collection), indexer.Dependencies{
		Store:    a.store,
		Embedder: a.embedder,
		Meta:     a.meta,
		Engine:   reindex.NewEngine(rcfg, a.logger),
		Repo:     repo,
		Progress: opts.Progress,
		Logger:   a.logger,
	})
	return err
}

// initEmbedder readies the provider for commands that embed text.
func (a *app) initEmbedder(ctx context.Context) error {
	if err := a.embedder.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.meta != nil {
		_ = a.meta.Close()
	}
	_ = a.logger.Sync()
}
