package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/storage"
)

// IndexStatus is a snapshot of the index for display.
type IndexStatus struct {
	Collection      string
	Branch          string
	Documents       int
	VisibleOnBranch int
	Schema          storage.SchemaReport
	KnownBranches   []cache.BranchRecord
	LastSuccess     *time.Time
	// LastFull is the newest completed full reindex, nil if none.
	LastFull   *cache.RunRecord
	RecentRuns []cache.RunRecord
}

// Status reads the active collection and run history. A collection that was
// never created reports zero documents.
func (o *Orchestrator) Status(ctx context.Context, recentRuns int) (*IndexStatus, error) {
	idx, err := o.ActiveIndex()
	if err != nil {
		return nil, err
	}
	st := &IndexStatus{Collection: idx.Collection(), Branch: o.CurrentBranch()}
	if _, err := o.attach(ctx, idx); err != nil {
		return nil, err
	}

	if st.Schema, err = storage.NewSchemaDetector(o.deps.Store, idx.Collection()).Detect(ctx); err != nil {
		return nil, fmt.Errorf("failed to detect schema: %w", err)
	}
	if st.Schema.State != storage.SchemaEmpty {
		if st.Documents, err = idx.CountContent(ctx); err != nil {
			return nil, fmt.Errorf("failed to count documents: %w", err)
		}
		if st.VisibleOnBranch, err = idx.CountVisible(ctx, st.Branch); err != nil {
			return nil, fmt.Errorf("failed to count visible documents: %w", err)
		}
	}

	if st.KnownBranches, err = o.deps.Meta.KnownBranches(); err != nil {
		return nil, fmt.Errorf("failed to read known branches: %w", err)
	}
	if last, ok, err := o.deps.Meta.LastSuccessfulRun(); err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	} else if ok {
		st.LastSuccess = &last
	}
	if st.LastFull, err = o.deps.Meta.LastFullRun(); err != nil {
		return nil, fmt.Errorf("failed to read last full run: %w", err)
	}
	if st.RecentRuns, err = o.deps.Meta.RecentRuns(recentRuns); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return st, nil
}

// Search runs a text query against the active collection. An empty branch
// searches the current one. Nothing indexed yet yields no results.
func (o *Orchestrator) Search(ctx context.Context, branch, query string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if branch == "" {
		branch = o.CurrentBranch()
	}
	idx, err := o.ActiveIndex()
	if err != nil {
		return nil, err
	}
	exists, err := o.attach(ctx, idx)
	if err != nil || !exists {
		return nil, err
	}
	return idx.SearchText(ctx, branch, query, opts)
}

// Migrate converts a legacy or mixed collection to the current schema.
// A current collection is left alone and reported with a nil migration.
func (o *Orchestrator) Migrate(ctx context.Context) (storage.SchemaReport, *storage.MigrationReport, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	ctx = logging.WithOperation(ctx, "")

	idx, err := o.ActiveIndex()
	if err != nil {
		return storage.SchemaReport{}, nil, err
	}
	if _, err := o.attach(ctx, idx); err != nil {
		return storage.SchemaReport{}, nil, err
	}
	schema, err := storage.NewSchemaDetector(o.deps.Store, idx.Collection()).Detect(ctx)
	if err != nil {
		return schema, nil, fmt.Errorf("failed to detect schema: %w", err)
	}
	if !schema.NeedsMigration() {
		o.logger.Info(ctx, "collection already current", zap.String("state", schema.State.String()))
		return schema, nil, nil
	}
	known, _, err := o.knownBranches(o.CurrentBranch())
	if err != nil {
		return schema, nil, err
	}
	mr, err := storage.NewMigrator(idx, o.cfg.Verify).Migrate(ctx, known)
	if err != nil {
		return schema, &mr, fmt.Errorf("failed to migrate collection: %w", err)
	}
	return schema, &mr, nil
}

// CleanOrphans prunes deleted branches and deletes content no known branch
// can see.
func (o *Orchestrator) CleanOrphans(ctx context.Context) (removed int, pruned []string, err error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	ctx = logging.WithOperation(ctx, "")

	idx, err := o.ActiveIndex()
	if err != nil {
		return 0, nil, err
	}
	if exists, err := o.attach(ctx, idx); err != nil || !exists {
		return 0, nil, err
	}
	current := o.CurrentBranch()
	if pruned, err = o.pruneBranches(ctx, idx, current); err != nil {
		return 0, pruned, err
	}
	known, _, err := o.knownBranches(current)
	if err != nil {
		return 0, pruned, err
	}
	removed, err = idx.CleanupOrphans(ctx, known)
	if err != nil {
		return removed, pruned, fmt.Errorf("failed to clean up orphans: %w", err)
	}
	return removed, pruned, nil
}
