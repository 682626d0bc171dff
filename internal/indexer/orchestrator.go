package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/cache"
	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/reindex"
	"github.com/mvp-joe/code-indexer/internal/storage"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// DefaultBranch is the single implicit branch of a project without git.
const DefaultBranch = "default"

// Mode is how a sync touched the index.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// SyncRequest controls one Sync call.
type SyncRequest struct {
	// ForceFull asks for a full rebuild regardless of the decision rules.
	ForceFull bool
	// DryRun stops after the decision; nothing is written.
	DryRun bool
	// System overrides host detection. Nil probes the host.
	System *reindex.SystemContext
	// Production marks the host as serving searches, which favors
	// blue/green rebuilds.
	Production bool
	// OperationID correlates log entries; empty generates one.
	OperationID string
}

// Report describes a finished (or dry) sync.
type Report struct {
	OperationID string
	Branch      string
	Commit      string
	Collection  string
	DryRun      bool

	Decision reindex.Decision
	Mode     Mode
	Strategy reindex.Strategy

	Schema    storage.SchemaReport
	Migration *storage.MigrationReport

	Changes         FileChanges
	DecisionChanges reindex.ChangeSet
	Metrics         reindex.IndexMetrics
	// MetricsFallback is set when metrics could not be gathered and
	// conservative ones were used instead.
	MetricsFallback bool

	Stats          Stats
	OrphansRemoved int
	BranchesPruned []string

	Status     cache.RunStatus
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the sync.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Store    vectorstore.Store
	Embedder embed.Provider
	Meta     *cache.MetadataStore
	Engine   *reindex.Engine
	// Repo is nil for projects without git; they index DefaultBranch.
	Repo     *git.Repository
	Progress ProgressReporter
	Logger   *logging.Logger
}

// Orchestrator keeps the index of one codebase in sync with its working tree.
// Syncs are serialized; searches may run concurrently with them.
type Orchestrator struct {
	cfg       *Config
	deps      Dependencies
	discovery *FileDiscovery
	chunker   Chunker
	detector  *ChangeDetector
	metrics   *MetricsCollector
	logger    *logging.Logger
	now       func() time.Time

	runMu sync.Mutex

	idxMu   sync.Mutex
	indexes map[string]*storage.Index
}

// NewOrchestrator validates dependencies and compiles discovery patterns.
func NewOrchestrator(cfg *Config, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("indexer config is required")
	}
	if deps.Store == nil || deps.Embedder == nil || deps.Meta == nil {
		return nil, errors.New("store, embedder and metadata store are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Engine == nil {
		deps.Engine = reindex.NewEngine(nil, deps.Logger)
	}
	if deps.Progress == nil {
		deps.Progress = &NoOpProgressReporter{}
	}

	rootDir, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.RootDir, err)
	}
	discovery, err := NewFileDiscovery(rootDir, cfg.CodePatterns, cfg.DocsPatterns, cfg.IgnorePatterns, cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to compile file patterns: %w", err)
	}
	cfg.Verify.ApplyDefaults()

	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		discovery: discovery,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		detector:  NewChangeDetector(rootDir, cfg.MTimeSafetyBuffer),
		metrics:   NewMetricsCollector(cfg.ProbeSamples, deps.Logger),
		logger:    deps.Logger.Named("indexer"),
		now:       time.Now,
		indexes:   make(map[string]*storage.Index),
	}, nil
}

// index returns the shared Index for collection so branch gates are seen by
// every caller in the process.
func (o *Orchestrator) index(collection string) *storage.Index {
	o.idxMu.Lock()
	defer o.idxMu.Unlock()
	idx, ok := o.indexes[collection]
	if !ok {
		idx = storage.NewIndex(o.deps.Store, collection, o.deps.Embedder, o.deps.Logger)
		o.indexes[collection] = idx
	}
	return idx
}

func (o *Orchestrator) forgetIndex(collection string) {
	o.idxMu.Lock()
	delete(o.indexes, collection)
	o.idxMu.Unlock()
}

// ActiveIndex returns the Index over the collection searches should use.
func (o *Orchestrator) ActiveIndex() (*storage.Index, error) {
	name, err := o.deps.Meta.ActiveCollection(o.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read active collection: %w", err)
	}
	return o.index(name), nil
}

// attach registers an existing collection with the store so reads know its
// vector size. A missing collection is left alone and reported as false.
func (o *Orchestrator) attach(ctx context.Context, idx *storage.Index) (bool, error) {
	exists, err := o.deps.Store.CollectionExists(ctx, idx.Collection())
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", idx.Collection(), err)
	}
	if !exists {
		return false, nil
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		return false, fmt.Errorf("failed to open collection %s: %w", idx.Collection(), err)
	}
	return true, nil
}

// CurrentBranch is the branch a sync would index.
func (o *Orchestrator) CurrentBranch() string {
	if o.deps.Repo == nil {
		return DefaultBranch
	}
	return o.deps.Repo.CurrentBranch()
}

func (o *Orchestrator) headCommit() string {
	if o.deps.Repo == nil {
		return ""
	}
	return o.deps.Repo.HeadCommit()
}

// knownBranches lists every indexed branch plus current, sorted. isNew
// reports that current has never been indexed.
func (o *Orchestrator) knownBranches(current string) (branches []string, isNew bool, err error) {
	records, err := o.deps.Meta.KnownBranches()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read known branches: %w", err)
	}
	out := []string{current}
	isNew = true
	for _, r := range records {
		if r.Name == current {
			isNew = false
			continue
		}
		out = append(out, r.Name)
	}
	slices.Sort(out)
	return out, isNew, nil
}

// Sync brings the index for the current branch up to date.
//
// The sequence is:
//  1. migrate a legacy or mixed collection to the current schema
//  2. discover files and diff them against what the branch sees
//  3. gather index metrics and ask the engine for a decision
//  4. run an incremental update or the recommended full rebuild
//  5. verify the writes, clean up, and record the run
//
// A cancelled context stops the run between files and returns
// ErrIndexingCancelled; the run is recorded as cancelled.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (*Report, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	branch := o.CurrentBranch()
	ctx = logging.WithOperation(ctx, req.OperationID)
	ctx = logging.WithBranch(ctx, branch)

	report := &Report{
		OperationID: logging.OperationID(ctx),
		Branch:      branch,
		Commit:      o.headCommit(),
		DryRun:      req.DryRun,
		StartedAt:   o.now(),
	}

	err := o.sync(ctx, req, report)
	report.FinishedAt = o.now()
	switch {
	case err == nil:
		report.Status = cache.RunCompleted
	case errors.Is(err, ErrIndexingCancelled) || errors.Is(err, context.Canceled):
		report.Status = cache.RunCancelled
	default:
		report.Status = cache.RunFailed
	}
	report.Err = err

	if !req.DryRun {
		o.recordRun(ctx, report)
	}
	o.deps.Progress.OnComplete(report)

	if err != nil {
		o.logger.Error(ctx, "sync failed",
			zap.String("status", string(report.Status)), zap.Duration("duration", report.Duration()), zap.Error(err))
		return report, err
	}
	o.logger.Info(ctx, "sync complete",
		zap.String("mode", string(report.Mode)),
		zap.String("strategy", string(report.Strategy)),
		zap.Int("processed", report.Stats.FilesProcessed),
		zap.Int("embedded", report.Stats.ChunksEmbedded),
		zap.Int("reused", report.Stats.ChunksReused),
		zap.Int("hidden", report.Stats.FilesHidden),
		zap.Bool("dry_run", req.DryRun),
		zap.Duration("duration", report.Duration()))
	return report, nil
}

func (o *Orchestrator) sync(ctx context.Context, req SyncRequest, report *Report) error {
	collection, err := o.deps.Meta.ActiveCollection(o.cfg.Collection)
	if err != nil {
		return fmt.Errorf("failed to read active collection: %w", err)
	}
	report.Collection = collection
	idx := o.index(collection)
	if req.DryRun {
		if _, err := o.attach(ctx, idx); err != nil {
			return err
		}
	} else if err := idx.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", collection, err)
	}

	known, newBranch, err := o.knownBranches(report.Branch)
	if err != nil {
		return err
	}

	schema, err := storage.NewSchemaDetector(o.deps.Store, collection).Detect(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect schema: %w", err)
	}
	report.Schema = schema
	if schema.NeedsMigration() && !req.DryRun {
		o.logger.Info(ctx, "migrating collection to current schema",
			zap.String("state", schema.State.String()),
			zap.Int("legacy", schema.Legacy),
			zap.Int("visibility", schema.Visibility))
		mr, err := storage.NewMigrator(idx, o.cfg.Verify).Migrate(ctx, known)
		report.Migration = &mr
		if err != nil {
			return fmt.Errorf("failed to migrate collection: %w", err)
		}
	}

	files, err := o.discovery.Discover(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}
	o.reportDiscovery(files)

	states, err := o.fileStates(ctx, idx, report.Branch, req.DryRun)
	if err != nil {
		return err
	}
	changes, err := o.detector.DetectChanges(ctx, files, states)
	if err != nil {
		return fmt.Errorf("failed to detect changes: %w", err)
	}
	report.Changes = *changes
	report.DecisionChanges = o.decisionChanges(ctx, report.Branch, changes, len(files))

	report.Metrics, report.MetricsFallback = o.collectMetrics(ctx, idx, report.Branch)

	system := o.systemContext(ctx, req, files)
	decision := o.deps.Engine.ShouldFullReindex(ctx, report.DecisionChanges, report.Metrics, system, req.ForceFull)
	report.Decision = decision
	report.Strategy = decision.RecommendedStrategy
	report.Mode = ModeIncremental
	if decision.ShouldReindex {
		report.Mode = ModeFull
	}
	o.deps.Progress.OnDecision(decision)
	o.logger.Info(ctx, "reindex decision",
		zap.Bool("full", decision.ShouldReindex),
		zap.Strings("reasons", decision.Explain()),
		zap.Float64("confidence", decision.ConfidenceScore),
		zap.String("strategy", string(decision.RecommendedStrategy)),
		zap.Int("estimated_minutes", decision.EstimatedMinutes),
		zap.Int("to_process", len(changes.ToProcess())),
		zap.Int("deleted", len(changes.Deleted)))

	if req.DryRun {
		return nil
	}

	bc := BranchContext{
		Branch:        report.Branch,
		KnownBranches: known,
		Commit:        report.Commit,
		New:           newBranch,
	}
	if o.deps.Repo != nil {
		if bc.Status, err = o.deps.Repo.Status(); err != nil {
			return fmt.Errorf("failed to read worktree status: %w", err)
		}
	}

	if decision.ShouldReindex {
		err = o.runFull(ctx, idx, bc, files, decision.RecommendedStrategy, report)
	} else {
		err = o.runIncremental(ctx, idx, bc, files, changes, report)
	}
	if err != nil {
		return err
	}

	return o.finish(ctx, report, len(files))
}

// fileStates reads what branch sees. A dry run against a missing collection
// sees nothing.
func (o *Orchestrator) fileStates(ctx context.Context, idx *storage.Index, branch string, dryRun bool) (map[string]storage.FileState, error) {
	if dryRun {
		exists, err := o.deps.Store.CollectionExists(ctx, idx.Collection())
		if err != nil {
			return nil, fmt.Errorf("failed to check collection: %w", err)
		}
		if !exists {
			return map[string]storage.FileState{}, nil
		}
	}
	states, err := idx.FileStates(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to read indexed files: %w", err)
	}
	return states, nil
}

func (o *Orchestrator) reportDiscovery(files []DiscoveredFile) {
	var code, docs int
	for _, f := range files {
		if f.Kind == KindDoc {
			docs++
		} else {
			code++
		}
	}
	o.deps.Progress.OnDiscoveryComplete(code, docs)
}

// decisionChanges prefers git history: the diff from the commit the branch
// was last indexed at (or, for a branch seen for the first time, the most
// recently indexed branch) to the working tree. Without usable history the
// file-level diff is used.
func (o *Orchestrator) decisionChanges(ctx context.Context, branch string, changes *FileChanges, totalFiles int) reindex.ChangeSet {
	fallback := changes.ChangeSet(totalFiles)
	if o.deps.Repo == nil {
		return fallback
	}

	base := o.baseCommit(ctx, branch)
	if base == "" {
		return fallback
	}
	cs, err := git.NewChangeAnalyzer(o.deps.Repo, o.deps.Logger).AnalyzeSince(ctx, base, git.AnalyzeOptions{IncludeWorkingTree: true})
	if err != nil {
		o.logger.Warn(ctx, "git change analysis failed, using file diff", zap.String("base", base), zap.Error(err))
		return fallback
	}
	if totalFiles > 0 {
		cs.TotalFiles = totalFiles
	}
	return cs
}

func (o *Orchestrator) baseCommit(ctx context.Context, branch string) string {
	rec, err := o.deps.Meta.Branch(branch)
	if err != nil {
		o.logger.Warn(ctx, "failed to read branch record", zap.Error(err))
		return ""
	}
	if rec != nil && rec.LastCommit != "" {
		return rec.LastCommit
	}
	records, err := o.deps.Meta.KnownBranches()
	if err != nil {
		return ""
	}
	var latest *cache.BranchRecord
	for i := range records {
		r := &records[i]
		if r.LastCommit == "" {
			continue
		}
		if latest == nil || r.LastIndexedAt.After(latest.LastIndexedAt) {
			latest = r
		}
	}
	if latest == nil {
		return ""
	}
	return latest.LastCommit
}

func (o *Orchestrator) collectMetrics(ctx context.Context, idx *storage.Index, branch string) (reindex.IndexMetrics, bool) {
	m, err := o.metrics.Collect(ctx, idx, o.deps.Meta, branch, o.deps.Embedder.Dimensions(), o.deps.Embedder.Model())
	if err != nil {
		o.logger.Warn(ctx, "failed to collect index metrics, using conservative defaults", zap.Error(err))
		return reindex.ConservativeMetrics(o.deps.Engine.Config()), true
	}
	return m, false
}

func (o *Orchestrator) systemContext(ctx context.Context, req SyncRequest, files []DiscoveredFile) *reindex.SystemContext {
	var sc reindex.SystemContext
	if req.System != nil {
		sc = *req.System
	} else {
		var bytes int64
		for _, f := range files {
			bytes += f.Size
		}
		sc = reindex.DetectSystemContext(ctx, float64(bytes)/(1024*1024))
	}
	if req.Production {
		sc.IsProduction = true
	}
	return &sc
}

// runIncremental processes added and modified files, hides deleted ones and
// refreshes drifted mtimes. Searches on the branch wait until it finishes.
func (o *Orchestrator) runIncremental(ctx context.Context, idx *storage.Index, bc BranchContext, files []DiscoveredFile, changes *FileChanges, report *Report) error {
	release := idx.BeginBranchUpdate(bc.Branch)
	defer release()

	toProcess := changes.ToProcess()
	o.deps.Progress.OnFileProcessingStart(len(toProcess))
	processor := NewProcessor(o.discovery.Root(), o.chunker, o.discovery, idx, o.cfg.Workers, o.deps.Progress, o.deps.Logger)
	result, err := processor.ProcessFiles(ctx, bc, toProcess)
	if result != nil {
		report.Stats.add(result.Stats)
	}
	if err != nil {
		return err
	}
	expect := result.Expect

	hidden, err := o.hideMissing(ctx, idx, bc, files, changes)
	if err != nil {
		return fmt.Errorf("failed to hide deleted files: %w", err)
	}
	report.Stats.FilesHidden += len(changes.Deleted)
	report.Stats.ChunksHidden += len(hidden)
	expect.Hidden = append(expect.Hidden, hidden...)

	for path, mtime := range changes.Drifted {
		if err := idx.TouchFile(ctx, bc.Branch, path, mtime); err != nil {
			o.logger.Warn(ctx, "failed to refresh file mtime", zap.String("path", path), zap.Error(err))
		}
	}

	if err := idx.Verify(ctx, expect, o.cfg.Verify); err != nil {
		return fmt.Errorf("branch %s not consistent: %w", bc.Branch, err)
	}
	return nil
}

// hideMissing hides deleted paths on the branch. On the first sync of a
// branch, or when the previous run indexed another branch, every visible
// path missing from the working tree is hidden, whatever the diff saw.
func (o *Orchestrator) hideMissing(ctx context.Context, idx *storage.Index, bc BranchContext, files []DiscoveredFile, changes *FileChanges) ([]string, error) {
	if !bc.New && !o.switchedBranch(bc.Branch) {
		return idx.HideFiles(ctx, bc.Branch, changes.Deleted)
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Path] = true
	}
	return idx.ApplyBranchVisibility(ctx, bc.Branch, present)
}

func (o *Orchestrator) switchedBranch(branch string) bool {
	runs, err := o.deps.Meta.RecentRuns(1)
	if err != nil || len(runs) == 0 {
		return false
	}
	return runs[0].Branch != branch
}

// runFull rebuilds the index for the branch with strategy.
func (o *Orchestrator) runFull(ctx context.Context, idx *storage.Index, bc BranchContext, files []DiscoveredFile, strategy reindex.Strategy, report *Report) error {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	// The rebuilt collection holds only this branch.
	bc.KnownBranches = []string{bc.Branch}

	switch strategy {
	case reindex.StrategyBlueGreen:
		return o.rebuildBlueGreen(ctx, bc, paths, report)
	case reindex.StrategyProgressive:
		return o.rebuildInPlace(ctx, idx, bc, paths, o.deps.Engine.Config().BatchSize, report)
	default:
		return o.rebuildInPlace(ctx, idx, bc, paths, len(paths), report)
	}
}

// rebuildInPlace drops the active collection and indexes every file into a
// fresh one, batchSize files at a time.
func (o *Orchestrator) rebuildInPlace(ctx context.Context, idx *storage.Index, bc BranchContext, paths []string, batchSize int, report *Report) error {
	release := idx.BeginBranchUpdate(bc.Branch)
	defer release()

	if err := o.resetCollection(ctx, idx); err != nil {
		return err
	}
	if err := o.forgetOtherBranches(ctx, bc.Branch); err != nil {
		return err
	}

	expect, err := o.processBatches(ctx, idx, bc, paths, batchSize, report)
	if err != nil {
		return err
	}
	if err := idx.Verify(ctx, expect, o.cfg.Verify); err != nil {
		return fmt.Errorf("rebuilt collection %s not consistent: %w", idx.Collection(), err)
	}
	return nil
}

func (o *Orchestrator) resetCollection(ctx context.Context, idx *storage.Index) error {
	o.logger.Info(ctx, "dropping collection for rebuild", zap.String("collection", idx.Collection()))
	if err := o.deps.Store.DeleteCollection(ctx, idx.Collection()); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", idx.Collection(), err)
	}
	if err := idx.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to recreate collection %s: %w", idx.Collection(), err)
	}
	return nil
}

// rebuildBlueGreen indexes into a new collection and switches the active
// pointer only once the new collection verifies. The old collection serves
// searches until then.
func (o *Orchestrator) rebuildBlueGreen(ctx context.Context, bc BranchContext, paths []string, report *Report) error {
	old := report.Collection
	name := fmt.Sprintf("%s_%d", o.cfg.Collection, o.now().Unix())
	if name == old {
		name += "_b"
	}
	next := o.index(name)

	discard := func() {
		// best effort; an abandoned collection is dropped by the next rebuild
		cleanupCtx := context.WithoutCancel(ctx)
		if err := o.deps.Store.DeleteCollection(cleanupCtx, name); err != nil {
			o.logger.Warn(ctx, "failed to drop abandoned collection", zap.String("collection", name), zap.Error(err))
		}
		o.forgetIndex(name)
	}

	o.logger.Info(ctx, "building new collection", zap.String("collection", name), zap.String("replaces", old))
	if err := next.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	expect, err := o.processBatches(ctx, next, bc, paths, len(paths), report)
	if err != nil {
		discard()
		return err
	}
	if err := next.Verify(ctx, expect, o.cfg.Verify); err != nil {
		discard()
		return fmt.Errorf("new collection %s not consistent: %w", name, err)
	}

	if err := o.deps.Meta.SetActiveCollection(name); err != nil {
		discard()
		return fmt.Errorf("failed to switch active collection: %w", err)
	}
	report.Collection = name
	if err := o.forgetOtherBranches(ctx, bc.Branch); err != nil {
		return err
	}
	if err := o.deps.Store.DeleteCollection(ctx, old); err != nil {
		o.logger.Warn(ctx, "failed to drop previous collection", zap.String("collection", old), zap.Error(err))
	}
	o.forgetIndex(old)
	o.logger.Info(ctx, "switched active collection", zap.String("collection", name))
	return nil
}

func (o *Orchestrator) processBatches(ctx context.Context, idx *storage.Index, bc BranchContext, paths []string, batchSize int, report *Report) (storage.Expectation, error) {
	expect := storage.Expectation{Branch: bc.Branch}
	if batchSize <= 0 {
		batchSize = max(1, len(paths))
	}
	o.deps.Progress.OnFileProcessingStart(len(paths))
	processor := NewProcessor(o.discovery.Root(), o.chunker, o.discovery, idx, o.cfg.Workers, o.deps.Progress, o.deps.Logger)

	for start := 0; start < len(paths); start += batchSize {
		if err := ctx.Err(); err != nil {
			return expect, fmt.Errorf("%w: %w", ErrIndexingCancelled, err)
		}
		batch := paths[start:min(start+batchSize, len(paths))]
		result, err := processor.ProcessFiles(ctx, bc, batch)
		if result != nil {
			report.Stats.add(result.Stats)
			expect.Visible = append(expect.Visible, result.Expect.Visible...)
			expect.Hidden = append(expect.Hidden, result.Expect.Hidden...)
		}
		if err != nil {
			return expect, err
		}
		if batchSize < len(paths) {
			o.logger.Debug(ctx, "batch indexed",
				zap.Int("done", min(start+batchSize, len(paths))), zap.Int("total", len(paths)))
		}
	}
	return expect, nil
}

// forgetOtherBranches drops branches whose content went with a rebuilt
// collection. They are registered again on their next sync.
func (o *Orchestrator) forgetOtherBranches(ctx context.Context, keep string) error {
	records, err := o.deps.Meta.KnownBranches()
	if err != nil {
		return fmt.Errorf("failed to read known branches: %w", err)
	}
	for _, r := range records {
		if r.Name == keep {
			continue
		}
		if err := o.deps.Meta.ForgetBranch(r.Name); err != nil {
			return fmt.Errorf("failed to forget branch %s: %w", r.Name, err)
		}
		o.logger.Debug(ctx, "forgot branch after rebuild", zap.String("forgotten", r.Name))
	}
	return nil
}

// finish prunes deleted branches, cleans up orphans and updates metadata.
func (o *Orchestrator) finish(ctx context.Context, report *Report, fileCount int) error {
	idx := o.index(report.Collection)
	now := o.now()

	if err := o.deps.Meta.UpsertBranch(report.Branch, report.Commit, fileCount, now); err != nil {
		return fmt.Errorf("failed to record branch: %w", err)
	}

	if o.cfg.CleanupOrphans {
		pruned, err := o.pruneBranches(ctx, idx, report.Branch)
		if err != nil {
			o.logger.Warn(ctx, "failed to prune deleted branches", zap.Error(err))
		}
		report.BranchesPruned = pruned

		known, _, err := o.knownBranches(report.Branch)
		if err != nil {
			return err
		}
		removed, err := idx.CleanupOrphans(ctx, known)
		if err != nil {
			o.logger.Warn(ctx, "orphan cleanup failed", zap.Error(err))
		}
		report.OrphansRemoved = removed
	}

	docs, err := idx.CountContent(ctx)
	if err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	for key, value := range map[string]string{
		cache.KeyDocumentCount:  strconv.Itoa(docs),
		cache.KeyEmbeddingModel: o.deps.Embedder.Model(),
		cache.KeyEmbeddingDims:  strconv.Itoa(o.deps.Embedder.Dimensions()),
	} {
		if err := o.deps.Meta.SetState(key, value); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}
	if err := o.deps.Meta.MarkSuccessfulRun(now); err != nil {
		return fmt.Errorf("failed to mark successful run: %w", err)
	}
	return nil
}

// pruneBranches forgets known branches git no longer has and hides them
// everywhere, so a later branch of the same name starts clean.
func (o *Orchestrator) pruneBranches(ctx context.Context, idx *storage.Index, current string) ([]string, error) {
	if o.deps.Repo == nil {
		return nil, nil
	}
	live, err := o.deps.Repo.Branches()
	if err != nil {
		return nil, err
	}
	records, err := o.deps.Meta.KnownBranches()
	if err != nil {
		return nil, err
	}

	var pruned []string
	for _, r := range records {
		if r.Name == current || slices.Contains(live, r.Name) {
			continue
		}
		if _, err := idx.HideBranchEverywhere(ctx, r.Name); err != nil {
			return pruned, fmt.Errorf("failed to hide branch %s: %w", r.Name, err)
		}
		if err := o.deps.Meta.ForgetBranch(r.Name); err != nil {
			return pruned, fmt.Errorf("failed to forget branch %s: %w", r.Name, err)
		}
		pruned = append(pruned, r.Name)
		o.logger.Info(ctx, "pruned deleted branch", zap.String("pruned", r.Name))
	}
	return pruned, nil
}

func (o *Orchestrator) recordRun(ctx context.Context, report *Report) {
	reasons := make([]string, len(report.Decision.TriggerReasons))
	for i, r := range report.Decision.TriggerReasons {
		reasons[i] = string(r)
	}
	run := cache.RunRecord{
		OperationID:    report.OperationID,
		Branch:         report.Branch,
		Mode:           string(report.Mode),
		Strategy:       string(report.Strategy),
		TriggerReasons: reasons,
		Confidence:     report.Decision.ConfidenceScore,
		FilesProcessed: report.Stats.FilesProcessed,
		ChunksEmbedded: report.Stats.ChunksEmbedded,
		ChunksReused:   report.Stats.ChunksReused,
		FilesHidden:    report.Stats.FilesHidden,
		Status:         report.Status,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
	}
	if report.Err != nil {
		run.Error = report.Err.Error()
	}
	if _, err := o.deps.Meta.RecordRun(run); err != nil {
		o.logger.Warn(ctx, "failed to record run", zap.Error(err))
	}
}
