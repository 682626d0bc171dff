package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/embed"
	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/logging"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// embedBatchSize bounds the texts sent in one embedding request so a large
// file cannot exceed the server's batch limit.
const embedBatchSize = 32

// Chunk is one piece of a file to be indexed.
type Chunk struct {
	Text      string
	LineStart int
	LineEnd   int
}

// FileInput is a chunked file ready for indexing on a branch.
type FileInput struct {
	Path     string
	Chunks   []Chunk
	FileHash string
	FileSize int64
	Language string
	ModTime  time.Time
	Status   git.WorkingStatus
	Commit   string

	// OnEmbedProgress, when set, is called after each embedding batch.
	OnEmbedProgress func(embed.BatchProgress)
}

// FileResult reports what IndexFile did for one file.
type FileResult struct {
	Path string
	// IDs are the content ids now visible on the branch for this file.
	IDs []string
	// HiddenIDs are the ids of stale chunks hidden on the branch.
	HiddenIDs []string

	Embedded int
	Reused   int
	Unhidden int
}

// Index is the branch-aware content index over one vector store collection.
// It is safe for concurrent use: writes touching the same content id are
// serialized, everything else proceeds in parallel.
type Index struct {
	store      vectorstore.Store
	collection string
	embedder   embed.Provider
	locks      *KeyedMutex
	logger     *logging.Logger

	gatesMu sync.Mutex
	gates   map[string]*sync.RWMutex

	now func() time.Time
}

// NewIndex creates an Index over collection. The collection is not created;
// call EnsureCollection first.
func NewIndex(store vectorstore.Store, collection string, embedder embed.Provider, logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Index{
		store:      store,
		collection: collection,
		embedder:   embedder,
		locks:      NewKeyedMutex(),
		logger:     logger.Named("storage").With(zap.String("collection", collection)),
		gates:      make(map[string]*sync.RWMutex),
		now:        time.Now,
	}
}

// Collection returns the collection name.
func (idx *Index) Collection() string {
	return idx.collection
}

// Store returns the backing vector store.
func (idx *Index) Store() vectorstore.Store {
	return idx.store
}

// EnsureCollection creates the collection sized for the embedder.
func (idx *Index) EnsureCollection(ctx context.Context) error {
	return idx.store.EnsureCollection(ctx, idx.collection, idx.embedder.Dimensions())
}

func (idx *Index) gate(branch string) *sync.RWMutex {
	idx.gatesMu.Lock()
	defer idx.gatesMu.Unlock()
	g, ok := idx.gates[branch]
	if !ok {
		g = &sync.RWMutex{}
		idx.gates[branch] = g
	}
	return g
}

// BeginBranchUpdate blocks searches scoped to branch until the returned
// func is called, so readers never see a half-applied visibility change.
// Writes made through IndexFile and HideFiles do not take the gate
// themselves; the caller holds it around a whole branch sync.
func (idx *Index) BeginBranchUpdate(branch string) func() {
	g := idx.gate(branch)
	g.Lock()
	return g.Unlock
}

// IndexFile makes file visible on branch. Chunks already stored under the
// same (path, chunk index, content hash) are reused without embedding and
// only their visibility changes. New chunks are embedded and hidden on every
// other known branch. Chunks of the same path that branch could see before
// but that no longer match are hidden on branch.
func (idx *Index) IndexFile(ctx context.Context, branch string, file FileInput, knownBranches []string) (FileResult, error) {
	result := FileResult{Path: file.Path}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	hashes := make([]string, len(file.Chunks))
	ids := make([]string, len(file.Chunks))
	for i, c := range file.Chunks {
		hashes[i] = HashContent(c.Text)
		ids[i] = ContentID(file.Path, i, hashes[i])
	}

	visible, err := idx.visibleForPath(ctx, branch, file.Path)
	if err != nil {
		return result, err
	}
	var stale []string
	for _, rec := range visible {
		if !slices.Contains(ids, rec.ID) {
			stale = append(stale, rec.ID)
		}
	}

	unlock := idx.locks.LockAll(append(slices.Clone(ids), stale...))
	defer unlock()

	existing, err := idx.getRecords(ctx, ids)
	if err != nil {
		return result, err
	}

	var missing []int
	for i, id := range ids {
		rec, ok := existing[id]
		if !ok {
			missing = append(missing, i)
			continue
		}
		result.Reused++
		if !rec.VisibleOn(branch) {
			if err := idx.setHidden(ctx, id, withoutBranch(rec.HiddenBranches, branch)); err != nil {
				return result, err
			}
			result.Unhidden++
		}
		if refresh := fileStateRefresh(rec, file); len(refresh) > 0 {
			if err := idx.store.SetPayload(ctx, idx.collection, id, refresh); err != nil {
				return result, err
			}
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = file.Chunks[i].Text
		}
		vectors, err := idx.embedChunks(ctx, file, texts)
		if err != nil {
			return result, fmt.Errorf("failed to embed %s: %w", file.Path, err)
		}

		now := idx.now()
		hidden := withoutBranch(knownBranches, branch)
		points := make([]vectorstore.Point, len(missing))
		for j, i := range missing {
			c := file.Chunks[i]
			points[j] = ContentRecord{
				ID:                     ids[i],
				Vector:                 vectors[j],
				Path:                   file.Path,
				ChunkIndex:             i,
				TotalChunks:            len(file.Chunks),
				Content:                c.Text,
				ContentHash:            hashes[i],
				FileHash:               file.FileHash,
				FileSize:               file.FileSize,
				Language:               file.Language,
				LineStart:              c.LineStart,
				LineEnd:                c.LineEnd,
				GitCommit:              file.Commit,
				CreatedAt:              now,
				IndexedAt:              now,
				FilesystemMTime:        file.ModTime,
				EmbeddingModel:         idx.embedder.Model(),
				HiddenBranches:         hidden,
				WorkingDirectoryStatus: file.Status,
			}.Point()
		}
		if err := idx.store.Upsert(ctx, idx.collection, points); err != nil {
			return result, err
		}
		result.Embedded = len(missing)
	}

	hiddenIDs, err := idx.hideIDs(ctx, branch, stale)
	if err != nil {
		return result, err
	}

	result.IDs = ids
	result.HiddenIDs = hiddenIDs
	idx.logger.Debug(ctx, "indexed file",
		zap.String("branch", branch),
		zap.String("path", file.Path),
		zap.Int("embedded", result.Embedded),
		zap.Int("reused", result.Reused),
		zap.Int("hidden", len(hiddenIDs)))
	return result, nil
}

// embedChunks embeds texts in batches of embedBatchSize, forwarding batch
// progress to the file's callback.
func (idx *Index) embedChunks(ctx context.Context, file FileInput, texts []string) ([][]float32, error) {
	if file.OnEmbedProgress == nil {
		return embed.EmbedWithProgress(ctx, idx.embedder, texts, embed.EmbedModePassage, embedBatchSize, nil)
	}
	progressCh := make(chan embed.BatchProgress, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressCh {
			file.OnEmbedProgress(p)
		}
	}()
	vectors, err := embed.EmbedWithProgress(ctx, idx.embedder, texts, embed.EmbedModePassage, embedBatchSize, progressCh)
	close(progressCh)
	<-done
	return vectors, err
}

// fileStateRefresh returns the bookkeeping fields that changed since rec was
// written. Only reconcile metadata is refreshed; the chunk itself is immutable.
func fileStateRefresh(rec ContentRecord, file FileInput) map[string]any {
	refresh := map[string]any{}
	if !file.ModTime.IsZero() && !rec.FilesystemMTime.Equal(file.ModTime) {
		refresh[FieldFilesystemMTime] = unixNano(file.ModTime)
	}
	if file.Status != "" && rec.WorkingDirectoryStatus != file.Status {
		refresh[FieldWorkingDirectoryStatus] = string(file.Status)
	}
	// identical chunks can come from files that differ only in blank lines
	if file.FileHash != "" && rec.FileHash != file.FileHash {
		refresh[FieldFileHash] = file.FileHash
		refresh[FieldFileSize] = file.FileSize
	}
	return refresh
}

// HideFiles hides every chunk of paths on branch. Content is kept so the
// paths can become visible again without re-embedding.
func (idx *Index) HideFiles(ctx context.Context, branch string, paths []string) ([]string, error) {
	var hidden []string
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return hidden, err
		}
		recs, err := idx.visibleForPath(ctx, branch, path)
		if err != nil {
			return hidden, err
		}
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		unlock := idx.locks.LockAll(ids)
		got, err := idx.hideIDs(ctx, branch, ids)
		unlock()
		if err != nil {
			return hidden, err
		}
		hidden = append(hidden, got...)
	}
	return hidden, nil
}

// ApplyBranchVisibility hides on branch every visible path that is not in
// tracked. It returns the ids it hid.
func (idx *Index) ApplyBranchVisibility(ctx context.Context, branch string, tracked map[string]bool) ([]string, error) {
	var untracked []string
	seen := make(map[string]bool)
	err := vectorstore.ScrollAll(ctx, idx.store, idx.collection, visibleOnBranch(branch), false, func(page []vectorstore.Point) error {
		for _, p := range page {
			path := vectorstore.String(p.Payload, FieldPath)
			if !tracked[path] && !seen[path] {
				seen[path] = true
				untracked = append(untracked, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(untracked) == 0 {
		return nil, nil
	}
	idx.logger.Info(ctx, "hiding paths no longer on branch",
		zap.String("branch", branch), zap.Int("paths", len(untracked)))
	return idx.HideFiles(ctx, branch, untracked)
}

// hideIDs adds branch to the hidden set of ids. Callers hold the id locks.
// Records are re-read under the lock so concurrent updates are not lost.
func (idx *Index) hideIDs(ctx context.Context, branch string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	recs, err := idx.getRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	var hidden []string
	for _, id := range ids {
		rec, ok := recs[id]
		if !ok || !rec.VisibleOn(branch) {
			continue
		}
		if err := idx.setHidden(ctx, id, withBranch(rec.HiddenBranches, branch)); err != nil {
			return hidden, err
		}
		hidden = append(hidden, id)
	}
	return hidden, nil
}

func (idx *Index) setHidden(ctx context.Context, id string, hidden []string) error {
	err := idx.store.SetPayload(ctx, idx.collection, id, map[string]any{FieldHiddenBranches: normalizeBranches(hidden)})
	if errors.Is(err, vectorstore.ErrPointNotFound) {
		return nil
	}
	return err
}

func (idx *Index) visibleForPath(ctx context.Context, branch, path string) ([]ContentRecord, error) {
	var out []ContentRecord
	filter := visibleOnBranch(branch, vectorstore.MatchValue(FieldPath, path))
	err := vectorstore.ScrollAll(ctx, idx.store, idx.collection, filter, false, func(page []vectorstore.Point) error {
		for _, p := range page {
			out = append(out, ContentFromPoint(p))
		}
		return nil
	})
	return out, err
}

func (idx *Index) getRecords(ctx context.Context, ids []string) (map[string]ContentRecord, error) {
	points, err := idx.store.Get(ctx, idx.collection, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ContentRecord, len(points))
	for _, p := range points {
		if RecordType(vectorstore.String(p.Payload, FieldType)) != RecordContent {
			continue
		}
		out[p.ID] = ContentFromPoint(p)
	}
	return out, nil
}

// Records returns the content records among ids.
func (idx *Index) Records(ctx context.Context, ids []string) (map[string]ContentRecord, error) {
	return idx.getRecords(ctx, ids)
}

// CountContent returns the number of content records.
func (idx *Index) CountContent(ctx context.Context) (int, error) {
	return idx.store.Count(ctx, idx.collection, contentFilter())
}

// CountVisible returns the number of content records branch can see.
func (idx *Index) CountVisible(ctx context.Context, branch string) (int, error) {
	return idx.store.Count(ctx, idx.collection, visibleOnBranch(branch))
}
