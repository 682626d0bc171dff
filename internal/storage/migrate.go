package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// ErrMigrationIncomplete is returned when migrated records could not be
// confirmed. Legacy records are left in place and the migration can be rerun.
var ErrMigrationIncomplete = errors.New("schema migration incomplete")

const migrationBatchSize = 64

// MigrationReport summarizes a migration run.
type MigrationReport struct {
	LegacyRecords      int
	ContentCreated     int
	ContentMerged      int
	VisibilityFolded   int
	DanglingVisibility int
}

// Migrator folds legacy flat records and visibility records into content
// records carrying hidden_branches. Typed content records are never rewritten
// except for their visibility set.
type Migrator struct {
	idx    *Index
	policy VerifyPolicy
}

// NewMigrator creates a Migrator for idx.
func NewMigrator(idx *Index, policy VerifyPolicy) *Migrator {
	return &Migrator{idx: idx, policy: policy}
}

type legacyGroup struct {
	record   ContentRecord
	branches []string
	sources  []string
}

// Migrate converts every legacy record and folds every visibility record.
// Legacy points are deleted only after their replacements are read back.
func (m *Migrator) Migrate(ctx context.Context, knownBranches []string) (MigrationReport, error) {
	var report MigrationReport

	groups, err := m.collectLegacy(ctx, &report)
	if err != nil {
		return report, err
	}
	if len(groups) > 0 {
		if err := m.migrateLegacy(ctx, groups, knownBranches, &report); err != nil {
			return report, err
		}
	}
	if err := m.foldVisibility(ctx, &report); err != nil {
		return report, err
	}

	m.idx.logger.Info(ctx, "schema migration finished",
		zap.Int("legacy_records", report.LegacyRecords),
		zap.Int("content_created", report.ContentCreated),
		zap.Int("content_merged", report.ContentMerged),
		zap.Int("visibility_folded", report.VisibilityFolded),
		zap.Int("dangling_visibility", report.DanglingVisibility))
	return report, nil
}

func (m *Migrator) collectLegacy(ctx context.Context, report *MigrationReport) (map[string]*legacyGroup, error) {
	groups := make(map[string]*legacyGroup)
	err := vectorstore.ScrollAll(ctx, m.idx.store, m.idx.collection, legacyFilter(), true, func(page []vectorstore.Point) error {
		for _, p := range page {
			report.LegacyRecords++
			rec := contentFromLegacy(p)
			g, ok := groups[rec.ID]
			if !ok {
				g = &legacyGroup{record: rec}
				groups[rec.ID] = g
			}
			if len(g.record.Vector) == 0 && len(rec.Vector) > 0 {
				g.record.Vector = rec.Vector
			}
			if b := vectorstore.String(p.Payload, FieldGitBranch); !slices.Contains(g.branches, b) {
				g.branches = append(g.branches, b)
			}
			g.sources = append(g.sources, p.ID)
		}
		return nil
	})
	return groups, err
}

// contentFromLegacy maps a flat record onto a content record. The id is
// recomputed so migrated content dedups with newly indexed content.
func contentFromLegacy(p vectorstore.Point) ContentRecord {
	pl := p.Payload
	path := vectorstore.String(pl, FieldPath)
	if path == "" {
		path = vectorstore.String(pl, FieldFilePath)
	}
	content := vectorstore.String(pl, FieldContent)
	hash := vectorstore.String(pl, FieldContentHash)
	if hash == "" {
		hash = HashContent(content)
	}
	chunk := int(vectorstore.Int(pl, FieldChunkIndex))

	rec := ContentFromPoint(p)
	rec.ID = ContentID(path, chunk, hash)
	rec.Path = path
	rec.ChunkIndex = chunk
	rec.ContentHash = hash
	if rec.TotalChunks == 0 {
		rec.TotalChunks = chunk + 1
	}
	if rec.WorkingDirectoryStatus == "" {
		rec.WorkingDirectoryStatus = git.StatusCommitted
	}
	rec.HiddenBranches = nil
	return rec
}

func (m *Migrator) migrateLegacy(ctx context.Context, groups map[string]*legacyGroup, knownBranches []string, report *MigrationReport) error {
	all := slices.Clone(knownBranches)
	ids := make([]string, 0, len(groups))
	for id, g := range groups {
		ids = append(ids, id)
		all = append(all, g.branches...)
	}
	sort.Strings(ids)
	all = normalizeBranches(all)

	var sources []string
	for start := 0; start < len(ids); start += migrationBatchSize {
		batch := ids[start:min(start+migrationBatchSize, len(ids))]
		if err := m.writeBatch(ctx, batch, groups, all, report); err != nil {
			return err
		}
		for _, id := range batch {
			sources = append(sources, groups[id].sources...)
		}
	}

	// Confirm every replacement before removing any legacy record.
	_, err := Retry(ctx, m.policy, func(ctx context.Context) error {
		recs, err := m.idx.getRecords(ctx, ids)
		if err != nil {
			return err
		}
		if len(recs) != len(ids) {
			return fmt.Errorf("%d of %d migrated records readable", len(recs), len(ids))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationIncomplete, err)
	}

	// Legacy ids that collide with a new content id were overwritten in place.
	sources = slices.DeleteFunc(sources, func(id string) bool {
		_, replaced := groups[id]
		return replaced
	})
	for start := 0; start < len(sources); start += migrationBatchSize {
		batch := sources[start:min(start+migrationBatchSize, len(sources))]
		if err := m.idx.store.Delete(ctx, m.idx.collection, batch); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationIncomplete, err)
		}
	}
	return nil
}

func (m *Migrator) writeBatch(ctx context.Context, batch []string, groups map[string]*legacyGroup, allBranches []string, report *MigrationReport) error {
	unlock := m.idx.locks.LockAll(batch)
	defer unlock()

	existing, err := m.idx.getRecords(ctx, batch)
	if err != nil {
		return err
	}

	var points []vectorstore.Point
	for _, id := range batch {
		g := groups[id]
		if rec, ok := existing[id]; ok {
			hidden := slices.DeleteFunc(slices.Clone(rec.HiddenBranches), func(b string) bool {
				return slices.Contains(g.branches, b)
			})
			if err := m.idx.setHidden(ctx, id, hidden); err != nil {
				return err
			}
			report.ContentMerged++
			continue
		}
		rec := g.record
		rec.HiddenBranches = slices.DeleteFunc(slices.Clone(allBranches), func(b string) bool {
			return slices.Contains(g.branches, b)
		})
		points = append(points, rec.Point())
		report.ContentCreated++
	}
	if len(points) == 0 {
		return nil
	}
	return m.idx.store.Upsert(ctx, m.idx.collection, points)
}

// foldVisibility applies each visibility record to its content record and
// then deletes it. When several records bind the same branch, the highest
// priority wins, then the newest.
func (m *Migrator) foldVisibility(ctx context.Context, report *MigrationReport) error {
	type key struct{ content, branch string }
	winners := make(map[key]VisibilityRecord)
	var all []string

	err := vectorstore.ScrollAll(ctx, m.idx.store, m.idx.collection, visibilityFilter(), false, func(page []vectorstore.Point) error {
		for _, p := range page {
			v := VisibilityFromPoint(p)
			all = append(all, v.ID)
			k := key{v.ContentID, v.Branch}
			w, ok := winners[k]
			if !ok || v.Priority > w.Priority || (v.Priority == w.Priority && v.CreatedAt.After(w.CreatedAt)) {
				winners[k] = v
			}
		}
		return nil
	})
	if err != nil || len(all) == 0 {
		return err
	}

	keys := make([]key, 0, len(winners))
	for k := range winners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].content != keys[j].content {
			return keys[i].content < keys[j].content
		}
		return keys[i].branch < keys[j].branch
	})

	dangling := make(map[string]bool)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		applied, err := m.applyVisibility(ctx, winners[k])
		if err != nil {
			return err
		}
		if !applied {
			dangling[k.content] = true
			report.DanglingVisibility++
			continue
		}
		report.VisibilityFolded++
	}

	// Records pointing at missing content stay so a later run can fold them
	// once the content exists.
	var done []string
	err = vectorstore.ScrollAll(ctx, m.idx.store, m.idx.collection, visibilityFilter(), false, func(page []vectorstore.Point) error {
		for _, p := range page {
			if !dangling[vectorstore.String(p.Payload, FieldContentID)] {
				done = append(done, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for start := 0; start < len(done); start += migrationBatchSize {
		if err := m.idx.store.Delete(ctx, m.idx.collection, done[start:min(start+migrationBatchSize, len(done))]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) applyVisibility(ctx context.Context, v VisibilityRecord) (bool, error) {
	m.idx.locks.Lock(v.ContentID)
	defer m.idx.locks.Unlock(v.ContentID)

	recs, err := m.idx.getRecords(ctx, []string{v.ContentID})
	if err != nil {
		return false, err
	}
	rec, ok := recs[v.ContentID]
	if !ok {
		return false, nil
	}
	var hidden []string
	if v.Status == Hidden {
		hidden = withBranch(rec.HiddenBranches, v.Branch)
	} else {
		hidden = withoutBranch(rec.HiddenBranches, v.Branch)
	}
	if slices.Equal(hidden, normalizeBranches(rec.HiddenBranches)) {
		return true, nil
	}
	return true, m.idx.setHidden(ctx, v.ContentID, hidden)
}
