package storage

import (
	"context"
	"fmt"

	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// SchemaState is the layout of a collection, computed once per probe.
type SchemaState int

const (
	SchemaEmpty SchemaState = iota
	// SchemaLegacy holds only flat per-branch records.
	SchemaLegacy
	// SchemaCurrent holds only typed records.
	SchemaCurrent
	// SchemaMixed holds both and needs the legacy part migrated.
	SchemaMixed
)

func (s SchemaState) String() string {
	switch s {
	case SchemaEmpty:
		return "empty"
	case SchemaLegacy:
		return "legacy"
	case SchemaCurrent:
		return "current"
	case SchemaMixed:
		return "mixed"
	}
	return fmt.Sprintf("SchemaState(%d)", int(s))
}

// SchemaReport is the result of a schema probe.
type SchemaReport struct {
	State      SchemaState
	Total      int
	Legacy     int
	Content    int
	Visibility int
}

// NeedsMigration reports whether legacy or visibility records must be folded
// before the index can be used.
func (r SchemaReport) NeedsMigration() bool {
	return r.Legacy > 0 || r.Visibility > 0
}

// legacyFilter selects records with no type discriminator and a git_branch.
func legacyFilter() *vectorstore.Filter {
	return &vectorstore.Filter{
		Must:    []vectorstore.Condition{vectorstore.FieldIsEmpty(FieldType)},
		MustNot: []vectorstore.Condition{vectorstore.FieldIsEmpty(FieldGitBranch)},
	}
}

func visibilityFilter() *vectorstore.Filter {
	return &vectorstore.Filter{Must: []vectorstore.Condition{vectorstore.MatchValue(FieldType, string(RecordVisibility))}}
}

// SchemaDetector probes a collection's layout.
type SchemaDetector struct {
	store      vectorstore.Store
	collection string
}

// NewSchemaDetector creates a detector for collection.
func NewSchemaDetector(store vectorstore.Store, collection string) *SchemaDetector {
	return &SchemaDetector{store: store, collection: collection}
}

// Detect counts each record kind. A missing collection is empty.
func (d *SchemaDetector) Detect(ctx context.Context) (SchemaReport, error) {
	exists, err := d.store.CollectionExists(ctx, d.collection)
	if err != nil {
		return SchemaReport{}, err
	}
	if !exists {
		return SchemaReport{State: SchemaEmpty}, nil
	}

	var r SchemaReport
	if r.Total, err = d.store.Count(ctx, d.collection, nil); err != nil {
		return SchemaReport{}, err
	}
	if r.Total == 0 {
		return r, nil
	}
	if r.Legacy, err = d.store.Count(ctx, d.collection, legacyFilter()); err != nil {
		return SchemaReport{}, err
	}
	if r.Content, err = d.store.Count(ctx, d.collection, contentFilter()); err != nil {
		return SchemaReport{}, err
	}
	if r.Visibility, err = d.store.Count(ctx, d.collection, visibilityFilter()); err != nil {
		return SchemaReport{}, err
	}

	typed := r.Content + r.Visibility
	switch {
	case r.Legacy > 0 && typed > 0:
		r.State = SchemaMixed
	case r.Legacy > 0:
		r.State = SchemaLegacy
	default:
		r.State = SchemaCurrent
	}
	return r, nil
}
