// Package storage implements the branch-aware content/visibility index on
// top of a vector store. Content records are immutable chunk embeddings
// keyed by (path, chunk index, content hash); which branches see a record is
// tracked in its hidden_branches set, so switching branches never requires
// re-embedding unchanged content.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mvp-joe/code-indexer/internal/git"
	"github.com/mvp-joe/code-indexer/internal/vectorstore"
)

// Payload field names.
const (
	FieldType                   = "type"
	FieldPath                   = "path"
	FieldChunkIndex             = "chunk_index"
	FieldTotalChunks            = "total_chunks"
	FieldContent                = "content"
	FieldContentHash            = "content_hash"
	FieldFileHash               = "file_hash"
	FieldFileSize               = "file_size"
	FieldLanguage               = "language"
	FieldLineStart              = "line_start"
	FieldLineEnd                = "line_end"
	FieldGitCommit              = "git_commit"
	FieldCreatedAt              = "created_at"
	FieldIndexedAt              = "indexed_at"
	FieldFilesystemMTime        = "filesystem_mtime"
	FieldEmbeddingModel         = "embedding_model"
	FieldHiddenBranches         = "hidden_branches"
	FieldWorkingDirectoryStatus = "working_directory_status"

	// Visibility records (alternate representation).
	FieldBranch    = "branch"
	FieldContentID = "content_id"
	FieldStatus    = "status"
	FieldPriority  = "priority"

	// Legacy flat schema.
	FieldGitBranch = "git_branch"
	FieldFilePath  = "file_path"
)

// RecordType is the payload discriminator.
type RecordType string

const (
	RecordContent    RecordType = "content"
	RecordVisibility RecordType = "visibility"
)

// VisibilityStatus is the state of a visibility record.
type VisibilityStatus string

const (
	Visible VisibilityStatus = "visible"
	Hidden  VisibilityStatus = "hidden"
)

// contentNamespace scopes deterministic content ids.
var contentNamespace = uuid.MustParse("6f1c2f4e-8c1a-5d3b-9a57-2e0d7c4b1a90")

// ContentID derives the stable id of a chunk. It depends only on what the
// chunk is, never on the branch it was seen on, so identical content on two
// branches maps to one record.
func ContentID(path string, chunkIndex int, contentHash string) string {
	return uuid.NewSHA1(contentNamespace, []byte(fmt.Sprintf("%s:%d:%s", path, chunkIndex, contentHash))).String()
}

// HashContent returns the hex SHA-256 of text.
func HashContent(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ContentRecord is one immutable indexed chunk.
type ContentRecord struct {
	ID     string
	Vector []float32

	Path        string
	ChunkIndex  int
	TotalChunks int
	Content     string
	ContentHash string
	FileHash    string
	FileSize    int64
	Language    string
	LineStart   int
	LineEnd     int

	GitCommit       string
	CreatedAt       time.Time
	IndexedAt       time.Time
	FilesystemMTime time.Time
	EmbeddingModel  string

	// HiddenBranches lists the branches that must not see this record.
	// A branch not listed sees it.
	HiddenBranches         []string
	WorkingDirectoryStatus git.WorkingStatus
}

// VisibleOn reports whether branch sees the record.
func (r ContentRecord) VisibleOn(branch string) bool {
	return !slices.Contains(r.HiddenBranches, branch)
}

// Payload renders the record for the vector store.
func (r ContentRecord) Payload() map[string]any {
	return map[string]any{
		FieldType:                   string(RecordContent),
		FieldPath:                   r.Path,
		FieldChunkIndex:             r.ChunkIndex,
		FieldTotalChunks:            r.TotalChunks,
		FieldContent:                r.Content,
		FieldContentHash:            r.ContentHash,
		FieldFileHash:               r.FileHash,
		FieldFileSize:               r.FileSize,
		FieldLanguage:               r.Language,
		FieldLineStart:              r.LineStart,
		FieldLineEnd:                r.LineEnd,
		FieldGitCommit:              r.GitCommit,
		FieldCreatedAt:              unixNano(r.CreatedAt),
		FieldIndexedAt:              unixNano(r.IndexedAt),
		FieldFilesystemMTime:        unixNano(r.FilesystemMTime),
		FieldEmbeddingModel:         r.EmbeddingModel,
		FieldHiddenBranches:         normalizeBranches(r.HiddenBranches),
		FieldWorkingDirectoryStatus: string(r.WorkingDirectoryStatus),
	}
}

// Point renders the record as a vector store point.
func (r ContentRecord) Point() vectorstore.Point {
	return vectorstore.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload()}
}

// ContentFromPoint decodes a content record.
func ContentFromPoint(p vectorstore.Point) ContentRecord {
	pl := p.Payload
	return ContentRecord{
		ID:                     p.ID,
		Vector:                 p.Vector,
		Path:                   vectorstore.String(pl, FieldPath),
		ChunkIndex:             int(vectorstore.Int(pl, FieldChunkIndex)),
		TotalChunks:            int(vectorstore.Int(pl, FieldTotalChunks)),
		Content:                vectorstore.String(pl, FieldContent),
		ContentHash:            vectorstore.String(pl, FieldContentHash),
		FileHash:               vectorstore.String(pl, FieldFileHash),
		FileSize:               vectorstore.Int(pl, FieldFileSize),
		Language:               vectorstore.String(pl, FieldLanguage),
		LineStart:              int(vectorstore.Int(pl, FieldLineStart)),
		LineEnd:                int(vectorstore.Int(pl, FieldLineEnd)),
		GitCommit:              vectorstore.String(pl, FieldGitCommit),
		CreatedAt:              fromUnixNano(vectorstore.Int(pl, FieldCreatedAt)),
		IndexedAt:              fromUnixNano(vectorstore.Int(pl, FieldIndexedAt)),
		FilesystemMTime:        fromUnixNano(vectorstore.Int(pl, FieldFilesystemMTime)),
		EmbeddingModel:         vectorstore.String(pl, FieldEmbeddingModel),
		HiddenBranches:         vectorstore.Strings(pl, FieldHiddenBranches),
		WorkingDirectoryStatus: git.WorkingStatus(vectorstore.String(pl, FieldWorkingDirectoryStatus)),
	}
}

// VisibilityRecord is the per-branch binding used by the alternate
// representation. The index folds these into HiddenBranches during
// migration and never writes new ones.
type VisibilityRecord struct {
	ID         string
	Branch     string
	Path       string
	ChunkIndex int
	ContentID  string
	Status     VisibilityStatus
	Priority   int
	CreatedAt  time.Time
}

// VisibilityFromPoint decodes a visibility record.
func VisibilityFromPoint(p vectorstore.Point) VisibilityRecord {
	pl := p.Payload
	return VisibilityRecord{
		ID:         p.ID,
		Branch:     vectorstore.String(pl, FieldBranch),
		Path:       vectorstore.String(pl, FieldPath),
		ChunkIndex: int(vectorstore.Int(pl, FieldChunkIndex)),
		ContentID:  vectorstore.String(pl, FieldContentID),
		Status:     VisibilityStatus(vectorstore.String(pl, FieldStatus)),
		Priority:   int(vectorstore.Int(pl, FieldPriority)),
		CreatedAt:  fromUnixNano(vectorstore.Int(pl, FieldCreatedAt)),
	}
}

// contentFilter selects content records.
func contentFilter() *vectorstore.Filter {
	return &vectorstore.Filter{Must: []vectorstore.Condition{vectorstore.MatchValue(FieldType, string(RecordContent))}}
}

// visibleOnBranch selects content records branch can see, optionally
// narrowed by extra conditions.
func visibleOnBranch(branch string, extra ...vectorstore.Condition) *vectorstore.Filter {
	f := contentFilter()
	f.Must = append(f.Must, extra...)
	f.MustNot = []vectorstore.Condition{vectorstore.MatchValue(FieldHiddenBranches, branch)}
	return f
}

func normalizeBranches(in []string) []string {
	out := make([]string, 0, len(in))
	for _, b := range in {
		if b != "" && !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

func withBranch(hidden []string, branch string) []string {
	return normalizeBranches(append(slices.Clone(hidden), branch))
}

func withoutBranch(hidden []string, branch string) []string {
	out := make([]string, 0, len(hidden))
	for _, b := range hidden {
		if b != branch {
			out = append(out, b)
		}
	}
	return normalizeBranches(out)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
