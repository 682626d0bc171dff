package indexer

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// stateDir is never indexed.
const stateDir = ".code-indexer"

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// FileKind separates code from documentation.
type FileKind int

const (
	KindCode FileKind = iota
	KindDoc
)

// DiscoveredFile is a candidate for indexing. Path is relative to the root
// and slash separated.
type DiscoveredFile struct {
	Path string
	Kind FileKind
	Size int64
}

// FileDiscovery handles file discovery with glob patterns and ignore rules.
type FileDiscovery struct {
	rootDir        string
	maxFileSize    int64
	codePatterns   []compiledPattern
	docsPatterns   []compiledPattern
	ignorePatterns []compiledPattern
}

// NewFileDiscovery creates a new file discovery instance. Empty files and
// files larger than maxFileSize are skipped; a maxFileSize of 0 disables the limit.
func NewFileDiscovery(rootDir string, codePatterns, docsPatterns, ignorePatterns []string, maxFileSize int64) (*FileDiscovery, error) {
	fd := &FileDiscovery{
		rootDir:     rootDir,
		maxFileSize: maxFileSize,
	}

	var err error
	if fd.codePatterns, err = compileAll(codePatterns); err != nil {
		return nil, err
	}
	if fd.docsPatterns, err = compileAll(docsPatterns); err != nil {
		return nil, err
	}
	if fd.ignorePatterns, err = compileAll(ignorePatterns); err != nil {
		return nil, err
	}
	return fd, nil
}

func compileAll(patterns []string) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, compiledPattern{pattern: pattern, glob: g})
	}
	return out, nil
}

// Root returns the directory being discovered.
func (fd *FileDiscovery) Root() string {
	return fd.rootDir
}

// Discover walks the directory tree and returns matching files in walk
// (lexical) order.
func (fd *FileDiscovery) Discover(ctx context.Context) ([]DiscoveredFile, error) {
	var files []DiscoveredFile

	err := filepath.WalkDir(fd.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(fd.rootDir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if d.Name() == ".git" || fd.shouldIgnore(relPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || fd.shouldIgnore(relPath) {
			return nil
		}

		kind, ok := fd.Classify(relPath)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || (fd.maxFileSize > 0 && info.Size() > fd.maxFileSize) {
			return nil
		}
		files = append(files, DiscoveredFile{Path: relPath, Kind: kind, Size: info.Size()})
		return nil
	})

	return files, err
}

// Classify reports whether relPath is indexable and as what.
func (fd *FileDiscovery) Classify(relPath string) (FileKind, bool) {
	if fd.shouldIgnore(relPath) {
		return 0, false
	}
	if fd.matchesAnyPattern(relPath, fd.codePatterns) {
		return KindCode, true
	}
	if fd.matchesAnyPattern(relPath, fd.docsPatterns) {
		return KindDoc, true
	}
	return 0, false
}

// shouldIgnore checks if a path matches any ignore pattern.
func (fd *FileDiscovery) shouldIgnore(relPath string) bool {
	// Always ignore the indexer's own state directory
	if strings.HasPrefix(relPath, stateDir+"/") || relPath == stateDir {
		return true
	}

	if fd.matchesAnyPattern(relPath, fd.ignorePatterns) {
		return true
	}

	// Also check if this is a directory that would match with /** suffix
	// For example, "node_modules" should match pattern "node_modules/**"
	pathWithSuffix := relPath + "/**"
	return fd.matchesAnyPattern(pathWithSuffix, fd.ignorePatterns)
}

// matchesAnyPattern checks if a path matches any of the given patterns.
func (fd *FileDiscovery) matchesAnyPattern(path string, patterns []compiledPattern) bool {
	for _, cp := range patterns {
		if cp.glob.Match(path) {
			return true
		}
	}

	// Special handling: if path is in root (no slash), also try matching against
	// patterns with **/ prefix removed. This makes "**/*.md" match both "README.md"
	// and "docs/guide.md" as users would expect.
	if !strings.Contains(path, "/") {
		for _, cp := range patterns {
			if strings.HasPrefix(cp.pattern, "**/") {
				simplified := strings.TrimPrefix(cp.pattern, "**/")
				if simplifiedGlob, err := glob.Compile(simplified, '/'); err == nil {
					if simplifiedGlob.Match(path) {
						return true
					}
				}
			}
		}
	}

	return false
}
