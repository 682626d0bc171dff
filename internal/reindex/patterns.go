package reindex

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/mvp-joe/code-indexer/internal/logging"
)

// compiledPattern holds a config-file pattern and its glob variants.
// A "**/" segment also matches zero directories, so each one gets a
// variant compiled with the segment removed.
type compiledPattern struct {
	pattern string
	globs   []glob.Glob
	// basenameOnly patterns carry no "/" and match at any depth, like .gitignore.
	basenameOnly bool
}

type patternSet struct {
	literals map[string]bool
	compiled []compiledPattern
}

func compilePatterns(ctx context.Context, patterns []string, logger *logging.Logger) *patternSet {
	ps := &patternSet{literals: make(map[string]bool, len(patterns))}
	for _, p := range patterns {
		ps.literals[p] = true

		cp := compiledPattern{pattern: p, basenameOnly: !strings.Contains(p, "/")}
		for _, variant := range globVariants(p) {
			g, err := glob.Compile(variant, '/')
			if err != nil {
				logger.Warn(ctx, "skipping invalid config file pattern",
					zap.String("pattern", p), zap.Error(err))
				continue
			}
			cp.globs = append(cp.globs, g)
		}
		if len(cp.globs) > 0 {
			ps.compiled = append(ps.compiled, cp)
		}
	}
	return ps
}

// globVariants expands every "**/" into both itself and nothing.
func globVariants(pattern string) []string {
	i := strings.Index(pattern, "**/")
	if i < 0 {
		return []string{pattern}
	}
	head := pattern[:i]
	var out []string
	for _, tail := range globVariants(pattern[i+3:]) {
		out = append(out, head+"**/"+tail, head+tail)
	}
	return out
}

func (ps *patternSet) match(filePath string) bool {
	normalized := strings.TrimPrefix(filepath.ToSlash(filePath), "./")
	base := path.Base(normalized)

	if ps.literals[base] {
		return true
	}
	for _, cp := range ps.compiled {
		target := normalized
		if cp.basenameOnly {
			target = base
		}
		for _, g := range cp.globs {
			if g.Match(target) {
				return true
			}
		}
	}
	return false
}
