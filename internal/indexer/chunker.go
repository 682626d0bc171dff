package indexer

import (
	"regexp"
	"strings"

	"github.com/mvp-joe/code-indexer/internal/storage"
)

// Chunker splits file content into indexable chunks.
type Chunker interface {
	Chunk(path, content string, kind FileKind) []storage.Chunk
}

var (
	headerPattern    = regexp.MustCompile(`^##\s+`)
	codeBlockPattern = regexp.MustCompile("^```")
	sentencePattern  = regexp.MustCompile(`[.!?]+\s+`)
)

// chunker implements Chunker with a line-window splitter for code and a
// section/paragraph splitter for markdown.
type chunker struct {
	size    int // target size in characters
	overlap int // code overlap in lines
}

// NewChunker creates a chunker targeting size characters per chunk with
// overlap lines repeated between consecutive code chunks.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	return &chunker{size: size, overlap: overlap}
}

func (c *chunker) Chunk(path, content string, kind FileKind) []storage.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if kind == KindDoc && isMarkdown(path) {
		return c.chunkDocument(lines)
	}
	return c.chunkLines(lines, 1)
}

// chunkLines packs whole lines into windows of at most c.size characters.
// A single longer line becomes its own chunk.
func (c *chunker) chunkLines(lines []string, firstLine int) []storage.Chunk {
	var chunks []storage.Chunk
	start := 0
	for start < len(lines) {
		end := start
		size := 0
		for end < len(lines) {
			n := len(lines[end]) + 1
			if size > 0 && size+n > c.size {
				break
			}
			size += n
			end++
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, storage.Chunk{
				Text:      text,
				LineStart: firstLine + start,
				LineEnd:   firstLine + end - 1,
			})
		}
		if end >= len(lines) {
			break
		}
		// Always advance at least one line.
		start = max(end-c.overlap, start+1)
	}
	return chunks
}

// section represents a markdown section with its lines and start position.
type section struct {
	startLine int
	lines     []string
}

// paragraph represents a paragraph with its text and line range.
type paragraph struct {
	text      string
	startLine int
	endLine   int
}

// chunkDocument splits markdown by ## headers, keeps small sections whole
// and packs paragraphs of larger ones. Fenced code blocks are never split.
func (c *chunker) chunkDocument(lines []string) []storage.Chunk {
	var chunks []storage.Chunk
	for _, sec := range splitByHeaders(lines) {
		text := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if text == "" {
			continue
		}
		if len(text) <= c.size {
			chunks = append(chunks, storage.Chunk{
				Text:      text,
				LineStart: sec.startLine,
				LineEnd:   sec.startLine + len(sec.lines) - 1,
			})
			continue
		}
		chunks = append(chunks, c.packParagraphs(extractParagraphs(sec.lines, sec.startLine))...)
	}
	return chunks
}

// splitByHeaders splits the document into sections by ## headers.
func splitByHeaders(lines []string) []section {
	var sections []section
	current := section{startLine: 1}
	for i, line := range lines {
		if headerPattern.MatchString(line) && i > 0 {
			if len(current.lines) > 0 {
				sections = append(sections, current)
			}
			current = section{startLine: i + 1, lines: []string{line}}
			continue
		}
		current.lines = append(current.lines, line)
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}
	return sections
}

func (c *chunker) packParagraphs(paragraphs []paragraph) []storage.Chunk {
	var chunks []storage.Chunk
	var current []paragraph
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		texts := make([]string, len(current))
		for i, p := range current {
			texts[i] = p.text
		}
		chunks = append(chunks, storage.Chunk{
			Text:      strings.Join(texts, "\n\n"),
			LineStart: current[0].startLine,
			LineEnd:   current[len(current)-1].endLine,
		})
		current = nil
		size = 0
	}

	for _, para := range paragraphs {
		n := len(para.text)
		if size > 0 && size+n > c.size {
			flush()
		}
		if n > c.size && !codeBlockPattern.MatchString(para.text) {
			flush()
			chunks = append(chunks, c.splitLargeParagraph(para)...)
			continue
		}
		current = append(current, para)
		size += n
	}
	flush()
	return chunks
}

// extractParagraphs extracts paragraphs from lines.
// Preserves code blocks as single paragraphs.
func extractParagraphs(lines []string, startLine int) []paragraph {
	var paragraphs []paragraph
	var current []string
	currentStart := startLine
	inCodeBlock := false

	finish := func(end int) {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			paragraphs = append(paragraphs, paragraph{text: text, startLine: currentStart, endLine: end})
		}
		current = nil
	}

	for i, line := range lines {
		lineNum := startLine + i

		if codeBlockPattern.MatchString(line) {
			if !inCodeBlock {
				finish(lineNum - 1)
				inCodeBlock = true
				currentStart = lineNum
				current = append(current, line)
			} else {
				current = append(current, line)
				finish(lineNum)
				currentStart = lineNum + 1
				inCodeBlock = false
			}
			continue
		}

		if inCodeBlock {
			current = append(current, line)
			continue
		}

		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				finish(lineNum - 1)
			}
			currentStart = lineNum + 1
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		finish(startLine + len(lines) - 1)
	}
	return paragraphs
}

// splitLargeParagraph splits a large paragraph by sentences.
func (c *chunker) splitLargeParagraph(para paragraph) []storage.Chunk {
	var chunks []storage.Chunk
	var current []string
	size := 0

	for _, sentence := range sentencePattern.Split(para.text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if size > 0 && size+len(sentence) > c.size {
			chunks = append(chunks, storage.Chunk{Text: strings.Join(current, " "), LineStart: para.startLine, LineEnd: para.endLine})
			current = nil
			size = 0
		}
		current = append(current, sentence)
		size += len(sentence)
	}
	if len(current) > 0 {
		chunks = append(chunks, storage.Chunk{Text: strings.Join(current, " "), LineStart: para.startLine, LineEnd: para.endLine})
	}
	return chunks
}

func isMarkdown(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".md") || strings.HasSuffix(p, ".markdown")
}
