// Package chunker splits markdown documents into retrieval units.
//
// Splitting is heading-driven: each #, ## or ### heading opens a section and
// the heading text stays attached to its body. Sections that still exceed the
// size cap are split again on word boundaries with a character overlap carried
// between adjacent pieces, so no sentence fragment is stranded without context.
package chunker

import (
	"regexp"
	"strings"

	"github.com/docquery/docquery/internal/corpus"
)

// MinChunkLen is the cleaned-text length below which a chunk carries too
// little signal to index.
const MinChunkLen = 50

// Chunk is one retrieval unit. (DocPath, Ordinal) identifies it across
// reindex runs.
type Chunk struct {
	DocPath    string
	Title      string   // document title, suffixed with the section for sectioned chunks
	Section    string   // heading text, or the document title for unsectioned text
	HeaderPath []string // heading trail from document root to this section
	Ordinal    int
	Text       string // cleaned plain text, the embedded payload
}

// Config bounds chunk sizes. Both values are in characters of cleaned text.
type Config struct {
	MaxChunkLen int
	Overlap     int
}

// Chunker is a pure splitter; it holds no I/O and is safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Overlap must be smaller than MaxChunkLen; config
// validation enforces this before a Chunker is built.
func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg}
}

var headingRe = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)

// section is an intermediate unit between heading split and size split.
type section struct {
	title string   // heading text, empty for the preamble
	path  []string // heading trail including title
	body  []string // raw markdown lines
}

// Chunk splits one document. An empty or whitespace-only document yields no
// chunks, never an error.
func (c *Chunker) Chunk(doc corpus.Document) []Chunk {
	sections := splitSections(doc.Content)

	var chunks []Chunk
	for _, sec := range sections {
		raw := strings.Join(sec.body, "\n")
		title := doc.Title
		secName := doc.Title
		if sec.title != "" {
			raw = sec.title + "\n\n" + raw
			title = doc.Title + " - " + sec.title
			secName = sec.title
		}

		text := Clean(raw)
		if len(text) <= MinChunkLen {
			continue
		}

		for _, piece := range splitBySize(text, c.cfg.MaxChunkLen, c.cfg.Overlap) {
			if len(piece) <= MinChunkLen {
				continue
			}
			chunks = append(chunks, Chunk{
				DocPath:    doc.Path,
				Title:      title,
				Section:    secName,
				HeaderPath: sec.path,
				Ordinal:    len(chunks),
				Text:       piece,
			})
		}
	}
	return chunks
}

// splitSections scans lines for #–### headings, keeping a heading trail per
// level. Heading markers inside fenced code blocks are body text.
func splitSections(content string) []section {
	lines := strings.Split(content, "\n")

	sections := []section{{}}
	var trail []string
	inFence := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		m := headingRe.FindStringSubmatch(line)
		if m == nil || inFence {
			cur := &sections[len(sections)-1]
			cur.body = append(cur.body, line)
			continue
		}

		level := len(m[1])
		title := strings.TrimSpace(m[2])
		if level-1 < len(trail) {
			trail = trail[:level-1]
		}
		trail = append(trail, title)

		path := make([]string, len(trail))
		copy(path, trail)
		sections = append(sections, section{title: title, path: path})
	}
	return sections
}

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	codeFenceRe   = regexp.MustCompile("(?s)```[^\n]*\n.*?```")
	inlineCodeRe  = regexp.MustCompile("`([^`]+)`")
	headingMarkRe = regexp.MustCompile(`#+\s+`)
	boldRe        = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe      = regexp.MustCompile(`\*([^*]+)\*`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Clean strips markdown syntax down to the prose the embedder should see:
// HTML tags, link targets, fenced code blocks, inline code markers, heading
// markers and emphasis. Blank-line runs collapse to one blank line.
func Clean(text string) string {
	text = htmlTagRe.ReplaceAllString(text, "")
	text = linkRe.ReplaceAllString(text, "$1")
	text = codeFenceRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = headingMarkRe.ReplaceAllString(text, "")
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// splitBySize splits text into pieces of at most maxLen characters on word
// boundaries. Each piece after the first starts with roughly overlap
// characters repeated from the end of its predecessor.
func splitBySize(text string, maxLen, overlap int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	words := strings.Fields(text)
	var pieces []string

	start := 0
	for start < len(words) {
		length := 0
		end := start
		for end < len(words) {
			wl := len(words[end])
			if end > start {
				wl++ // joining space
			}
			// A single word longer than maxLen still forms a piece.
			if length+wl > maxLen && end > start {
				break
			}
			length += wl
			end++
		}

		pieces = append(pieces, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}

		// Walk back from the boundary until the overlap budget is covered,
		// always keeping forward progress.
		back := end
		covered := 0
		for back > start+1 && covered < overlap {
			back--
			covered += len(words[back]) + 1
		}
		start = back
	}
	return pieces
}
