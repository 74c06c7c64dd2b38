// Package corpus enumerates the documentation tree the pipeline indexes.
//
// The corpus is a flat list of markdown documents. Site navigation, themes
// and rendering belong to the surrounding documentation system and are never
// interpreted here.
package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/docquery/docquery/internal/log"
)

// Document is a logical source file from the documentation tree.
// Path is the stable identifier, relative to the corpus root with forward
// slashes regardless of platform.
type Document struct {
	Path    string
	Title   string
	Content string
	ModTime time.Time
}

// LoadResult reports what a corpus walk produced.
type LoadResult struct {
	Documents []Document
	Skipped   int // unreadable or excluded files
}

// Loader walks a documentation root for markdown files.
type Loader struct {
	root   string
	logger log.Logger
}

// NewLoader creates a Loader for the given root directory.
func NewLoader(root string, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Loader{root: root, logger: logger}
}

// Load enumerates all *.md files under the root in lexical walk order.
// Dotfiles, dot-directories and node_modules are skipped. Unreadable files
// are logged and counted, never fatal: a partially readable corpus still
// indexes.
func (l *Loader) Load() (*LoadResult, error) {
	absRoot, err := filepath.Abs(l.root)
	if err != nil {
		return nil, fmt.Errorf("resolving corpus root: %w", err)
	}

	result := &LoadResult{}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping unreadable path", "path", path, "error", err)
			result.Skipped++
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != absRoot && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".md") {
			return nil
		}

		doc, err := l.readDocument(absRoot, path)
		if err != nil {
			l.logger.Warn("skipping unreadable document", "path", path, "error", err)
			result.Skipped++
			return nil
		}
		result.Documents = append(result.Documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus root %q: %w", l.root, err)
	}

	l.logger.Info("corpus loaded",
		"root", l.root,
		"documents", len(result.Documents),
		"skipped", result.Skipped)
	return result, nil
}

// readDocument reads one markdown file, parsing optional YAML front matter.
func (l *Loader) readDocument(root, path string) (Document, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from WalkDir under root
	if err != nil {
		return Document{}, fmt.Errorf("reading file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("stating file: %w", err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Document{}, fmt.Errorf("relativizing path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	title, content := splitFrontMatter(string(raw))
	if title == "" {
		title = titleFromPath(rel)
	}

	return Document{
		Path:    rel,
		Title:   title,
		Content: content,
		ModTime: info.ModTime(),
	}, nil
}

// frontMatter is the subset of document front matter the pipeline uses.
type frontMatter struct {
	Title string `yaml:"title"`
}

// splitFrontMatter strips a leading YAML front-matter block ("---" fenced)
// and returns (title, body). Malformed front matter is left in place and the
// title falls back to the filename.
func splitFrontMatter(raw string) (string, string) {
	if !strings.HasPrefix(raw, "---\n") && !strings.HasPrefix(raw, "---\r\n") {
		return "", raw
	}

	rest := raw[strings.IndexByte(raw, '\n')+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", raw
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	// The closing fence must occupy its own line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if strings.TrimSpace(body[:nl]) != "" {
			return "", raw
		}
		body = body[nl+1:]
	} else if strings.TrimSpace(body) != "" {
		return "", raw
	} else {
		body = ""
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return "", raw
	}
	return strings.TrimSpace(fm.Title), body
}

// titleFromPath derives a human-readable title from a document path,
// e.g. "guides/incident-response.md" becomes "Incident Response".
func titleFromPath(rel string) string {
	stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '-' || r == '_'
	})
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
