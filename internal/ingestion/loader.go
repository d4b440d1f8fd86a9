package ingestion

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/onboarding-agent/backend/internal/fingerprint"
)

var supportedExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
}

// Document is a scanned policy document. ID is the base filename.
type Document struct {
	ID   string
	Path string
	Hash string
	Text string
}

type ReadFailure struct {
	ID  string
	Err error
}

// Loader enumerates the policy documents in a single directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Dir() string {
	return l.dir
}

func IsSupported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Scan reads and hashes every supported document, sorted by ID. Documents
// that cannot be read are returned as failures; a missing or unreadable
// directory is an error.
func (l *Loader) Scan() ([]Document, []ReadFailure, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list policies directory %s: %w", l.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var docs []Document
	var failures []ReadFailure
	for _, name := range names {
		path := filepath.Join(l.dir, name)

		raw, err := os.ReadFile(path)
		if err != nil {
			failures = append(failures, ReadFailure{ID: name, Err: err})
			continue
		}

		text, err := documentText(name, raw)
		if err != nil {
			failures = append(failures, ReadFailure{ID: name, Err: err})
			continue
		}

		docs = append(docs, Document{
			ID:   name,
			Path: path,
			Hash: fingerprint.CalculateHash(raw),
			Text: text,
		})
	}

	return docs, failures, nil
}

func documentText(name string, raw []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return htmlToMarkdown(raw)
	default:
		return string(raw), nil
	}
}

// htmlToMarkdown flattens an HTML page into paragraphs, turning h1-h6 into
// markdown heading lines so the chunker sees the same structure.
func htmlToMarkdown(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, aside, noscript").Remove()

	const blocks = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td"

	var sb strings.Builder
	doc.Find("body").Find(blocks).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, pre, blockquote, td").Length() > 0 {
			return
		}

		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}

		tag := goquery.NodeName(s)
		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString(strings.Repeat("#", int(tag[1]-'0')))
			sb.WriteByte(' ')
			sb.WriteString(strings.Join(strings.Fields(text), " "))
		case "li":
			sb.WriteString("- ")
			sb.WriteString(strings.Join(strings.Fields(text), " "))
		case "pre":
			sb.WriteString("```\n")
			sb.WriteString(text)
			sb.WriteString("\n```")
		default:
			sb.WriteString(strings.Join(strings.Fields(text), " "))
		}
		sb.WriteString("\n\n")
	})

	return strings.TrimSpace(sb.String()), nil
}
