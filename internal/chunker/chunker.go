package chunker

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/onboarding-agent/backend/internal/vector"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 100

	// Headings deeper than this stay in the section body.
	maxHeadingLevel = 3
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits markdown documents into heading-scoped, size-bounded chunks.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
	md         goldmark.Markdown
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultOverlap,
		separators: defaultSeparators,
		md:         goldmark.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 10
	}
	return c
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }
func (c *Chunker) Overlap() int   { return c.overlap }

// Chunk splits content into chunks attributed to source. Chunk indices run
// across the whole document starting at zero.
func (c *Chunker) Chunk(content, source string) []vector.Chunk {
	chunks := []vector.Chunk{}
	index := 0

	for _, sec := range c.sections([]byte(content)) {
		for _, piece := range c.split(sec.body, c.separators) {
			chunks = append(chunks, vector.Chunk{
				Text:       piece,
				Source:     source,
				Headings:   sec.headings,
				ChunkIndex: index,
			})
			index++
		}
	}

	return chunks
}

type section struct {
	headings []string
	body     string
}

type headingSpan struct {
	level int
	title string
	start int
	end   int
}

// sections cuts the document at top-level headings of level 1-3. Heading
// lines are removed from the bodies and carried as a path instead.
func (c *Chunker) sections(src []byte) []section {
	spans := c.headingSpans(src)

	var out []section
	var stack []headingSpan

	emit := func(from, to int) {
		body := strings.TrimSpace(string(src[from:to]))
		if body == "" {
			return
		}
		var path []string
		for _, h := range stack {
			path = append(path, h.title)
		}
		out = append(out, section{headings: path, body: body})
	}

	pos := 0
	for _, span := range spans {
		emit(pos, span.start)

		for len(stack) > 0 && stack[len(stack)-1].level >= span.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, span)
		pos = span.end
	}
	emit(pos, len(src))

	return out
}

func (c *Chunker) headingSpans(src []byte) []headingSpan {
	doc := c.md.Parser().Parse(text.NewReader(src))

	var spans []headingSpan
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > maxHeadingLevel {
			continue
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			continue
		}

		first := lines.At(0)
		last := lines.At(lines.Len() - 1)

		var title strings.Builder
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if i > 0 {
				title.WriteByte(' ')
			}
			title.Write(bytes.TrimSpace(seg.Value(src)))
		}

		start := bytes.LastIndexByte(src[:first.Start], '\n') + 1
		end := lineEnd(src, max(last.Stop-1, last.Start))
		if !isATX(src[start:]) {
			// setext: the underline follows the content lines
			end = lineEnd(src, end)
		}

		spans = append(spans, headingSpan{
			level: h.Level,
			title: strings.TrimSpace(title.String()),
			start: start,
			end:   end,
		})
	}

	return spans
}

// lineEnd returns the offset just past the newline ending the line that
// contains pos.
func lineEnd(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}

func isATX(line []byte) bool {
	trimmed := bytes.TrimLeft(line, " ")
	return len(line)-len(trimmed) <= 3 && len(trimmed) > 0 && trimmed[0] == '#'
}

// split recursively breaks text on the first separator present, recursing
// with finer separators on pieces that are still too long, then merges the
// pieces back up to the size limit with overlap.
func (c *Chunker) split(text string, separators []string) []string {
	var final []string

	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < c.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, c.split(piece, finer)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}

	return final
}

// splitKeepingSeparator splits text on sep and attaches each separator to
// the start of the piece that follows it.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// merge joins adjacent pieces into chunks no longer than chunkSize, carrying
// up to overlap characters of trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0

	flush := func() {
		if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
			docs = append(docs, doc)
		}
	}

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.chunkSize && len(current) > 0 {
			flush()
			for total > c.overlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	flush()

	return docs
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
