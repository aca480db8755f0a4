// Package chunker splits source text into deterministic chunks for ingestion.
package chunker

import (
	"strings"
)

// Mode selects a chunking strategy.
type Mode string

const (
	// ModeLines cuts every LineCount lines.
	ModeLines Mode = "lines"
	// ModeMarkdown cuts on headings and paragraph breaks, then packs
	// sections up to TargetSize bytes.
	ModeMarkdown Mode = "markdown"
)

const (
	DefaultLineCount  = 40
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior.
type Options struct {
	Mode       Mode
	LineCount  int
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns line chunking with the default line count.
func DefaultOptions() Options {
	return Options{
		Mode:       ModeLines,
		LineCount:  DefaultLineCount,
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk is a piece of the original text with its 1-based line span.
type Chunk struct {
	Index     int
	Text      string
	StartLine int
	EndLine   int
}

// Split chunks text with the strategy in opts. Output is a pure function of
// text and opts.
func Split(text string, opts Options) []Chunk {
	if opts.Mode == ModeMarkdown {
		return Markdown(text, opts)
	}
	n := opts.LineCount
	if n <= 0 {
		n = DefaultLineCount
	}
	return ByLines(text, n)
}

// ByLines groups text into chunks of n lines. The final chunk may be shorter.
// Line content is kept verbatim so chunk digests are stable.
func ByLines(text string, n int) []Chunk {
	if n <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	lines := splitLines(text)
	var out []Chunk
	for start := 0; start < len(lines); start += n {
		end := min(start+n, len(lines))
		out = append(out, Chunk{
			Index:     len(out),
			Text:      strings.Join(lines[start:end], "\n"),
			StartLine: start + 1,
			EndLine:   end,
		})
	}
	return out
}

// splitLines splits on \n, drops a trailing \r from each line and ignores
// the empty element after a final newline.
func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// section is a heading- or paragraph-delimited run of lines.
type section struct {
	lines []string
	start int
	end   int
}

func (s section) text() string {
	return strings.TrimSpace(strings.Join(s.lines, "\n"))
}

// Markdown splits text on headings and blank lines, merges adjacent
// sections while they fit in TargetSize and hard-splits any packed section
// still longer than MaxSize on line boundaries.
func Markdown(text string, opts Options) []Chunk {
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultTargetSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := splitLines(text)
	if len(strings.TrimSpace(text)) <= opts.MaxSize {
		return []Chunk{{Text: strings.TrimSpace(text), StartLine: 1, EndLine: len(lines)}}
	}

	var out []Chunk
	emit := func(s section) {
		t := s.text()
		if t == "" {
			return
		}
		if len(t) <= opts.MaxSize {
			out = append(out, Chunk{Index: len(out), Text: t, StartLine: s.start, EndLine: s.end})
			return
		}
		for _, piece := range splitOversized(s, opts.TargetSize) {
			piece.Index = len(out)
			out = append(out, piece)
		}
	}

	var packed section
	for _, s := range sections(lines) {
		if len(packed.lines) == 0 {
			packed = s
			continue
		}
		if len(packed.text())+2+len(s.text()) <= opts.TargetSize {
			packed.lines = append(append(packed.lines, ""), s.lines...)
			packed.end = s.end
			continue
		}
		emit(packed)
		packed = s
	}
	emit(packed)
	return out
}

// sections cuts lines before every heading and at every blank line.
func sections(lines []string) []section {
	var out []section
	cur := section{start: 1}
	flush := func(end int) {
		cur.end = end
		if strings.TrimSpace(strings.Join(cur.lines, "")) != "" {
			out = append(out, cur)
		}
		cur = section{start: end + 1}
	}

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if len(cur.lines) > 0 && (trimmed == "" || strings.HasPrefix(trimmed, "#")) {
			flush(lineNo - 1)
		}
		cur.lines = append(cur.lines, line)
	}
	flush(len(lines))
	return out
}

// splitOversized breaks a section into line-aligned pieces near target bytes.
func splitOversized(s section, target int) []Chunk {
	var out []Chunk
	var buf []string
	size := 0
	first := s.start

	for i, line := range s.lines {
		lineNo := s.start + i
		if size+len(line) > target && len(buf) > 0 {
			if t := strings.TrimSpace(strings.Join(buf, "\n")); t != "" {
				out = append(out, Chunk{Text: t, StartLine: first, EndLine: lineNo - 1})
			}
			buf, size, first = nil, 0, lineNo
		}
		buf = append(buf, line)
		size += len(line) + 1
	}
	if t := strings.TrimSpace(strings.Join(buf, "\n")); t != "" {
		out = append(out, Chunk{Text: t, StartLine: first, EndLine: s.end})
	}
	return out
}
