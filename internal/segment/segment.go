// internal/segment/segment.go

// Package segment splits a raw manuscript into titled chapters by looking
// for heading-like lines, falling back to fixed-size chunks for long
// unstructured text. It performs no I/O and keeps no shared state.
package segment

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// FrontMatterThreshold is the rune index after which text before the
	// first heading is kept as a "Front Matter / Intro" record.
	FrontMatterThreshold = 100
	// MaxHeadingLength rejects headings whose trimmed length reaches it.
	MaxHeadingLength = 100
	// MinHeadingLength rejects headings whose trimmed length does not exceed it.
	MinHeadingLength = 2
	// FallbackTrigger is the length above which unstructured text is chunked.
	FallbackTrigger = 20000
	// ChunkSize is the rune length of each fallback chunk.
	ChunkSize = 15000

	FrontMatterTitle = "Front Matter / Intro"
	WholeTextTitle   = "Imported Text"
	ChunkTitlePrefix = "Part "
)

// Chapter is one titled piece of the input.
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Options tunes a Segmenter. Zero values fall back to the package constants
// and DefaultRecognizers.
type Options struct {
	Recognizers          []Recognizer
	FrontMatterThreshold int
	MaxHeadingLength     int
	MinHeadingLength     int
	FallbackTrigger      int
	ChunkSize            int
}

// Segmenter is safe for concurrent use.
type Segmenter struct {
	opts Options
}

var defaultSegmenter = New(Options{})

// New builds a Segmenter, filling unset options with defaults.
func New(opts Options) *Segmenter {
	if len(opts.Recognizers) == 0 {
		opts.Recognizers = DefaultRecognizers()
	}
	if opts.FrontMatterThreshold <= 0 {
		opts.FrontMatterThreshold = FrontMatterThreshold
	}
	if opts.MaxHeadingLength <= 0 {
		opts.MaxHeadingLength = MaxHeadingLength
	}
	if opts.MinHeadingLength <= 0 {
		opts.MinHeadingLength = MinHeadingLength
	}
	if opts.FallbackTrigger <= 0 {
		opts.FallbackTrigger = FallbackTrigger
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = ChunkSize
	}
	return &Segmenter{opts: opts}
}

// Segment splits raw with the default recognizers and thresholds.
func Segment(raw string) []Chapter {
	return defaultSegmenter.Segment(raw)
}

// Heading is a detected heading line. Start and End are byte offsets into
// the input; End stops before any line terminator.
type Heading struct {
	Start      int
	End        int
	Text       string
	Recognizer string
}

// Segment never fails and always returns at least one chapter.
func (s *Segmenter) Segment(raw string) []Chapter {
	headings := s.Headings(raw)
	if len(headings) == 0 {
		return s.fallback(raw)
	}

	var chapters []Chapter
	first := headings[0]
	if utf8.RuneCountInString(raw[:frontMatterEnd(raw, first.Start)]) > s.opts.FrontMatterThreshold {
		if intro := strings.TrimSpace(raw[:first.Start]); intro != "" {
			chapters = append(chapters, Chapter{Title: FrontMatterTitle, Content: intro})
		}
	}

	for i, h := range headings {
		end := len(raw)
		if i+1 < len(headings) {
			end = headings[i+1].Start
		}
		content := strings.TrimSpace(raw[h.End:end])
		if content == "" {
			continue
		}
		chapters = append(chapters, Chapter{Title: cleanTitle(h.Text), Content: content})
	}

	if len(chapters) == 0 {
		return []Chapter{{Title: WholeTextTitle, Content: raw}}
	}
	return chapters
}

// Headings returns every accepted heading line in input order.
func (s *Segmenter) Headings(raw string) []Heading {
	var headings []Heading
	offset := 0
	for offset <= len(raw) {
		lineEnd := strings.IndexByte(raw[offset:], '\n')
		next := offset + lineEnd + 1
		if lineEnd < 0 {
			lineEnd = len(raw) - offset
			next = len(raw) + 1
		}
		line := strings.TrimSuffix(raw[offset:offset+lineEnd], "\r")

		if h, ok := s.matchLine(line); ok {
			h.Start += offset
			h.End += offset
			headings = append(headings, h)
		}
		offset = next
	}
	return headings
}

// matchLine returns offsets relative to line.
func (s *Segmenter) matchLine(line string) (Heading, bool) {
	text := strings.TrimLeftFunc(line, unicode.IsSpace)
	if text == "" {
		return Heading{}, false
	}

	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n >= s.opts.MaxHeadingLength || n <= s.opts.MinHeadingLength {
		return Heading{}, false
	}

	body, ok := stripMarkdownPrefix(text)
	if !ok {
		return Heading{}, false
	}

	for _, r := range s.opts.Recognizers {
		if r.Match(body) {
			start := len(line) - len(text)
			return Heading{Start: start, End: len(line), Text: text, Recognizer: r.Name()}, true
		}
	}
	return Heading{}, false
}

// stripMarkdownPrefix removes an optional "#", "##" or "### " marker. Four
// or more hashes, or hashes glued to the word, disqualify the line.
func stripMarkdownPrefix(text string) (string, bool) {
	hashes := len(text) - len(strings.TrimLeft(text, "#"))
	if hashes == 0 {
		return text, true
	}
	if hashes > 3 {
		return "", false
	}
	rest := text[hashes:]
	body := strings.TrimLeftFunc(rest, unicode.IsSpace)
	if len(body) == len(rest) {
		return "", false
	}
	return body, true
}

// frontMatterEnd is where the text before a heading at start ends: the first
// line break of the whitespace run leading up to it, or 0 when nothing but
// whitespace comes first. Blank lines and indentation before the heading do
// not count toward the front-matter threshold.
func frontMatterEnd(raw string, start int) int {
	text := len(strings.TrimRightFunc(raw[:start], unicode.IsSpace))
	if text == 0 {
		return 0
	}
	if i := strings.IndexByte(raw[text:start], '\n'); i >= 0 {
		return text + i
	}
	return start
}

func cleanTitle(heading string) string {
	return strings.TrimSpace(strings.TrimLeftFunc(heading, func(r rune) bool {
		return r == '#' || unicode.IsSpace(r)
	}))
}

func (s *Segmenter) fallback(raw string) []Chapter {
	runes := []rune(raw)
	if len(runes) <= s.opts.FallbackTrigger {
		return []Chapter{{Title: WholeTextTitle, Content: raw}}
	}

	chapters := make([]Chapter, 0, len(runes)/s.opts.ChunkSize+1)
	for i := 0; i < len(runes); i += s.opts.ChunkSize {
		end := min(i+s.opts.ChunkSize, len(runes))
		chapters = append(chapters, Chapter{
			Title:   ChunkTitlePrefix + strconv.Itoa(len(chapters)+1),
			Content: string(runes[i:end]),
		})
	}
	return chapters
}
