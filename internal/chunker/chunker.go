// Package chunker splits text into overlapping substrings for embedding,
// preferring paragraph boundaries, then sentence boundaries, then
// whitespace, falling back to a hard character cut.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Boundary selects which separator hierarchy the splitter may use before
// falling back to whitespace and then a hard cut.
type Boundary int

const (
	// BoundaryParagraphs prefers a line break ("\n\n" or "\n", whichever
	// sits last in the search window), then sentence, then whitespace, then
	// hard cut.
	BoundaryParagraphs Boundary = iota
	// BoundarySentences prefers sentence-ending punctuation, then
	// whitespace, then hard cut.
	BoundarySentences
	// BoundaryNone splits on whitespace only, then hard cut.
	BoundaryNone
)

// Options configures a single Split call.
type Options struct {
	// ChunkSize is the target maximum chunk length in characters (runes).
	ChunkSize int
	// Overlap is the number of trailing characters repeated at the start of
	// the next chunk. Clamped to ChunkSize/2.
	Overlap  int
	Boundary Boundary
}

const (
	defaultChunkSize = 1000
	defaultOverlap   = 200
	// tolerance is the small amount a chunk may exceed ChunkSize by when the
	// nearest acceptable boundary sits just past the target — keeping a
	// natural break is preferred over truncating mid-word.
	tolerance = 80
)

var sentenceBoundary = regexp.MustCompile(`[.!?;:]\s`)

// Split breaks text into chunks per opts. Zero values in opts fall back to
// defaultChunkSize/defaultOverlap/BoundaryParagraphs.
//
// Guarantees: every character of text is covered by at least one returned
// chunk; no chunk exceeds ChunkSize plus a small tolerance; empty or
// whitespace-only input returns nil; input no longer than ChunkSize returns
// text unchanged as the sole element.
func Split(text string, opts Options) []string {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Overlap <= 0 {
		opts.Overlap = defaultOverlap
	}
	if opts.Overlap > opts.ChunkSize/2 {
		opts.Overlap = opts.ChunkSize / 2
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= opts.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + opts.ChunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := findBoundary(runes, start, end, opts.Boundary)
		chunks = append(chunks, string(runes[start:cut]))

		next := cut - opts.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findBoundary looks for the best split point in (start, end+tolerance],
// searching backwards through the boundary hierarchy implied by b (the
// tolerance lets a natural break just past end win over a split mid-word),
// and falls back to a hard cut exactly at end if nothing is found. All
// offsets — start, end, and the
// returned cut — are rune indices into runes; every search below stays in
// rune space so a multibyte character never shifts the cut point.
func findBoundary(runes []rune, start, end int, b Boundary) int {
	limit := min(end+tolerance, len(runes))
	window := runes[start:limit]
	search := window[:min(end-start+tolerance, len(window))]

	tryBreaks := func(seps []string) (int, bool) {
		best := -1
		for _, sep := range seps {
			sepRunes := []rune(sep)
			if idx := lastIndexRunes(search, sepRunes); idx >= 0 {
				cut := start + idx + len(sepRunes)
				if cut > start && (best == -1 || cut > best) {
					best = cut
				}
			}
		}
		return best, best != -1
	}

	switch b {
	case BoundaryParagraphs:
		if cut, ok := tryBreaks([]string{"\n\n", "\n"}); ok {
			return cut
		}
		if cut := lastSentenceBreak(window, start, end); cut > start {
			return cut
		}
	case BoundarySentences:
		if cut := lastSentenceBreak(window, start, end); cut > start {
			return cut
		}
	}

	if cut, ok := tryBreaks([]string{" "}); ok {
		return cut
	}

	if end > start {
		return end
	}
	return start + 1
}

// lastSentenceBreak finds the rightmost sentence-ending boundary within the
// tolerance window past end. window is runes[start:limit]; the regex match
// byte offsets are converted back to rune offsets before being added to
// start, so multibyte characters earlier in window never skew the result.
func lastSentenceBreak(window []rune, start, end int) int {
	str := string(window)
	matches := sentenceBoundary.FindAllStringIndex(str, -1)
	cut := -1
	for _, m := range matches {
		runeOffset := utf8.RuneCountInString(str[:m[1]])
		candidate := start + runeOffset
		if candidate <= end+tolerance && candidate > cut {
			cut = candidate
		}
	}
	return cut
}

// lastIndexRunes returns the rune index of needle's last occurrence in
// haystack, or -1 if absent.
func lastIndexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
