package chunker_test

import (
	"strings"
	"testing"

	"github.com/relaymem/core/internal/chunker"
)

func TestSplit_EmptyInput(t *testing.T) {
	if got := chunker.Split("", chunker.Options{}); got != nil {
		t.Errorf("Split(\"\"): got %v, want nil", got)
	}
	if got := chunker.Split("   \n\t  ", chunker.Options{}); got != nil {
		t.Errorf("Split(whitespace): got %v, want nil", got)
	}
}

func TestSplit_ShorterThanChunkSize(t *testing.T) {
	text := "a short paragraph that fits in one chunk."
	got := chunker.Split(text, chunker.Options{ChunkSize: 1000, Overlap: 200})
	if len(got) != 1 || got[0] != text {
		t.Errorf("Split(short): got %v, want [%q]", got, text)
	}
}

func TestSplit_CoversEveryCharacter(t *testing.T) {
	text := strings.Repeat("word ", 500)
	got := chunker.Split(text, chunker.Options{ChunkSize: 200, Overlap: 40, Boundary: chunker.BoundaryNone})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	// Every chunk must not grossly exceed the target size.
	for i, c := range got {
		if len([]rune(c)) > 200+200 {
			t.Errorf("chunk %d exceeds tolerance: len=%d", i, len([]rune(c)))
		}
	}
	// Place each chunk at the last spot in text where it starts no later
	// than the end of what is already covered; a gap leaves no such spot.
	covered := 0
	for i, c := range got {
		idx := strings.LastIndex(text[:min(covered+len(c), len(text))], c)
		if idx < 0 {
			t.Fatalf("chunk %d does not continue from offset %d", i, covered)
		}
		covered = idx + len(c)
	}
	if covered != len(text) {
		t.Errorf("chunks cover %d of %d bytes", covered, len(text))
	}
}

func TestSplit_OverlapClampedToHalfChunkSize(t *testing.T) {
	text := strings.Repeat("x", 5000)
	got := chunker.Split(text, chunker.Options{ChunkSize: 100, Overlap: 10000, Boundary: chunker.BoundaryNone})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	// Overlap clamped to 50: 100-rune chunks starting every 50 runes, at
	// 0, 50, ..., 4900 — 99 chunks. Without the clamp there would be 50.
	if len(got) != 99 {
		t.Errorf("expected 99 chunks with overlap clamped to 50, got %d", len(got))
	}
}

func TestSplit_ParagraphBoundaryPreferred(t *testing.T) {
	text := strings.Repeat("First paragraph sentence. ", 10) + "\n\n" + strings.Repeat("Second paragraph sentence. ", 10)
	got := chunker.Split(text, chunker.Options{ChunkSize: 250, Overlap: 20, Boundary: chunker.BoundaryParagraphs})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	// The paragraph break sits at rune 260, within the tolerance past 250,
	// so the first chunk ends right after it rather than at a sentence.
	if !strings.HasSuffix(got[0], "\n\n") {
		t.Errorf("expected the first chunk to end at the paragraph break, got %q", got[0])
	}
}

// TestSplit_MultibyteCoversEveryCharacter guards against splitting on byte
// offsets into multibyte runes — every rune value of a CJK/emoji-heavy input
// must still appear, uncorrupted, somewhere in the returned chunks.
func TestSplit_MultibyteCoversEveryCharacter(t *testing.T) {
	text := strings.Repeat("文章の段落です。これはテストの一部です。 ", 120) + "🎉🎉🎉"
	got := chunker.Split(text, chunker.Options{ChunkSize: 200, Overlap: 40, Boundary: chunker.BoundaryParagraphs})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}

	var rebuilt []rune
	for _, c := range got {
		rebuilt = append(rebuilt, []rune(c)...)
	}
	// Chunks overlap, so rebuilt repeats some runes; check that every rune
	// value of the input still appears, which a cut through the middle of a
	// multibyte rune would break.
	joined := string(rebuilt)
	for _, r := range text {
		if !strings.ContainsRune(joined, r) {
			t.Fatalf("rune %q from the input is missing from the reassembled chunks", r)
		}
	}
	if !strings.HasSuffix(got[len(got)-1], "🎉🎉🎉") {
		t.Errorf("expected the trailing emoji run to survive intact in the last chunk, got %q", got[len(got)-1])
	}
}
