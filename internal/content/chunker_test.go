package content

import (
	"strings"
	"testing"
)

func paragraphFixture(paragraphs, sentencesPer int) string {
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		for s := 0; s < sentencesPer; s++ {
			b.WriteString("The committee reviewed the filing and published its findings today. ")
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChunkTextSizeBounds(t *testing.T) {
	tests := []struct {
		name string
		kind string
		min  int
		max  int
	}{
		{"news", "news", 100, 1000},
		{"forum", "forum", 50, 500},
		{"financial", "financial", 200, 800},
		{"blog", "blog", 150, 1200},
		{"unknown kind uses general", "recipes", 100, 1000},
	}
	text := paragraphFixture(6, 4)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkText(text, tt.kind, 0.5)
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}
			for i, c := range chunks {
				if c.Size < tt.min || c.Size > tt.max {
					t.Errorf("chunk %d size %d outside [%d,%d]", i, c.Size, tt.min, tt.max)
				}
				if c.Size != len(c.Content) {
					t.Errorf("chunk %d Size %d != len(Content) %d", i, c.Size, len(c.Content))
				}
				if c.StartIndex >= c.EndIndex {
					t.Errorf("chunk %d has empty span [%d,%d)", i, c.StartIndex, c.EndIndex)
				}
			}
		})
	}
}

func TestChunkTextPreservesOrder(t *testing.T) {
	chunks := ChunkText(paragraphFixture(8, 3), "news", 0.5)
	if len(chunks) < 2 {
		t.Fatalf("want several chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartIndex < chunks[i-1].StartIndex {
			t.Errorf("chunk %d starts at %d, before chunk %d at %d",
				i, chunks[i].StartIndex, i-1, chunks[i-1].StartIndex)
		}
	}
}

func TestChunkTextSplitsOversizedRuns(t *testing.T) {
	// No paragraph or list boundaries, so the whole text lands in the tail
	// path and must be cut at sentence ends.
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Every position in the book was marked to the closing level. ")
	}
	chunks := ChunkText(b.String(), "forum", 0.5)
	if len(chunks) < 2 {
		t.Fatalf("oversized run should split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.Size > 500 {
			t.Errorf("chunk %d size %d exceeds forum max", i, c.Size)
		}
		if !c.IsSplit {
			t.Errorf("chunk %d should be marked as a split", i)
		}
		if !strings.HasSuffix(c.Content, ".") && i < len(chunks)-1 {
			t.Errorf("chunk %d does not end at a sentence boundary: %q", i, c.Content[len(c.Content)-20:])
		}
	}
}

func TestChunkTextConfidenceRange(t *testing.T) {
	for _, c := range ChunkText(paragraphFixture(5, 3), "blog", 0.5) {
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Errorf("confidence %v out of [0,1]", c.Confidence)
		}
	}
}

func TestChunkTextEmptyAndTiny(t *testing.T) {
	if got := ChunkText("", "news", 0.5); got != nil {
		t.Errorf("empty text: got %v, want nil", got)
	}
	// Below every kind's minimum: nothing to emit.
	if got := ChunkText("too small", "news", 0.5); len(got) != 0 {
		t.Errorf("tiny text: got %d chunks, want 0", len(got))
	}
}
