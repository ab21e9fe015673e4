package segment

import (
	"context"
	"testing"

	"github.com/vekterdb/corekv/blockcodec"
)

func TestNGramTokenizerShingles(t *testing.T) {
	tok := NewNGramTokenizer()
	got := tok.Tokenize("cafe")
	want := []string{"caf", "afe"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNGramTokenizerNormalizesUnicode(t *testing.T) {
	tok := NewNGramTokenizer()
	// precomposed \u00e9 vs. "e" + combining acute accent (\u0065\u0301) must
	// tokenize identically after NFC normalization.
	precomposed := tok.Tokenize("caf\u00e9")
	decomposed := tok.Tokenize("cafe\u0301")
	if len(precomposed) != len(decomposed) {
		t.Fatalf("normalization mismatch: %v vs %v", precomposed, decomposed)
	}
	for i := range precomposed {
		if precomposed[i] != decomposed[i] {
			t.Fatalf("normalization mismatch at %d: %q vs %q", i, precomposed[i], decomposed[i])
		}
	}
}

func TestMetadataIndexEqualsAndRange(t *testing.T) {
	idx := newMetadataIndex("price")
	idx.insert(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 10}, 1)
	idx.insert(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 20}, 2)
	idx.insert(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 20}, 3)
	idx.insert(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 30}, 4)

	eq := idx.Equals(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 20})
	if len(eq) != 2 {
		t.Fatalf("Equals(20) = %v, want 2 entries", eq)
	}

	rng := idx.Range(
		blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 15},
		blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 25},
	)
	if len(rng) != 2 {
		t.Fatalf("Range(15,25) = %v, want 2 entries", rng)
	}

	idx.remove(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 20}, 2)
	eq = idx.Equals(blockcodec.MetadataValue{Kind: blockcodec.MetaU32, U32: 20})
	if len(eq) != 1 || eq[0] != 3 {
		t.Fatalf("Equals(20) after remove = %v, want [3]", eq)
	}
}

func TestMetadataSegmentFullTextRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t)

	seg, err := OpenMetadataSegment(ctx, provider, MetadataSegmentPaths{}, "meta1", 1<<16, nil)
	if err != nil {
		t.Fatalf("OpenMetadataSegment: %v", err)
	}
	w := seg.NewWriter()
	w.Index(1, map[string]blockcodec.MetadataValue{"color": {Kind: blockcodec.MetaString, Str: "red"}}, strp("the quick fox"))
	w.Index(2, nil, strp("the slow fox"))

	paths, err := w.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	seg2, err := OpenMetadataSegment(ctx, provider, paths, "meta1", 1<<16, nil)
	if err != nil {
		t.Fatalf("OpenMetadataSegment (reopen): %v", err)
	}
	scores, err := seg2.Search(ctx, "fox")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := scores[1]; !ok {
		t.Fatalf("expected offset 1 to match 'fox', got %v", scores)
	}
	if _, ok := scores[2]; !ok {
		t.Fatalf("expected offset 2 to match 'fox', got %v", scores)
	}
}
