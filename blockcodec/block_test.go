package blockcodec

import (
	"reflect"
	"testing"
)

func TestBlockRoundTripStringKeyF32Value(t *testing.T) {
	b := NewBuilder(KeyTypeString, ValueTypeF32, 0, false)
	want := []Entry{
		{Prefix: "p", Key: StringKey("a"), Value: Value{Type: ValueTypeF32, F32: 1.5}},
		{Prefix: "p", Key: StringKey("b"), Value: Value{Type: ValueTypeF32, F32: -2.25}},
		{Prefix: "p", Key: StringKey("c"), Value: Value{Type: ValueTypeF32, F32: 0}},
	}
	for _, e := range want {
		if err := b.Add(e.Prefix, e.Key, e.Value); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	raw, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	blk, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if blk.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", blk.Len(), len(want))
	}
	for i, e := range want {
		got, err := blk.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got.Prefix != e.Prefix || got.Key.Str != e.Key.Str || got.Value.F32 != e.Value.F32 {
			t.Fatalf("Get(%d) = %+v, want %+v", i, got, e)
		}
	}
}

func TestBlockBinarySearch(t *testing.T) {
	b := NewBuilder(KeyTypeU32, ValueTypeU32, 0, false)
	for i := uint32(0); i < 10; i++ {
		if err := b.Add("p", U32Key(i*2), Value{Type: ValueTypeU32, U32: i}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	raw, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	blk, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	idx, found, err := blk.BinarySearch(CompositeKey{Prefix: "p", Key: U32Key(6)})
	if err != nil || !found || idx != 3 {
		t.Fatalf("BinarySearch(6) = (%d,%v,%v), want (3,true,nil)", idx, found, err)
	}

	idx, found, err = blk.BinarySearch(CompositeKey{Prefix: "p", Key: U32Key(7)})
	if err != nil || found || idx != 4 {
		t.Fatalf("BinarySearch(7) = (%d,%v,%v), want (4,false,nil)", idx, found, err)
	}
}

func TestBlockRoundTripVector(t *testing.T) {
	dim := 4
	b := NewBuilder(KeyTypeU32, ValueTypeVector, dim, false)
	vecs := [][]float32{
		{1, 2, 3, 4},
		{0.5, -0.5, 0, 1},
	}
	for i, v := range vecs {
		if err := b.Add("p", U32Key(uint32(i)), Value{Type: ValueTypeVector, Vector: v}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	raw, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	blk, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, v := range vecs {
		got, err := blk.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !reflect.DeepEqual(got.Value.Vector, v) {
			t.Fatalf("Get(%d).Vector = %v, want %v", i, got.Value.Vector, v)
		}
	}
}

func TestBlockRoundTripDataRecordCompressed(t *testing.T) {
	b := NewBuilder(KeyTypeString, ValueTypeDataRecord, 0, true)
	doc := "hello world"
	rec := DataRecord{
		ID:        "id-1",
		Embedding: []float32{1, 2, 3},
		Metadata: map[string]MetadataValue{
			"color": {Kind: MetaString, Str: "red"},
			"score": {Kind: MetaF32, F32: 0.9},
		},
		Document: &doc,
	}
	if err := b.Add("p", StringKey("id-1"), Value{Type: ValueTypeDataRecord, Record: rec}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	raw, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	blk, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := blk.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if got.Value.Record.ID != rec.ID {
		t.Fatalf("ID = %q, want %q", got.Value.Record.ID, rec.ID)
	}
	if !reflect.DeepEqual(got.Value.Record.Embedding, rec.Embedding) {
		t.Fatalf("Embedding = %v, want %v", got.Value.Record.Embedding, rec.Embedding)
	}
	if *got.Value.Record.Document != *rec.Document {
		t.Fatalf("Document = %q, want %q", *got.Value.Record.Document, *rec.Document)
	}
	if got.Value.Record.Metadata["color"].Str != "red" {
		t.Fatalf("metadata color = %+v", got.Value.Record.Metadata["color"])
	}
}

func TestBlockRejectsOutOfOrderEntries(t *testing.T) {
	b := NewBuilder(KeyTypeU32, ValueTypeU32, 0, false)
	if err := b.Add("p", U32Key(5), Value{Type: ValueTypeU32, U32: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add("p", U32Key(3), Value{Type: ValueTypeU32, U32: 2}); err == nil {
		t.Fatalf("expected error adding out-of-order key")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	if _, err := Decode(make([]byte, 128)); err == nil {
		t.Fatalf("expected Corruption error for all-zero bytes")
	}
}

func TestSizeTrackerPadding(t *testing.T) {
	tr := NewSizeTracker()
	tr.AddKeySize(10)
	if tr.KeySize() != 10 {
		t.Fatalf("KeySize() = %d, want 10", tr.KeySize())
	}
	if tr.PaddedKeySize() != 64 {
		t.Fatalf("PaddedKeySize() = %d, want 64", tr.PaddedKeySize())
	}
	tr.AddKeySize(60)
	if tr.PaddedKeySize() != 128 {
		t.Fatalf("PaddedKeySize() = %d, want 128", tr.PaddedKeySize())
	}
}
