package blockfile

import (
	"encoding/json"

	"github.com/vekterdb/corekv/blockcodec"
	"github.com/vekterdb/corekv/errs"
)

// rootVersion is the root object's version tag; readers refuse
// unrecognized versions rather than guess at a layout.
const rootVersion = 1

// RootEntry is one published split-key -> block mapping.
type RootEntry struct {
	SplitKey blockcodec.CompositeKey `json:"split_key"`
	BlockID  string                  `json:"block_id"`
	Count    int                     `json:"count"`
}

// Root is the published, immutable handle to one blockfile version. It
// names the blockfile id, the key/value types fixed
// for every block in the file, the prefix path blocks live under, the
// max-block-size hint writers should respect, and the ordered sparse-index
// entries.
type Root struct {
	Version      int                  `json:"version"`
	BlockfileID  string               `json:"blockfile_id"`
	KeyType      blockcodec.KeyType   `json:"key_type"`
	ValueType    blockcodec.ValueType `json:"value_type"`
	Dimension    int                  `json:"dimension,omitempty"`
	MaxBlockSize int64                `json:"max_block_size"`
	PrefixPath   string               `json:"prefix_path"`
	FirstBlockID string               `json:"first_block_id"`
	FirstCount   int                  `json:"first_count"`
	Entries      []RootEntry          `json:"entries"`
}

// NewRoot snapshots idx into a Root describing blockfileID.
func NewRoot(idx *SparseIndex, blockfileID string, keyType blockcodec.KeyType, valueType blockcodec.ValueType, dimension int, maxBlockSize int64, prefixPath string) *Root {
	firstID, firstCount := idx.First()
	return &Root{
		Version:      rootVersion,
		BlockfileID:  blockfileID,
		KeyType:      keyType,
		ValueType:    valueType,
		Dimension:    dimension,
		MaxBlockSize: maxBlockSize,
		PrefixPath:   prefixPath,
		FirstBlockID: firstID,
		FirstCount:   firstCount,
		Entries:      idx.Entries(),
	}
}

// ToSparseIndex rebuilds a live, mutable SparseIndex from a persisted Root.
func (r *Root) ToSparseIndex() *SparseIndex {
	idx := NewSparseIndex(r.FirstBlockID, r.FirstCount)
	for _, e := range r.Entries {
		idx.Insert(e.SplitKey, e.BlockID, e.Count)
	}
	return idx
}

// Bytes encodes the root as the bytes an objectstore.Store PUT would write.
func (r *Root) Bytes() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "blockfile.Root.Bytes", r.BlockfileID, err)
	}
	return data, nil
}

// DecodeRoot parses root bytes, refusing an unrecognized version as
// Corruption — the same convention blockcodec uses: never guess at an
// unfamiliar layout.
func DecodeRoot(data []byte) (*Root, error) {
	var r Root
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errs.New(errs.KindCorruption, "blockfile.DecodeRoot", "", err)
	}
	if r.Version != rootVersion {
		return nil, errs.New(errs.KindCorruption, "blockfile.DecodeRoot", "", unsupportedVersionErr(r.Version))
	}
	return &r, nil
}

type unsupportedVersionErr int

func (e unsupportedVersionErr) Error() string {
	return "blockfile: unsupported root version"
}
