package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/vekterdb/corekv/errs"
	"github.com/vekterdb/corekv/objectstore"
	"github.com/vekterdb/corekv/setsum"
)

// manifestPath is the single, conditionally-PUT JSON object naming the
// current state of a log prefix.
func manifestPath(prefix string) string { return prefix + "/manifest/MANIFEST" }

// FragmentMeta is one fragment's manifest-level bookkeeping.
type FragmentMeta struct {
	Path     string        `json:"path"`
	SeqNo    uint64        `json:"seq_no"`
	Start    uint64        `json:"start"`
	Limit    uint64        `json:"limit"`
	NumBytes uint64        `json:"num_bytes"`
	Setsum   setsum.Setsum `json:"setsum"`
}

// SnapshotPointer names a rolled-up snapshot object.
type SnapshotPointer struct {
	Path   string        `json:"path"`
	Depth  uint8         `json:"depth"`
	Setsum setsum.Setsum `json:"setsum"`
	Start  uint64        `json:"start"`
	Limit  uint64        `json:"limit"`
}

// Manifest is the in-memory representation of `<prefix>/manifest/MANIFEST`.
type Manifest struct {
	Writer             string            `json:"writer"`
	AccBytes           uint64            `json:"acc_bytes"`
	Setsum             setsum.Setsum     `json:"setsum"`
	OldestTimestamp    uint64            `json:"oldest_timestamp"`
	NextWriteTimestamp uint64            `json:"next_write_timestamp"`
	NextFragmentSeqNo  uint64            `json:"next_fragment_seq_no"`
	Snapshots          []SnapshotPointer `json:"snapshots"`
	Fragments          []FragmentMeta    `json:"fragments"`
}

// RolloverConfig bounds how many flat fragments/snapshot pointers a
// manifest carries before a rollup is triggered.
type RolloverConfig struct {
	FragmentRolloverThreshold int
	SnapshotRolloverThreshold int
}

var DefaultRolloverConfig = RolloverConfig{FragmentRolloverThreshold: 64, SnapshotRolloverThreshold: 16}

// Log is a handle for append/scan/GC operations against one log prefix.
type Log struct {
	store      objectstore.Store
	prefix     string
	writerName string
	rollover   RolloverConfig
	throttle   *Throttle
}

func NewLog(store objectstore.Store, prefix, writerName string, rollover RolloverConfig) *Log {
	return &Log{store: store, prefix: prefix, writerName: writerName, rollover: rollover}
}

// SetThrottle bounds how many fragment uploads this Log allows in flight at
// once; pass nil to remove the bound.
func (l *Log) SetThrottle(t *Throttle) { l.throttle = t }

func (l *Log) bytesOf(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.New(errs.KindCorruption, "wal.decodeManifest", "", err)
	}
	return &m, nil
}

// loadManifest returns the current manifest and its ETag, or
// (nil, "", nil) if the log has never been bootstrapped.
func (l *Log) loadManifest(ctx context.Context) (*Manifest, string, error) {
	obj, err := l.store.Get(ctx, manifestPath(l.prefix))
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return nil, "", nil
		}
		return nil, "", err
	}
	m, err := decodeManifest(obj.Body)
	if err != nil {
		return nil, "", err
	}
	return m, obj.ETag, nil
}

// Bootstrap publishes an empty manifest if-not-exists; if a concurrent
// bootstrapper wins, the loser simply reloads and proceeds as a normal
// appender.
func (l *Log) Bootstrap(ctx context.Context) (*Manifest, string, error) {
	m := &Manifest{Writer: l.writerName, Setsum: setsum.Empty()}
	data, err := l.bytesOf(m)
	if err != nil {
		return nil, "", err
	}
	res, err := l.store.Put(ctx, manifestPath(l.prefix), data, objectstore.Options{Mode: objectstore.IfNotExists})
	if err == nil {
		return m, res.ETag, nil
	}
	if errs.KindOf(err) != errs.KindAlreadyExists {
		return nil, "", err
	}
	loaded, etag, loadErr := l.loadManifest(ctx)
	if loadErr != nil {
		return nil, "", loadErr
	}
	if loaded == nil {
		return nil, "", errs.New(errs.KindInternal, "wal.Bootstrap", l.prefix,
			fmt.Errorf("manifest reported AlreadyExists but a reload found nothing"))
	}
	return loaded, etag, nil
}

const maxAppendAttempts = 6

// appendBaseBackoff is the delay before the first contention retry; each
// later retry doubles it, with jitter.
const appendBaseBackoff = 10 * time.Millisecond

// Append reserves offsets for len(records) new entries, uploads them as a
// fragment, and conditionally commits the updated manifest, retrying the
// CAS loop on contention up to maxAppendAttempts times with jittered
// exponential backoff between attempts.
func (l *Log) Append(ctx context.Context, records [][]byte, timestampUs uint64) error {
	m, etag, err := l.loadManifest(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		m, etag, err = l.Bootstrap(ctx)
		if err != nil {
			return err
		}
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		startPosition := m.NextWriteTimestamp
		seqNo := m.NextFragmentSeqNo
		bucket := seqNo >> 32

		if err := l.throttle.acquire(ctx); err != nil {
			return errs.New(errs.KindUnavailable, "wal.Append", l.prefix, err)
		}
		path, sum, byteSize, err := UploadFragment(ctx, l.store, l.prefix, bucket, seqNo, startPosition, records, timestampUs)
		l.throttle.release()
		if err != nil {
			return err
		}

		next := cloneManifest(m)
		next.Fragments = append(next.Fragments, FragmentMeta{
			Path: path, SeqNo: seqNo, Start: startPosition, Limit: startPosition + uint64(len(records)),
			NumBytes: uint64(byteSize), Setsum: sum,
		})
		next.NextWriteTimestamp = startPosition + uint64(len(records))
		next.NextFragmentSeqNo = seqNo + 1
		next.AccBytes += uint64(byteSize)
		next.Setsum = next.Setsum.Combine(sum)

		if len(next.Fragments) > l.rollover.FragmentRolloverThreshold || len(next.Snapshots) > l.rollover.SnapshotRolloverThreshold {
			if rollErr := l.rollupLocked(ctx, next); rollErr != nil {
				return rollErr
			}
		}

		data, err := l.bytesOf(next)
		if err != nil {
			return err
		}
		res, putErr := l.store.Put(ctx, manifestPath(l.prefix), data, objectstore.Options{Mode: objectstore.IfMatches, ETag: etag})
		if putErr == nil {
			_ = res
			return nil
		}
		if errs.KindOf(putErr) != errs.KindPrecondition {
			return putErr
		}

		// Precondition failure: reload and classify.
		reloaded, reloadedEtag, loadErr := l.loadManifest(ctx)
		if loadErr != nil {
			return loadErr
		}
		if reloaded == nil {
			return errs.New(errs.KindInternal, "wal.Append", l.prefix, fmt.Errorf("manifest vanished mid-append"))
		}
		if fragmentAlreadyPresent(reloaded, seqNo, sum) {
			// Our fragment made it into the winning manifest already.
			return nil
		}
		m, etag = reloaded, reloadedEtag
		if attempt+1 < maxAppendAttempts {
			backoff := appendBaseBackoff << uint(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff/2 + time.Duration(rand.Int63n(int64(backoff)))):
			}
		}
	}
	return errs.New(errs.KindContentionDurable, "wal.Append", l.prefix,
		fmt.Errorf("manifest CAS did not converge after %d attempts", maxAppendAttempts))
}

func fragmentAlreadyPresent(m *Manifest, seqNo uint64, sum setsum.Setsum) bool {
	for _, f := range m.Fragments {
		if f.SeqNo == seqNo && f.Setsum.Equal(sum) {
			return true
		}
	}
	return false
}

func cloneManifest(m *Manifest) *Manifest {
	out := *m
	out.Fragments = append([]FragmentMeta(nil), m.Fragments...)
	out.Snapshots = append([]SnapshotPointer(nil), m.Snapshots...)
	return &out
}

// rollupLocked takes the oldest flat fragments (half the fragment threshold
// when that threshold is exceeded, otherwise all of them) and replaces them
// with a single new snapshot pointer. Existing snapshot pointers are not
// rolled up further, so crossing only the snapshot threshold still rolls
// fragments. Mutates m in place.
func (l *Log) rollupLocked(ctx context.Context, m *Manifest) error {
	if len(m.Fragments) == 0 {
		return nil
	}
	k := len(m.Fragments)
	if k > l.rollover.FragmentRolloverThreshold {
		k = l.rollover.FragmentRolloverThreshold / 2
		if k == 0 {
			k = 1
		}
	}
	toRoll := m.Fragments[:k]
	rest := m.Fragments[k:]

	ptr, err := l.writeSnapshot(ctx, toRoll)
	if err != nil {
		return err
	}
	m.Snapshots = append(m.Snapshots, ptr)
	m.Fragments = rest
	return nil
}

func newSnapshotPath(prefix string) string {
	return prefix + "/snapshot/" + uuid.NewString() + ".json.xz"
}
