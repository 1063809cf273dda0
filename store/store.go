// Package store implements the concurrent product cache every peer and the
// multicast receiver feed chunks and product metadata into.
package store

import (
	"container/list"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/boljen/go-bitmap"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/s-emmerson/hycast/codec"
	"github.com/s-emmerson/hycast/delayq"
	"github.com/s-emmerson/hycast/types"
)

// CompletionFunc is invoked exactly once per product, on a goroutine of its
// own started by whichever call completed it, with the product's metadata
// and full byte buffer.
type CompletionFunc func(types.ProdInfo, []byte)

// Config configures a Store.
type Config struct {
	// Residence is how long a complete product lingers before eviction.
	// Incomplete products linger twice as long, giving slow peers more
	// time to finish backfilling them.
	Residence time.Duration
	// MaxEarlyChunkBytes caps, per product, how many bytes of
	// chunks-before-ProdInfo are buffered before they're dropped.
	MaxEarlyChunkBytes int
	// PersistencePath, if non-empty, is where Close writes a snapshot and
	// NewStore reads one back on startup.
	PersistencePath string
	// OnComplete, if non-nil, is called once per product as it completes.
	OnComplete CompletionFunc
}

const defaultMaxEarlyChunkBytes = 4 << 20

type entry struct {
	info        *types.ProdInfo
	present     bitmap.Bitmap
	buffer      []byte
	complete    bool
	insertTime  time.Time
	earlyChunks map[types.ChunkIndex][]byte
	earlyBytes  int
	listElem    *list.Element
}

// Store is the concurrent, residency-bounded product cache described by
// the peer protocol and multicast receiver.
type Store struct {
	cfg Config

	mu      sync.Mutex
	entries map[types.ProdIndex]*entry
	order   *list.List // insertion-ordered, front is oldest

	reaper *delayq.DelayQueue[types.ProdIndex]
}

// NewStore returns an empty Store, or one replayed from cfg.PersistencePath
// if that file exists.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxEarlyChunkBytes == 0 {
		cfg.MaxEarlyChunkBytes = defaultMaxEarlyChunkBytes
	}
	s := &Store{
		cfg:     cfg,
		entries: make(map[types.ProdIndex]*entry),
		order:   list.New(),
		reaper:  delayq.New[types.ProdIndex](),
	}
	if cfg.PersistencePath != "" {
		if err := s.load(cfg.PersistencePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

// Run drives the background reaper until ctx is canceled.
func (s *Store) Run(ctx context.Context) error {
	for {
		idx, err := s.reaper.Pop(ctx)
		if err != nil {
			return err
		}
		s.reap(idx)
	}
}

func (s *Store) reap(idx types.ProdIndex) {
	s.mu.Lock()
	e, ok := s.entries[idx]
	if !ok {
		s.mu.Unlock()
		return
	}
	limit := s.cfg.Residence
	if !e.complete {
		limit *= 2
	}
	if time.Since(e.insertTime) < limit {
		// Not yet due (an incomplete entry lingers twice as long); reschedule.
		remaining := limit - time.Since(e.insertTime)
		s.mu.Unlock()
		s.reaper.Push(idx, remaining)
		return
	}
	s.removeLocked(idx)
	s.mu.Unlock()
}

func (s *Store) removeLocked(idx types.ProdIndex) {
	e, ok := s.entries[idx]
	if !ok {
		return
	}
	s.order.Remove(e.listElem)
	delete(s.entries, idx)
}

// AddProdInfo registers a product's metadata, allocating its buffer and
// present-chunk bitmap and absorbing any chunks that arrived first.
func (s *Store) AddProdInfo(info types.ProdInfo) types.AddStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[info.Index]
	if exists && e.info != nil {
		return types.NewAddStatus().WithDuplicate()
	}

	status := types.NewAddStatus().WithNew()
	if !exists {
		e = &entry{insertTime: time.Now(), earlyChunks: make(map[types.ChunkIndex][]byte)}
		e.listElem = s.order.PushBack(info.Index)
		s.entries[info.Index] = e
		s.reaper.Push(info.Index, s.cfg.Residence)
	}
	infoCopy := info
	e.info = &infoCopy
	e.present = bitmap.NewSlice(int(info.ChunkCount()))
	e.buffer = make([]byte, info.Size)

	for idx, data := range e.earlyChunks {
		s.storeChunkBytesLocked(e, idx, data)
	}
	e.earlyChunks = nil
	e.earlyBytes = 0

	if e.complete, _ = s.isCompleteLocked(e); e.complete {
		status = status.WithComplete()
		s.fireCompletion(e)
	}
	return status
}

// Add installs a complete product in one step, idempotently. If the
// product is unknown, or known but still incomplete, it installs prod.Data
// as the entry's buffer, marks every chunk present, and fires the
// completion callback. If the entry is already complete, Add reports a
// duplicate and leaves it untouched.
func (s *Store) Add(prod types.Product) types.AddStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[prod.Info.Index]
	if exists && e.complete {
		return types.NewAddStatus().WithDuplicate()
	}

	status := types.NewAddStatus()
	if !exists {
		e = &entry{insertTime: time.Now(), earlyChunks: make(map[types.ChunkIndex][]byte)}
		e.listElem = s.order.PushBack(prod.Info.Index)
		s.entries[prod.Info.Index] = e
		s.reaper.Push(prod.Info.Index, s.cfg.Residence)
		status = status.WithNew()
	}

	infoCopy := prod.Info
	e.info = &infoCopy
	e.present = bitmap.NewSlice(int(prod.Info.ChunkCount()))
	e.buffer = append([]byte{}, prod.Data...)
	for i := 0; i < int(prod.Info.ChunkCount()); i++ {
		bitmap.Set(e.present, i, true)
	}
	e.earlyChunks = nil
	e.earlyBytes = 0

	e.complete = true
	status = status.WithComplete()
	s.fireCompletion(e)
	return status
}

// AddChunk absorbs a chunk's payload, draining it from the LatentChunk
// handle. The handle is always left empty on return.
func (s *Store) AddChunk(lc types.LatentChunk) (types.AddStatus, error) {
	s.mu.Lock()
	e, exists := s.entries[lc.Info.ProdIndex]
	if !exists {
		e = &entry{insertTime: time.Now(), earlyChunks: make(map[types.ChunkIndex][]byte)}
		e.listElem = s.order.PushBack(lc.Info.ProdIndex)
		s.entries[lc.Info.ProdIndex] = e
		s.reaper.Push(lc.Info.ProdIndex, s.cfg.Residence)
	}

	if e.info == nil {
		if e.earlyBytes+lc.PayloadLen() > s.cfg.MaxEarlyChunkBytes {
			s.mu.Unlock()
			if err := lc.Discard(); err != nil {
				return types.AddStatus{}, err
			}
			log.Warn().Stringer("product", lc.Info.ProdIndex).Msg("dropping early chunk, cap exceeded")
			return types.NewAddStatus(), nil
		}
		buf := make([]byte, lc.PayloadLen())
		n, err := lc.DrainData(buf)
		if err != nil {
			s.mu.Unlock()
			return types.AddStatus{}, err
		}
		buf = buf[:n]
		_, already := e.earlyChunks[lc.Info.ChunkIndex]
		if !already {
			e.earlyChunks[lc.Info.ChunkIndex] = buf
			e.earlyBytes += len(buf)
		}
		s.mu.Unlock()
		if already {
			return types.NewAddStatus().WithDuplicate(), nil
		}
		return types.NewAddStatus().WithNew(), nil
	}

	if bitmap.Get(e.present, int(lc.Info.ChunkIndex)) {
		s.mu.Unlock()
		if err := lc.Discard(); err != nil {
			return types.AddStatus{}, err
		}
		return types.NewAddStatus().WithDuplicate(), nil
	}

	chunkLen, err := e.info.ChunkLen(lc.Info.ChunkIndex)
	if err != nil {
		s.mu.Unlock()
		if derr := lc.Discard(); derr != nil {
			return types.AddStatus{}, derr
		}
		return types.AddStatus{}, err
	}
	offset := e.info.ByteOffset(lc.Info.ChunkIndex)
	n, err := lc.DrainData(e.buffer[offset : offset+uint64(chunkLen)])
	if err != nil {
		s.mu.Unlock()
		return types.AddStatus{}, err
	}
	_ = n

	bitmap.Set(e.present, int(lc.Info.ChunkIndex), true)
	status := types.NewAddStatus().WithNew()
	if complete, _ := s.isCompleteLocked(e); complete && !e.complete {
		e.complete = true
		status = status.WithComplete()
		s.fireCompletion(e)
	}
	s.mu.Unlock()
	return status, nil
}

func (s *Store) storeChunkBytesLocked(e *entry, idx types.ChunkIndex, data []byte) {
	if bitmap.Get(e.present, int(idx)) {
		return
	}
	chunkLen, err := e.info.ChunkLen(idx)
	if err != nil || int(chunkLen) != len(data) {
		return
	}
	offset := e.info.ByteOffset(idx)
	copy(e.buffer[offset:offset+uint64(chunkLen)], data)
	bitmap.Set(e.present, int(idx), true)
}

func (s *Store) isCompleteLocked(e *entry) (bool, error) {
	if e.info == nil {
		return false, nil
	}
	count := int(e.info.ChunkCount())
	for i := 0; i < count; i++ {
		if !bitmap.Get(e.present, i) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) fireCompletion(e *entry) {
	if s.cfg.OnComplete == nil {
		return
	}
	info := *e.info
	buf := e.buffer
	go s.cfg.OnComplete(info, buf)
}

// GetProdInfo returns the product's metadata, if known.
func (s *Store) GetProdInfo(idx types.ProdIndex) (types.ProdInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[idx]
	if !ok || e.info == nil {
		return types.ProdInfo{}, false
	}
	return *e.info, true
}

// HaveChunk reports whether a chunk is fully present.
func (s *Store) HaveChunk(ci types.ChunkInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ci.ProdIndex]
	if !ok || e.info == nil {
		return false
	}
	return bitmap.Get(e.present, int(ci.ChunkIndex))
}

// GetChunk returns a chunk's bytes, if present.
func (s *Store) GetChunk(ci types.ChunkInfo) (types.ActualChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ci.ProdIndex]
	if !ok || e.info == nil || !bitmap.Get(e.present, int(ci.ChunkIndex)) {
		return types.ActualChunk{}, false
	}
	chunkLen, err := e.info.ChunkLen(ci.ChunkIndex)
	if err != nil {
		return types.ActualChunk{}, false
	}
	offset := e.info.ByteOffset(ci.ChunkIndex)
	data := make([]byte, chunkLen)
	copy(data, e.buffer[offset:offset+uint64(chunkLen)])
	return types.ActualChunk{Info: ci, Data: data}, true
}

// GetOldestMissingChunk returns the earliest-indexed chunk not yet fully
// present, ordered lexicographically by (ProdIndex, ChunkIndex), or the
// zero ChunkInfo if none is missing. This is plain numeric index order, not
// insertion order and not ProdIndex's wraparound-aware Less.
func (s *Store) GetOldestMissingChunk() types.ChunkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	indices := s.sortedIndicesLocked()
	for _, idx := range indices {
		e := s.entries[idx]
		if e.info == nil {
			continue
		}
		count := int(e.info.ChunkCount())
		for i := 0; i < count; i++ {
			if !bitmap.Get(e.present, i) {
				return types.ChunkInfo{ProdIndex: idx, ProdSize: e.info.Size, ChunkIndex: types.ChunkIndex(i)}
			}
		}
	}
	return types.ChunkInfo{}
}

func (s *Store) sortedIndicesLocked() []types.ProdIndex {
	indices := make([]types.ProdIndex, 0, len(s.entries))
	for idx := range s.entries {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return uint32(indices[i]) < uint32(indices[j]) })
	return indices
}

// Iterator is a lazy forward iterator over a Store's present chunks, taken
// as a snapshot at the moment ChunkInfoIterator was called. It does not
// observe chunks added after that moment.
type Iterator struct {
	chunks []types.ChunkInfo
	pos    int
}

// ChunkInfoIterator returns an Iterator over every chunk currently present
// in the store, ordered lexicographically by (ProdIndex, ChunkIndex) and
// starting at the first chunk at or after startWith.
func (s *Store) ChunkInfoIterator(startWith types.ChunkInfo) *Iterator {
	s.mu.Lock()
	defer s.mu.Unlock()

	indices := s.sortedIndicesLocked()
	var chunks []types.ChunkInfo
	for _, idx := range indices {
		e := s.entries[idx]
		if e.info == nil {
			continue
		}
		count := int(e.info.ChunkCount())
		for i := 0; i < count; i++ {
			if bitmap.Get(e.present, i) {
				chunks = append(chunks, types.ChunkInfo{ProdIndex: idx, ProdSize: e.info.Size, ChunkIndex: types.ChunkIndex(i)})
			}
		}
	}

	start := 0
	for start < len(chunks) && chunkInfoLess(chunks[start], startWith) {
		start++
	}
	return &Iterator{chunks: chunks[start:]}
}

func chunkInfoLess(a, b types.ChunkInfo) bool {
	if a.ProdIndex != b.ProdIndex {
		return uint32(a.ProdIndex) < uint32(b.ProdIndex)
	}
	return uint32(a.ChunkIndex) < uint32(b.ChunkIndex)
}

// Next returns the iterator's next chunk, or the zero ChunkInfo and false
// once the snapshot is exhausted.
func (it *Iterator) Next() (types.ChunkInfo, bool) {
	if it.pos >= len(it.chunks) {
		return types.ChunkInfo{}, false
	}
	ci := it.chunks[it.pos]
	it.pos++
	return ci, true
}

// Size returns the number of products currently tracked.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close flushes a persistence snapshot, if configured. It does not stop the
// reaper or reject later additions.
func (s *Store) Close(ctx context.Context) error {
	if s.cfg.PersistencePath == "" {
		return nil
	}
	if err := s.save(s.cfg.PersistencePath); err != nil {
		log.Error().Err(err).Msg("failed to persist product store")
		return err
	}
	return nil
}

func (s *Store) save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("failed to create persistence snapshot %s: %w", tmp, err)
	}
	defer f.Close()

	enc := codec.NewEncoder()
	for el := s.order.Front(); el != nil; el = el.Next() {
		idx := el.Value.(types.ProdIndex)
		e := s.entries[idx]
		if e.info == nil {
			continue
		}
		enc.Reset()
		if err := enc.PutProdInfo(1, *e.info); err != nil {
			return xerrors.Errorf("failed to encode product info for %s: %w", idx, err)
		}
		enc.PutUint32(1, uint32(len(e.present)))
		enc.PutBytes(e.present)
		enc.PutBytes(e.buffer)
		if _, err := f.Write(enc.Bytes()); err != nil {
			return xerrors.Errorf("failed to write persistence snapshot %s: %w", tmp, err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return xerrors.Errorf("failed to install persistence snapshot %s: %w", path, err)
	}
	return nil
}

func (s *Store) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err // checked against os.ErrNotExist by the caller; left unwrapped
	}
	defer f.Close()

	dec := codec.NewStreamDecoder(f)
	for {
		info, err := dec.DecodeProdInfo(1)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if _, ok := err.(types.ShortMessage); ok {
				return nil
			}
			return xerrors.Errorf("failed to decode persisted product info from %s: %w", path, err)
		}
		bitmapLen, err := dec.DecodeUint32(1)
		if err != nil {
			return xerrors.Errorf("failed to decode persisted bitmap length from %s: %w", path, err)
		}
		present, err := dec.DecodeBytes(int(bitmapLen))
		if err != nil {
			return xerrors.Errorf("failed to decode persisted bitmap from %s: %w", path, err)
		}
		buffer, err := dec.DecodeBytes(int(info.Size))
		if err != nil {
			return xerrors.Errorf("failed to decode persisted product buffer from %s: %w", path, err)
		}
		dec.Clear()

		e := &entry{info: &info, present: append(bitmap.Bitmap{}, present...), buffer: append([]byte{}, buffer...), insertTime: time.Now()}
		e.complete, _ = s.isCompleteLocked(e)
		e.listElem = s.order.PushBack(info.Index)
		s.entries[info.Index] = e
		s.reaper.Push(info.Index, s.cfg.Residence)
	}
}
