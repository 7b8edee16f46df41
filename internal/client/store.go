package client

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/tristanlee/substrate/internal/logging"
)

const (
	// defaultSyncInterval is the interval between WAL syncs
	defaultSyncInterval = 100 * time.Millisecond
)

var (
	prefixCanonical = []byte("h") // h | number -> hash
	prefixBlock     = []byte("b") // b | hash -> block
	keyBest         = []byte("m:best")
	keyGenesis      = []byte("m:genesis")
)

// store is the pebble-backed block database. Writes use NoSync and a
// background loop syncs the WAL.
type store struct {
	db       *pebble.DB
	stopSync chan struct{}
	wg       sync.WaitGroup
}

func openStore(path string, onFatal func(error)) (*store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
		Logger:                      &logging.StoreLogger{Prefix: "blocks", OnFatal: onFatal},
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &store{
		db:       db,
		stopSync: make(chan struct{}),
	}
	s.startSyncLoop(onFatal)
	return s, nil
}

// get returns a copy of the value, or nil when the key is absent.
func (s *store) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func canonicalKey(number uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixCanonical...), number)
}

func blockKey(hash Hash) []byte {
	return append(append([]byte(nil), prefixBlock...), hash[:]...)
}

func encodeNumber(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

// putBlock makes b the canonical block at its height and the new best.
func (s *store) putBlock(b *Block) error {
	enc, err := b.MarshalBinary()
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(blockKey(b.Hash), enc, nil); err != nil {
		return err
	}
	if err := batch.Set(canonicalKey(b.Number), b.Hash[:], nil); err != nil {
		return err
	}
	if err := batch.Set(keyBest, encodeNumber(b.Number), nil); err != nil {
		return err
	}
	if b.Number == 0 {
		if err := batch.Set(keyGenesis, b.Hash[:], nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

// truncate drops canonical blocks above newBest in one batch.
func (s *store) truncate(blocks []*Block, newBest uint64) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, b := range blocks {
		if err := batch.Delete(canonicalKey(b.Number), nil); err != nil {
			return err
		}
		if err := batch.Delete(blockKey(b.Hash), nil); err != nil {
			return err
		}
	}
	if err := batch.Set(keyBest, encodeNumber(newBest), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *store) hashAt(number uint64) (Hash, bool, error) {
	raw, err := s.get(canonicalKey(number))
	if err != nil || raw == nil {
		return Hash{}, false, err
	}
	var h Hash
	copy(h[:], raw)
	return h, true, nil
}

func (s *store) block(hash Hash) (*Block, error) {
	raw, err := s.get(blockKey(hash))
	if err != nil || raw == nil {
		return nil, err
	}
	var b Block
	if err := b.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return &b, nil
}

// meta returns the stored genesis hash and best number; ok is false on a
// fresh database.
func (s *store) meta() (genesis Hash, best uint64, ok bool, err error) {
	rawGenesis, err := s.get(keyGenesis)
	if err != nil || rawGenesis == nil {
		return Hash{}, 0, false, err
	}
	rawBest, err := s.get(keyBest)
	if err != nil {
		return Hash{}, 0, false, err
	}
	if len(rawBest) != 8 {
		return Hash{}, 0, false, errors.New("corrupt best block marker")
	}
	copy(genesis[:], rawGenesis)
	return genesis, binary.BigEndian.Uint64(rawBest), true, nil
}

// startSyncLoop periodically syncs the WAL to disk.
func (s *store) startSyncLoop(onFatal func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.db.LogData(nil, pebble.Sync); err != nil && onFatal != nil {
					onFatal(err)
					return
				}
			case <-s.stopSync:
				return
			}
		}
	}()
}

// close stops the sync loop, syncs once more and closes the database.
func (s *store) close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.db.LogData(nil, pebble.Sync); err != nil {
		logging.Warn("Final WAL sync failed: %v", err)
	}
	return s.db.Close()
}
