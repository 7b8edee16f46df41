// Package client is the node's block database: it owns the chain directory,
// stores blocks in pebble and implements the chain maintenance operations
// (import, export, revert, purge) the chain commands and the sync protocol use.
//
// One process at a time may open a chain directory; a lock file enforces it.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/logging"
)

const (
	dbDirName    = "db"
	lockFileName = "LOCK.hoster"
)

var (
	// ErrBlockNotFound is returned for unknown block numbers or hashes.
	ErrBlockNotFound = errors.New("block not found")

	// ErrKnownBlock is returned when importing a block already in the chain.
	ErrKnownBlock = errors.New("block already known")
)

// Info summarizes chain state.
type Info struct {
	GenesisHash Hash
	BestNumber  uint64
	BestHash    Hash
}

// Client is an open chain database.
type Client struct {
	spec *chainspec.Spec
	dir  string
	lock *flock.Flock
	db   *store

	mu      sync.RWMutex
	genesis *Block
	best    *Block

	done      chan struct{}
	doneOnce  sync.Once
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
	closeErr  error

	imported chan *Block
}

// DatabasePath returns where the block database for a chain directory lives.
func DatabasePath(chainDir string) string {
	return filepath.Join(chainDir, dbDirName)
}

// GenesisBlock builds block zero for spec.
func GenesisBlock(spec *chainspec.Spec) *Block {
	return &Block{
		Number:    0,
		Timestamp: spec.Genesis.Timestamp,
		Payload:   []byte(spec.Genesis.ExtraData),
		Hash:      Hash(spec.GenesisHash()),
	}
}

// Open opens or initializes the chain database under chainDir.
func Open(spec *chainspec.Spec, chainDir string) (*Client, error) {
	if err := os.MkdirAll(chainDir, 0o755); err != nil {
		return nil, fault.Config("create chain directory: %w", err)
	}

	lock := flock.New(filepath.Join(chainDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock chain directory: %w", err)
	}
	if !locked {
		return nil, fault.Config("chain directory %s is in use by another process", chainDir)
	}

	c := &Client{
		spec:     spec,
		dir:      chainDir,
		lock:     lock,
		done:     make(chan struct{}),
		imported: make(chan *Block, 64),
	}

	db, err := openStore(DatabasePath(chainDir), c.fail)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open block database: %w", err)
	}
	c.db = db

	if err := c.loadChain(); err != nil {
		db.close()
		lock.Unlock()
		return nil, err
	}

	logging.Info("Opened %s database at %s (best #%d %s)",
		spec.Name, chainDir, c.best.Number, logging.FormatHash(c.best.Hash.String()))
	return c, nil
}

// loadChain writes genesis on a fresh database or checks it on an existing one.
func (c *Client) loadChain() error {
	want := GenesisBlock(c.spec)

	stored, bestNumber, ok, err := c.db.meta()
	if err != nil {
		return fmt.Errorf("read chain metadata: %w", err)
	}

	if !ok {
		if err := c.db.putBlock(want); err != nil {
			return fmt.Errorf("write genesis: %w", err)
		}
		c.genesis, c.best = want, want
		logging.Info("Initialized genesis %s", logging.FormatHash(want.Hash.String()))
		return nil
	}

	if stored != want.Hash {
		return fault.Config("database genesis %s does not match chain %s genesis %s",
			stored, c.spec.ID, want.Hash)
	}

	genesis, err := c.db.block(stored)
	if err != nil || genesis == nil {
		return fmt.Errorf("read genesis block: %v", err)
	}
	hash, found, err := c.db.hashAt(bestNumber)
	if err != nil || !found {
		return fmt.Errorf("read best block #%d: %v", bestNumber, err)
	}
	best, err := c.db.block(hash)
	if err != nil || best == nil {
		return fmt.Errorf("read best block %s: %v", hash, err)
	}

	c.genesis, c.best = genesis, best
	return nil
}

// Spec returns the chain spec the database was opened with.
func (c *Client) Spec() *chainspec.Spec {
	return c.spec
}

// Info returns the genesis and best block.
func (c *Client) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{GenesisHash: c.genesis.Hash, BestNumber: c.best.Number, BestHash: c.best.Hash}
}

// Best returns the best block.
func (c *Client) Best() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best
}

// BlockByNumber returns the canonical block at number.
func (c *Client) BlockByNumber(number uint64) (*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hash, ok, err := c.db.hashAt(number)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotFound
	}
	return c.blockLocked(hash)
}

// BlockByHash returns the block with the given hash.
func (c *Client) BlockByHash(hash Hash) (*Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockLocked(hash)
}

func (c *Client) blockLocked(hash Hash) (*Block, error) {
	b, err := c.db.block(hash)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBlockNotFound
	}
	return b, nil
}

// ImportBlock appends b to the best chain. The block must extend the best
// block and carry its own hash.
func (c *Client) ImportBlock(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.Number <= c.best.Number {
		if hash, ok, _ := c.db.hashAt(b.Number); ok && hash == b.Hash {
			return ErrKnownBlock
		}
		return fmt.Errorf("block #%d does not extend best #%d", b.Number, c.best.Number)
	}
	if b.Number != c.best.Number+1 {
		return fmt.Errorf("block #%d is ahead of best #%d", b.Number, c.best.Number)
	}
	if b.ParentHash != c.best.Hash {
		return fmt.Errorf("block #%d parent %s is not best %s", b.Number, b.ParentHash, c.best.Hash)
	}
	if computed := b.ComputeHash(); computed != b.Hash {
		return fmt.Errorf("block #%d hash mismatch: claims %s, computes %s", b.Number, b.Hash, computed)
	}

	if err := c.db.putBlock(b); err != nil {
		return fmt.Errorf("store block #%d: %w", b.Number, err)
	}
	c.best = b

	select {
	case c.imported <- b:
	default:
	}
	return nil
}

// Imported delivers newly imported blocks. Slow readers miss blocks.
func (c *Client) Imported() <-chan *Block {
	return c.imported
}

// Revert removes up to n blocks from the tip. Genesis is never reverted.
// Returns how many blocks were removed.
func (c *Client) Revert(n uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.best.Number {
		n = c.best.Number
	}
	if n == 0 {
		return 0, nil
	}

	removed := make([]*Block, 0, n)
	cursor := c.best
	for i := uint64(0); i < n; i++ {
		removed = append(removed, cursor)
		parent, err := c.blockLocked(cursor.ParentHash)
		if err != nil {
			return 0, fmt.Errorf("walk back from #%d: %w", cursor.Number, err)
		}
		cursor = parent
	}

	if err := c.db.truncate(removed, cursor.Number); err != nil {
		return 0, fmt.Errorf("revert: %w", err)
	}
	c.best = cursor
	return n, nil
}

// Author builds an empty block on top of best every interval until ctx is
// done. Used by development chains that have no block production.
func (c *Client) Author(ctx context.Context, interval time.Duration, author string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.Err()
		case now := <-ticker.C:
			b := NewBlock(c.Best(), uint64(now.Unix()), author, nil)
			if err := c.ImportBlock(b); err != nil {
				return err
			}
			logging.Info("Authored #%d %s", b.Number, logging.FormatHash(b.Hash.String()))
		}
	}
}

// fail records a fatal database error and marks the client done.
func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// Done is closed when the client stops, either on Shutdown or after a fatal
// database error.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error that stopped the client, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Shutdown closes the database and releases the directory lock.
func (c *Client) Shutdown() error {
	c.closeOnce.Do(func() {
		c.doneOnce.Do(func() { close(c.done) })
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := c.db.close(); err != nil {
			c.closeErr = fmt.Errorf("close block database: %w", err)
		}
		if err := c.lock.Unlock(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("release chain lock: %w", err)
		}
	})
	return c.closeErr
}

// Purge removes the block database under chainDir. It reports false when
// there was nothing to remove.
func Purge(chainDir string) (bool, error) {
	path := DatabasePath(chainDir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	lock := flock.New(filepath.Join(chainDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock chain directory: %w", err)
	}
	if !locked {
		return false, fault.Config("chain directory %s is in use by another process", chainDir)
	}
	defer lock.Unlock()

	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}
