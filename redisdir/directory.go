// Package redisdir stores named, randomly addressable files in a hash store.
// File metadata lives in one hash keyed by file name, file content in another
// hash as fixed size blocks keyed by "id:blockIndex".
package redisdir

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/jacobsa/timeutil"
	"github.com/jinzhu/copier"
	"github.com/rarydzu/redisdir/config"
	"github.com/rarydzu/redisdir/hash"
	"github.com/rarydzu/redisdir/kvstore"
	"github.com/rarydzu/redisdir/metrics"
	"github.com/ztrue/tracerr"
	"go.uber.org/zap"
)

const (
	// BlockSize size of one stored block
	BlockSize = 64 * 1024
	// deleteBatchSize max block fields per HDel call
	deleteBatchSize = 1024
)

type Directory struct {
	cfg         *config.Config
	log         *zap.SugaredLogger
	clock       timeutil.Clock
	lockFactory LockFactory
	flushLocks  *hash.Hash

	mu       sync.RWMutex
	store    kvstore.HashStore
	ownStore bool
}

type Option func(*Directory)

// WithStore uses an externally owned store, Close leaves it open
func WithStore(store kvstore.HashStore) Option {
	return func(d *Directory) {
		d.store = store
		d.ownStore = false
	}
}

// WithLockFactory sets factory used by MakeLock and ObtainLock
func WithLockFactory(f LockFactory) Option {
	return func(d *Directory) {
		d.lockFactory = f
	}
}

// WithClock sets clock used for timings
func WithClock(c timeutil.Clock) Option {
	return func(d *Directory) {
		d.clock = c
	}
}

// New creates a directory. Unless WithStore is given the directory opens
// the store described by cfg and owns it.
func New(cfg *config.Config, log *zap.SugaredLogger, opts ...Option) (*Directory, error) {
	d := &Directory{
		cfg:         &config.Config{},
		log:         log,
		clock:       timeutil.RealClock(),
		lockFactory: CounterLockFactory{},
	}
	if err := copier.Copy(d.cfg, cfg); err != nil {
		return nil, err
	}
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	d.flushLocks = hash.New(uint64(d.cfg.PoolSize) * 4)
	for _, opt := range opts {
		opt(d)
	}
	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Init opens own store when none is set
func (d *Directory) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		return nil
	}
	store, err := kvstore.Open(d.cfg, d.log)
	if err != nil {
		return tracerr.Wrap(err)
	}
	d.store = store
	d.ownStore = true
	return nil
}

// SetStore replaces the store with an externally owned one. It fails when
// a different store is already in place.
func (d *Directory) SetStore(store kvstore.HashStore) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil || d.store == store {
		d.store = store
		d.ownStore = false
		return nil
	}
	return tracerr.Errorf("%w: store has been initialized", ErrIllegalState)
}

// Store returns current store
func (d *Directory) Store() kvstore.HashStore {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store
}

// Config returns a copy of directory configuration
func (d *Directory) Config() config.Config {
	return *d.cfg
}

// MetadataHash name of the hash holding file metadata and locks
func (d *Directory) MetadataHash() string {
	return d.cfg.MetadataHash
}

// DataHash name of the hash holding blocks
func (d *Directory) DataHash() string {
	return d.cfg.DataHash
}

// Destroy closes the store if the directory opened it
func (d *Directory) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ownStore || d.store == nil {
		return nil
	}
	err := d.store.Close()
	d.store = nil
	d.ownStore = false
	return err
}

// Close is Destroy
func (d *Directory) Close() error {
	return d.Destroy()
}

func (d *Directory) getStore() (kvstore.HashStore, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.store == nil {
		return nil, tracerr.Errorf("%w: directory closed", ErrIllegalState)
	}
	return d.store, nil
}

func blockKey(fi *FileInfo, blockNum int64) string {
	return fi.ID + ":" + strconv.FormatInt(blockNum, 10)
}

// readBlock returns block blockNum padded to BlockSize, nil if it is absent
func (d *Directory) readBlock(ctx context.Context, fi *FileInfo, blockNum int64) ([]byte, error) {
	store, err := d.getStore()
	if err != nil {
		return nil, err
	}
	data, err := store.HGet(ctx, d.cfg.DataHash, blockKey(fi, blockNum))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			metrics.BlockOps.WithLabelValues("miss").Inc()
			return nil, nil
		}
		return nil, err
	}
	metrics.BlockOps.WithLabelValues("read").Inc()
	metrics.BlockBytes.WithLabelValues("read").Add(float64(len(data)))
	if len(data) >= BlockSize {
		return data, nil
	}
	block := make([]byte, BlockSize)
	copy(block, data)
	return block, nil
}

func (d *Directory) writeBlock(ctx context.Context, fi *FileInfo, blockNum int64, data []byte) error {
	store, err := d.getStore()
	if err != nil {
		return err
	}
	if err := store.HSet(ctx, d.cfg.DataHash, blockKey(fi, blockNum), data); err != nil {
		return err
	}
	metrics.BlockOps.WithLabelValues("write").Inc()
	metrics.BlockBytes.WithLabelValues("write").Add(float64(len(data)))
	return nil
}

// fileInfo returns metadata of name, nil when absent or undecodable
func (d *Directory) fileInfo(ctx context.Context, name string) (*FileInfo, error) {
	store, err := d.getStore()
	if err != nil {
		return nil, err
	}
	data, err := store.HGet(ctx, d.cfg.MetadataHash, name)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	fi, err := DecodeFileInfo(data)
	if err != nil {
		d.log.Debugf("fileInfo(%s): %v", name, err)
		return nil, nil
	}
	return fi, nil
}

func (d *Directory) updateFileInfo(ctx context.Context, fi *FileInfo) error {
	d.log.Debugf("updateFile(%s/%s/%d)", fi.Name, fi.ID, fi.Size)
	store, err := d.getStore()
	if err != nil {
		return err
	}
	return store.HSet(ctx, d.cfg.MetadataHash, fi.Name, fi.Marshal())
}

// CreateOutput returns a Writer for name, creating metadata when the file
// is unknown. An existing file is reused as is, its size is not reset.
func (d *Directory) CreateOutput(ctx context.Context, name string) (*Writer, error) {
	metrics.FileOps.WithLabelValues("create").Inc()
	fi, err := d.fileInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if fi == nil {
		fi = NewFileInfo(name)
		d.log.Debugf("createOutput(%s) new file %s", name, fi.ID)
		if err := d.updateFileInfo(ctx, fi); err != nil {
			return nil, err
		}
	}
	return newWriter(ctx, d, fi), nil
}

// OpenInput returns a Reader over the whole file
func (d *Directory) OpenInput(ctx context.Context, name string) (*Reader, error) {
	metrics.FileOps.WithLabelValues("open").Inc()
	fi, err := d.fileInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if fi == nil {
		return nil, tracerr.Errorf("%w: file [%s]", ErrNotFound, name)
	}
	return newReader(ctx, d, fi), nil
}

// DeleteFile removes metadata and then every block of name. Missing files
// are ignored. A failure between the steps leaves orphaned blocks.
func (d *Directory) DeleteFile(ctx context.Context, name string) error {
	metrics.FileOps.WithLabelValues("delete").Inc()
	fi, err := d.fileInfo(ctx, name)
	if err != nil {
		return err
	}
	if fi == nil {
		d.log.Debugf("deleteFile(%s) is called, but file is not found", name)
		return nil
	}
	d.log.Debugf("deleteFile(%s/%s)", name, fi.ID)
	store, err := d.getStore()
	if err != nil {
		return err
	}
	if err := store.HDel(ctx, d.cfg.MetadataHash, fi.Name); err != nil {
		return err
	}
	blocks := fi.Blocks()
	fields := make([]string, 0, deleteBatchSize)
	for i := int64(0); i < blocks; i++ {
		fields = append(fields, blockKey(fi, i))
		if len(fields) == deleteBatchSize || i == blocks-1 {
			if err := store.HDel(ctx, d.cfg.DataHash, fields...); err != nil {
				return err
			}
			metrics.BlockOps.WithLabelValues("delete").Add(float64(len(fields)))
			fields = fields[:0]
		}
	}
	return nil
}

// FileLength returns size of name
func (d *Directory) FileLength(ctx context.Context, name string) (int64, error) {
	metrics.FileOps.WithLabelValues("length").Inc()
	fi, err := d.fileInfo(ctx, name)
	if err != nil {
		return 0, err
	}
	if fi == nil {
		return 0, tracerr.Errorf("%w: file [%s]", ErrNotFound, name)
	}
	return fi.Size, nil
}

// ListAll returns names of all files. Values that do not decode, like lock
// counters, are skipped.
func (d *Directory) ListAll(ctx context.Context) ([]string, error) {
	metrics.FileOps.WithLabelValues("list").Inc()
	store, err := d.getStore()
	if err != nil {
		return nil, err
	}
	all, err := store.HGetAll(ctx, d.cfg.MetadataHash)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for _, data := range all {
		fi, err := DecodeFileInfo(data)
		if err != nil {
			continue
		}
		names = append(names, fi.Name)
	}
	sort.Strings(names)
	return names, nil
}

// RenameFile writes metadata of oldName under newName and removes oldName.
// Metadata and blocks previously stored under newName are orphaned.
func (d *Directory) RenameFile(ctx context.Context, oldName, newName string) error {
	metrics.FileOps.WithLabelValues("rename").Inc()
	d.log.Debugf("rename(%s,%s)", oldName, newName)
	fi, err := d.fileInfo(ctx, oldName)
	if err != nil {
		return err
	}
	if fi == nil {
		return tracerr.Errorf("%w: file [%s]", ErrNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	renamed := *fi
	renamed.Name = newName
	if err := d.updateFileInfo(ctx, &renamed); err != nil {
		return err
	}
	store, err := d.getStore()
	if err != nil {
		return err
	}
	return store.HDel(ctx, d.cfg.MetadataHash, oldName)
}

// Sync is a no-op, every flush is already persisted
func (d *Directory) Sync(_ context.Context, names []string) error {
	d.log.Debugf("sync(%v)", names)
	return nil
}

// CreateLock returns counter lock bound to name. Locks share the metadata
// hash with files, so a lock and a file cannot have the same name.
func (d *Directory) CreateLock(name string) *Lock {
	return &Lock{
		dir:  d,
		name: name,
	}
}

// MakeLock returns a lock made by the directory lock factory
func (d *Directory) MakeLock(name string) Locker {
	return d.lockFactory.MakeLock(d, name)
}

// ObtainLock makes and obtains a lock, failing with ErrLockObtainFailed when
// it is held
func (d *Directory) ObtainLock(ctx context.Context, name string) (Locker, error) {
	lock := d.MakeLock(name)
	ok, err := lock.Obtain(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tracerr.Errorf("%w: %s", ErrLockObtainFailed, name)
	}
	return lock, nil
}
