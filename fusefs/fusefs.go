// Package fusefs exposes a Directory as a flat read-only FUSE file system
package fusefs

import (
	"context"
	"errors"
	"io"
	"os"
	"os/user"
	"strconv"
	"sync"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/rarydzu/redisdir/redisdir"
	"go.uber.org/zap"
)

type fileHandle struct {
	mu     sync.Mutex
	reader *redisdir.Reader
}

type FS struct {
	fuseutil.NotImplementedFileSystem
	dir   *redisdir.Directory
	log   *zap.SugaredLogger
	Clock timeutil.Clock
	uid   uint32
	gid   uint32

	lockInode sync.RWMutex
	inodes    map[string]fuseops.InodeID
	names     map[fuseops.InodeID]string
	nextInode fuseops.InodeID

	lockHandle  sync.Mutex
	fileHandles map[fuseops.HandleID]*fileHandle
	nextHandle  fuseops.HandleID
}

// New creates file system over dir, files are owned by the current user
func New(dir *redisdir.Directory, log *zap.SugaredLogger) (*FS, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, err
	}
	return &FS{
		dir:         dir,
		log:         log,
		Clock:       timeutil.RealClock(),
		uid:         uint32(uid),
		gid:         uint32(gid),
		inodes:      make(map[string]fuseops.InodeID),
		names:       make(map[fuseops.InodeID]string),
		nextInode:   fuseops.RootInodeID + 1,
		fileHandles: make(map[fuseops.HandleID]*fileHandle),
	}, nil
}

// NewServer wraps fs into a fuse server
func NewServer(fs *FS) fuse.Server {
	return fuseutil.NewFileSystemServer(fs)
}

// inodeFor returns inode of name, assigning one on first sight
func (fs *FS) inodeFor(name string) fuseops.InodeID {
	fs.lockInode.Lock()
	defer fs.lockInode.Unlock()
	if id, ok := fs.inodes[name]; ok {
		return id
	}
	id := fs.nextInode
	fs.nextInode++
	fs.inodes[name] = id
	fs.names[id] = name
	return id
}

func (fs *FS) nameOf(inode fuseops.InodeID) (string, bool) {
	fs.lockInode.RLock()
	defer fs.lockInode.RUnlock()
	name, ok := fs.names[inode]
	return name, ok
}

func (fs *FS) rootAttrs() fuseops.InodeAttributes {
	t := fs.Clock.Now()
	return fuseops.InodeAttributes{
		Size:   4096,
		Nlink:  1,
		Mode:   os.ModeDir | 0555,
		Atime:  t,
		Mtime:  t,
		Ctime:  t,
		Crtime: t,
		Uid:    fs.uid,
		Gid:    fs.gid,
	}
}

func (fs *FS) fileAttrs(size int64) fuseops.InodeAttributes {
	t := fs.Clock.Now()
	return fuseops.InodeAttributes{
		Size:   uint64(size),
		Nlink:  1,
		Mode:   0444,
		Atime:  t,
		Mtime:  t,
		Ctime:  t,
		Crtime: t,
		Uid:    fs.uid,
		Gid:    fs.gid,
	}
}

// errno maps directory errors to fuse errors
func (fs *FS) errno(op string, err error) error {
	if errors.Is(err, redisdir.ErrNotFound) {
		return fuse.ENOENT
	}
	fs.log.Errorf("%s: %v", op, err)
	return fuse.EIO
}

// StatFS reports block size only, the store has no capacity limit
func (fs *FS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	op.BlockSize = redisdir.BlockSize
	op.IoSize = redisdir.BlockSize
	op.Blocks = 1024 * 1024 * 1024
	op.BlocksFree = 1024 * 1024 * 1024
	op.BlocksAvailable = 1024 * 1024 * 1024
	return nil
}

// LookUpInode resolves a file name in the root directory
func (fs *FS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}
	size, err := fs.dir.FileLength(ctx, op.Name)
	if err != nil {
		return fs.errno("LookUpInode", err)
	}
	op.Entry.Child = fs.inodeFor(op.Name)
	op.Entry.Attributes = fs.fileAttrs(size)
	return nil
}

func (fs *FS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttrs()
		return nil
	}
	name, ok := fs.nameOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	size, err := fs.dir.FileLength(ctx, name)
	if err != nil {
		return fs.errno("GetInodeAttributes", err)
	}
	op.Attributes = fs.fileAttrs(size)
	return nil
}

func (fs *FS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOTDIR
	}
	return nil
}

// ReadDir lists the directory, entry offsets are positions in the sorted
// file list
func (fs *FS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOTDIR
	}
	names, err := fs.dir.ListAll(ctx)
	if err != nil {
		return fs.errno("ReadDir", err)
	}
	if int(op.Offset) > len(names) {
		return nil
	}
	for x, name := range names[op.Offset:] {
		dirent := fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(x+1),
			Inode:  fs.inodeFor(name),
			Name:   name,
			Type:   fuseutil.DT_File,
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

// OpenFile opens a Reader bound to the new handle
func (fs *FS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	name, ok := fs.nameOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	// the reader outlives this op
	r, err := fs.dir.OpenInput(context.Background(), name)
	if err != nil {
		return fs.errno("OpenFile", err)
	}
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	handle := fs.nextHandle
	for _, ok := fs.fileHandles[handle]; ok; _, ok = fs.fileHandles[handle] {
		handle++
	}
	fs.nextHandle = handle + 1
	fs.fileHandles[handle] = &fileHandle{reader: r}
	op.Handle = handle
	return nil
}

func (fs *FS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.lockHandle.Lock()
	h, ok := fs.fileHandles[op.Handle]
	fs.lockHandle.Unlock()
	if !ok {
		return fuse.EINVAL
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	offset := int64(op.Offset)
	if offset >= h.reader.Length() {
		op.BytesRead = 0
		return nil
	}
	if _, err := h.reader.Seek(offset, io.SeekStart); err != nil {
		return fs.errno("ReadFile", err)
	}
	n, err := io.ReadFull(h.reader, op.Dst)
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fs.errno("ReadFile", err)
	}
	return nil
}

func (fs *FS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	if h, ok := fs.fileHandles[op.Handle]; ok {
		if err := h.reader.Close(); err != nil {
			fs.log.Errorf("ReleaseFileHandle(%d): %v", op.Handle, err)
		}
		delete(fs.fileHandles, op.Handle)
	}
	return nil
}

// Destroy leaves the directory open, its owner closes it
func (fs *FS) Destroy() {
	fs.lockHandle.Lock()
	defer fs.lockHandle.Unlock()
	fs.log.Debugf("Destroy: %d open handles", len(fs.fileHandles))
}
