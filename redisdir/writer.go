package redisdir

import (
	"context"
	"hash/crc32"
	"sync"

	"github.com/rarydzu/redisdir/metrics"
	"github.com/ztrue/tracerr"
)

// Writer is a sequential block aligned output stream. Every full block is
// persisted together with the updated file size.
type Writer struct {
	ctx context.Context
	dir *Directory
	fi  *FileInfo

	mu        sync.Mutex
	buf       []byte
	bufOffset int
	blockNum  int64
	written   int64
	crc       uint32
	closed    bool
}

func newWriter(ctx context.Context, dir *Directory, fi *FileInfo) *Writer {
	own := *fi
	return &Writer{
		ctx: ctx,
		dir: dir,
		fi:  &own,
		buf: make([]byte, BlockSize),
	}
}

// Name returns file name
func (w *Writer) Name() string {
	return w.fi.Name
}

// WriteByte appends one byte
func (w *Writer) WriteByte(b byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return tracerr.Errorf("%w: %s", ErrClosed, w.fi.Name)
	}
	w.crc = crc32.Update(w.crc, crc32.IEEETable, []byte{b})
	w.buf[w.bufOffset] = b
	w.bufOffset++
	w.written++
	w.fi.Size = w.written
	if w.bufOffset >= BlockSize {
		return w.flush()
	}
	return nil
}

// Write appends p. Checksum and block boundaries are the same as for
// len(p) calls of WriteByte.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, tracerr.Errorf("%w: %s", ErrClosed, w.fi.Name)
	}
	n := 0
	for n < len(p) {
		chunk := p[n:]
		if free := BlockSize - w.bufOffset; len(chunk) > free {
			chunk = chunk[:free]
		}
		w.crc = crc32.Update(w.crc, crc32.IEEETable, chunk)
		copy(w.buf[w.bufOffset:], chunk)
		w.bufOffset += len(chunk)
		w.written += int64(len(chunk))
		w.fi.Size = w.written
		n += len(chunk)
		if w.bufOffset >= BlockSize {
			if err := w.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// flush persists the buffered bytes as block blockNum, caller holds w.mu
func (w *Writer) flush() error {
	if w.bufOffset == 0 {
		return nil
	}
	start := w.dir.clock.Now()
	w.dir.flushLocks.Lock(w.fi.ID)
	defer w.dir.flushLocks.Unlock(w.fi.ID)
	if err := w.dir.writeBlock(w.ctx, w.fi, w.blockNum, w.buf[:w.bufOffset]); err != nil {
		return err
	}
	w.blockNum++
	w.bufOffset = 0
	// stores may keep a reference to the written slice
	w.buf = make([]byte, BlockSize)
	w.fi.Size = w.written
	if err := w.dir.updateFileInfo(w.ctx, w.fi); err != nil {
		return err
	}
	elapsed := w.dir.clock.Now().Sub(start)
	metrics.FlushDuration.Observe(elapsed.Seconds())
	w.dir.log.Debugf("flushBlock[%s,%d,%s] in %s", w.fi.Name, w.blockNum-1, w.fi.ID, elapsed)
	return nil
}

// Close flushes the partial last block. Further writes fail with ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flush()
}

// Checksum returns CRC32 (IEEE) of all bytes written so far
func (w *Writer) Checksum() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.crc
}

// FilePointer returns number of bytes written
func (w *Writer) FilePointer() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
