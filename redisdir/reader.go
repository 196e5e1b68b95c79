package redisdir

import (
	"context"
	"io"

	"github.com/ztrue/tracerr"
)

// Reader is a random access input stream over [offset, end) of a file. It
// caches a single block.
type Reader struct {
	ctx  context.Context
	dir  *Directory
	fi   *FileInfo
	desc string

	block       []byte
	blockNum    int64
	blockOffset int

	offset, end, pos int64
}

func newReader(ctx context.Context, dir *Directory, fi *FileInfo) *Reader {
	return &Reader{
		ctx:  ctx,
		dir:  dir,
		fi:   fi,
		desc: fi.Name,
		end:  fi.Size,
	}
}

// Name returns description of the stream, file name unless sliced
func (r *Reader) Name() string {
	return r.desc
}

// Length returns number of bytes visible through r
func (r *Reader) Length() int64 {
	return r.end - r.offset
}

// FilePointer returns current position relative to the start of r
func (r *Reader) FilePointer() int64 {
	return r.pos
}

func (r *Reader) loadBlock(blockNum int64) error {
	start := r.dir.clock.Now()
	block, err := r.dir.readBlock(r.ctx, r.fi, blockNum)
	if err != nil {
		return err
	}
	r.block = block
	r.blockNum = blockNum
	r.dir.log.Debugf("loadBlock(%s/%d) in %s", r.fi.Name, blockNum, r.dir.clock.Now().Sub(start))
	return nil
}

// ensureBlock loads the current block if it is not cached
func (r *Reader) ensureBlock() error {
	if r.block != nil {
		return nil
	}
	if err := r.loadBlock(r.blockNum); err != nil {
		return err
	}
	if r.block == nil {
		return tracerr.Errorf("%w: %s:%d", ErrMissingBlock, r.fi.ID, r.blockNum)
	}
	return nil
}

// advance moves the position by n bytes inside the cached block and loads
// the following block once the cached one is exhausted
func (r *Reader) advance(n int) error {
	if r.blockOffset+n >= BlockSize && r.pos+int64(n)+r.offset < r.end {
		if err := r.loadBlock(r.blockNum + 1); err != nil {
			return err
		}
	} else if r.blockOffset+n >= BlockSize {
		r.block = nil
		r.blockNum++
	}
	r.pos += int64(n)
	r.blockOffset = int((r.pos + r.offset) % BlockSize)
	return nil
}

// seek moves to p, 0 <= p <= Length()
func (r *Reader) seek(p int64) error {
	if p < 0 || p > r.Length() {
		return tracerr.Errorf("%w: seek position %d is out of range [0,%d]", ErrInvalidArgument, p, r.Length())
	}
	r.dir.log.Debugf("seek(%s,%d/%d,%d)", r.desc, r.offset, r.end, p)
	blockNum := (p + r.offset) / BlockSize
	if blockNum != r.blockNum {
		if err := r.loadBlock(blockNum); err != nil {
			return err
		}
	}
	r.pos = p
	r.blockOffset = int((p + r.offset) % BlockSize)
	return nil
}

// Seek implements io.Seeker
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var p int64
	switch whence {
	case io.SeekStart:
		p = offset
	case io.SeekCurrent:
		p = r.pos + offset
	case io.SeekEnd:
		p = r.Length() + offset
	default:
		return r.pos, tracerr.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
	if err := r.seek(p); err != nil {
		return r.pos, err
	}
	return r.pos, nil
}

// ReadByte returns the next byte or io.EOF at the end of the stream
func (r *Reader) ReadByte() (byte, error) {
	if r.pos+r.offset >= r.end {
		return 0, io.EOF
	}
	if err := r.ensureBlock(); err != nil {
		return 0, err
	}
	b := r.block[r.blockOffset]
	if err := r.advance(1); err != nil {
		return 0, err
	}
	return b, nil
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.pos+r.offset >= r.end {
		return 0, io.EOF
	}
	start := r.dir.clock.Now()
	n := 0
	for n < len(p) && r.pos+r.offset < r.end {
		if err := r.ensureBlock(); err != nil {
			return n, err
		}
		chunk := BlockSize - r.blockOffset
		if left := len(p) - n; chunk > left {
			chunk = left
		}
		if left := r.end - r.offset - r.pos; int64(chunk) > left {
			chunk = int(left)
		}
		copy(p[n:n+chunk], r.block[r.blockOffset:r.blockOffset+chunk])
		if err := r.advance(chunk); err != nil {
			return n, err
		}
		n += chunk
	}
	r.dir.log.Debugf("readBytes[%s/%d/%d] in %s", r.desc, r.pos-int64(n), n, r.dir.clock.Now().Sub(start))
	return n, nil
}

// ReadBytes fills buf, failing with io.ErrUnexpectedEOF when the stream ends
// first
func (r *Reader) ReadBytes(buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// Slice returns a new Reader over [offset, offset+length) of r, positioned
// at its start. The slice never shares the cached block of r.
func (r *Reader) Slice(desc string, offset, length int64) (*Reader, error) {
	r.dir.log.Debugf("slice(%s,%d,%d) -> %s", desc, offset, length, r.fi.Name)
	if offset < 0 || length < 0 || offset > r.Length() || length > r.Length()-offset {
		return nil, tracerr.Errorf("%w: slice(%s) offset %d length %d out of bounds of %d", ErrInvalidArgument, desc, offset, length, r.Length())
	}
	s := &Reader{
		ctx:         r.ctx,
		dir:         r.dir,
		fi:          r.fi,
		desc:        desc,
		blockNum:    r.blockNum,
		blockOffset: r.blockOffset,
		offset:      r.offset + offset,
	}
	s.end = s.offset + length
	if err := s.seek(0); err != nil {
		return nil, err
	}
	return s, nil
}

// Clone returns an independent copy of r with the same position
func (r *Reader) Clone() *Reader {
	c := *r
	if r.block != nil {
		c.block = make([]byte, len(r.block))
		copy(c.block, r.block)
	}
	return &c
}

// Close releases nothing, readers hold no store resources between calls
func (r *Reader) Close() error {
	return nil
}
