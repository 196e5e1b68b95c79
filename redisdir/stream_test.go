package redisdir

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"math"
	"testing"

	"github.com/rarydzu/redisdir/config"
	"github.com/rarydzu/redisdir/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testSizes = []int{0, 1, BlockSize - 1, BlockSize, BlockSize + 1, 3 * BlockSize}

func newTestDirectory(t *testing.T) *Directory {
	cfg := config.Default()
	cfg.Backend = config.BackendLevelDB
	dir, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { dir.Close() })
	return dir
}

func writeFile(t *testing.T, dir *Directory, name string, data []byte) *Writer {
	w, err := dir.CreateOutput(context.Background(), name)
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())
	return w
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	for _, size := range testSizes {
		data := utils.RandBytes(size)
		name := utils.RandString(12)
		w := writeFile(t, dir, name, data)
		assert.Equal(t, int64(size), w.FilePointer())
		assert.Equal(t, crc32.ChecksumIEEE(data), w.Checksum(), "size %d", size)

		length, err := dir.FileLength(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(size), length)

		r, err := dir.OpenInput(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, int64(size), r.Length())
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "size %d", size)
		_, err = r.ReadByte()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestWriteByteMatchesWrite(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	data := utils.RandBytes(BlockSize + 100)

	bulk := writeFile(t, dir, "bulk", data)

	single, err := dir.CreateOutput(ctx, "single")
	require.NoError(t, err)
	for _, b := range data {
		require.NoError(t, single.WriteByte(b))
	}
	require.NoError(t, single.Close())

	assert.Equal(t, bulk.Checksum(), single.Checksum())
	assert.Equal(t, bulk.FilePointer(), single.FilePointer())

	r, err := dir.OpenInput(ctx, "single")
	require.NoError(t, err)
	got := make([]byte, len(data))
	for i := range got {
		got[i], err = r.ReadByte()
		require.NoError(t, err)
	}
	assert.Equal(t, data, got)
}

func TestWriteLogsPerFlush(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	cfg := config.Default()
	cfg.Backend = config.BackendLevelDB
	dir, err := New(cfg, zap.New(core).Sugar())
	require.NoError(t, err)
	defer dir.Close()

	w, err := dir.CreateOutput(ctx, "chatty")
	require.NoError(t, err)
	logs.TakeAll()
	const writes = 200
	chunk := utils.RandBytes(1024)
	for i := 0; i < writes; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	// 200KiB fill three blocks, the rest stays buffered
	assert.Equal(t, 3, logs.FilterMessageSnippet("flushBlock").Len())
	assert.Less(t, logs.Len(), writes)
	require.NoError(t, w.Close())
	assert.Equal(t, 4, logs.FilterMessageSnippet("flushBlock").Len())
}

func TestFlushPersistsSize(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	w, err := dir.CreateOutput(ctx, "partial")
	require.NoError(t, err)
	_, err = w.Write(utils.RandBytes(BlockSize + 10))
	require.NoError(t, err)

	// only the full block is flushed before close
	length, err := dir.FileLength(ctx, "partial")
	require.NoError(t, err)
	assert.Equal(t, int64(BlockSize), length)

	require.NoError(t, w.Close())
	length, err = dir.FileLength(ctx, "partial")
	require.NoError(t, err)
	assert.Equal(t, int64(BlockSize+10), length)

	// last block is stored without padding
	raw, err := dir.Store().HGet(ctx, dir.DataHash(), blockKey(w.fi, 1))
	require.NoError(t, err)
	assert.Len(t, raw, 10)

	assert.ErrorIs(t, w.WriteByte(1), ErrClosed)
	_, err = w.Write([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, w.Close())
}

func TestSeek(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	data := utils.RandBytes(2*BlockSize + 5)
	writeFile(t, dir, "seek", data)

	r, err := dir.OpenInput(ctx, "seek")
	require.NoError(t, err)
	for _, p := range []int64{0, 1, BlockSize - 1, BlockSize, BlockSize + 1, 2 * BlockSize, int64(len(data)) - 1, int64(len(data)), 7} {
		pos, err := r.Seek(p, io.SeekStart)
		require.NoError(t, err)
		assert.Equal(t, p, pos)
		assert.Equal(t, p, r.FilePointer())
		assert.Equal(t, int((p+r.offset)%BlockSize), r.blockOffset)
		if p < int64(len(data)) {
			b, err := r.ReadByte()
			require.NoError(t, err)
			assert.Equal(t, data[p], b, "pos %d", p)
		}
	}

	_, err = r.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.Seek(int64(len(data))+1, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	pos, err := r.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-5), pos)
	pos, err = r.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-3), pos)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-3:], rest)
}

func TestReadBytesShort(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	writeFile(t, dir, "short", []byte("hello"))
	r, err := dir.OpenInput(ctx, "short")
	require.NoError(t, err)
	buf := make([]byte, 3)
	require.NoError(t, r.ReadBytes(buf))
	assert.Equal(t, []byte("hel"), buf)
	assert.ErrorIs(t, r.ReadBytes(buf), io.ErrUnexpectedEOF)
}

func TestSlice(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	data := utils.RandBytes(3 * BlockSize)
	writeFile(t, dir, "slice", data)

	r, err := dir.OpenInput(ctx, "slice")
	require.NoError(t, err)
	cases := []struct{ off, length int64 }{
		{0, 0},
		{0, int64(len(data))},
		{1, 10},
		{BlockSize - 3, 6},
		{BlockSize, BlockSize},
		{BlockSize + 7, 2*BlockSize - 7},
	}
	for _, c := range cases {
		s, err := r.Slice("s", c.off, c.length)
		require.NoError(t, err)
		assert.Equal(t, c.length, s.Length())
		assert.Equal(t, int64(0), s.FilePointer())
		got, err := io.ReadAll(s)
		require.NoError(t, err)
		assert.Equal(t, data[c.off:c.off+c.length], got, "slice %d+%d", c.off, c.length)
	}

	// nested slice is relative to its parent
	outer, err := r.Slice("outer", BlockSize-10, 100)
	require.NoError(t, err)
	inner, err := outer.Slice("inner", 5, 20)
	require.NoError(t, err)
	got, err := io.ReadAll(inner)
	require.NoError(t, err)
	assert.Equal(t, data[BlockSize-5:BlockSize+15], got)
	assert.Equal(t, "inner", inner.Name())

	_, err = r.Slice("bad", -1, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.Slice("bad", 0, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.Slice("bad", 1, int64(len(data)))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSeekPastSliceEnd(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	data := utils.RandBytes(BlockSize + 100)
	writeFile(t, dir, "bounds", data)

	r, err := dir.OpenInput(ctx, "bounds")
	require.NoError(t, err)
	s, err := r.Slice("s", 10, 20)
	require.NoError(t, err)
	_, err = s.Seek(5, io.SeekStart)
	require.NoError(t, err)

	for _, p := range []int64{s.Length() + 1, int64(len(data)), math.MaxInt64} {
		_, err = s.Seek(p, io.SeekStart)
		assert.ErrorIs(t, err, ErrInvalidArgument, "seek %d", p)
		assert.Equal(t, int64(5), s.FilePointer())
	}
	_, err = s.Seek(math.MaxInt64, io.SeekCurrent)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, int64(5), s.FilePointer())

	pos, err := s.Seek(s.Length(), io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos)
	_, err = s.ReadByte()
	assert.Equal(t, io.EOF, err)

	_, err = r.Slice("bad", 1, math.MaxInt64)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = r.Slice("bad", math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Slice("bad", 5, math.MaxInt64-2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClone(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	data := utils.RandBytes(BlockSize + 50)
	writeFile(t, dir, "clone", data)

	r, err := dir.OpenInput(ctx, "clone")
	require.NoError(t, err)
	_, err = r.Seek(10, io.SeekStart)
	require.NoError(t, err)
	_, err = r.ReadByte()
	require.NoError(t, err)

	c := r.Clone()
	assert.Equal(t, r.FilePointer(), c.FilePointer())
	require.NotNil(t, c.block)
	c.block[r.blockOffset] ^= 0xff
	assert.Equal(t, data[11], r.block[r.blockOffset])

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[11:], rest)
	_, err = c.Seek(BlockSize, io.SeekStart)
	require.NoError(t, err)
	rest, err = io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, data[BlockSize:], rest)
}

func TestMissingBlock(t *testing.T) {
	ctx := context.Background()
	dir := newTestDirectory(t)
	w := writeFile(t, dir, "holes", utils.RandBytes(2*BlockSize))
	require.NoError(t, dir.Store().HDel(ctx, dir.DataHash(), blockKey(w.fi, 1)))

	r, err := dir.OpenInput(ctx, "holes")
	require.NoError(t, err)
	_, err = r.Seek(BlockSize, io.SeekStart)
	require.NoError(t, err)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, ErrMissingBlock)
}
