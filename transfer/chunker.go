package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// FileInfo is the metadata the chunker and sender derive from a file
// path before a transfer begins.
type FileInfo struct {
	Filename string
	Size     uint64
	MimeType string
}

// StatFile returns the filename, size, and guessed MIME type for path,
// mirroring original_source/src/file_transfer/chunker.py's
// get_file_info.
func StatFile(path string) (*FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &FileInfo{
		Filename: filepath.Base(path),
		Size:     uint64(fi.Size()),
		MimeType: mimeType,
	}, nil
}

// HashFile computes the SHA-256 of the full file at path, streaming
// HashReadBlockSize reads so the whole file is never held in memory.
// This is independent of chunking so resume never needs to rehash an
// already-transferred prefix (SPEC_FULL.md S4.2).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, HashReadBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("%w: hash %s: %v", ErrIO, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChunkReader is a lazy, finite, non-restartable producer of
// (offset, bytes, is_last) tuples over a file, starting at an arbitrary
// byte offset for resume. It never materializes more than one chunk of
// memory at a time.
type ChunkReader struct {
	file      *os.File
	size      uint64
	offset    uint64
	done      bool
	chunkSize int
}

// NewChunkReader opens path and prepares to read chunks from startOffset.
func NewChunkReader(path string, startOffset uint64) (*ChunkReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}

	if startOffset > 0 {
		if _, err := f.Seek(int64(startOffset), io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: seek %s: %v", ErrIO, path, err)
		}
	}

	return &ChunkReader{
		file:      f,
		size:      uint64(fi.Size()),
		offset:    startOffset,
		chunkSize: ChunkSize,
	}, nil
}

// Close releases the underlying file handle.
func (c *ChunkReader) Close() error {
	return c.file.Close()
}

// Next returns the next chunk, or io.EOF once the file is exhausted.
// The read goes through a buffer from the shared pool, which is returned
// to the pool before Next returns; the chunk's Bytes is a fresh copy
// owned by the caller.
func (c *ChunkReader) Next() (Chunk, error) {
	if c.done {
		return Chunk{}, io.EOF
	}

	buf := chunkBufferPool.Get()[:c.chunkSize]
	n, err := io.ReadFull(c.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		chunkBufferPool.Put(buf)
		return Chunk{}, fmt.Errorf("%w: read chunk: %v", ErrIO, err)
	}
	if n == 0 {
		chunkBufferPool.Put(buf)
		c.done = true
		return Chunk{}, io.EOF
	}

	data := make([]byte, n)
	copy(data, buf[:n])
	chunkBufferPool.Put(buf)

	offset := c.offset
	c.offset += uint64(n)
	isLast := c.offset >= c.size

	if isLast {
		c.done = true
	}

	return Chunk{Offset: offset, Bytes: data, IsLast: isLast}, nil
}
