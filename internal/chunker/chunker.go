package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrEmptyInput is returned when asked to plan or store a zero-length file
	ErrEmptyInput = errors.New("chunker: empty input")
	// ErrInvalidChunkSize is returned for non-positive chunk sizes
	ErrInvalidChunkSize = errors.New("chunker: chunk size must be positive")
)

// Span describes one slice of a file
type Span struct {
	Index  int
	Offset int64
	Length int64
}

// Plan is the ordered list of spans covering a file
type Plan []Span

// Total returns the number of bytes covered by the plan
func (p Plan) Total() int64 {
	var n int64
	for _, s := range p {
		n += s.Length
	}
	return n
}

// ShouldChunk reports whether a file of fileSize bytes must be split
func ShouldChunk(fileSize, maxChunkSize int64) bool {
	return fileSize > maxChunkSize
}

// ChunkCount returns ceil(fileSize / maxChunkSize)
func ChunkCount(fileSize, maxChunkSize int64) int {
	if fileSize <= 0 || maxChunkSize <= 0 {
		return 0
	}
	return int((fileSize + maxChunkSize - 1) / maxChunkSize)
}

// PlanChunks computes the chunk boundaries for a file
func PlanChunks(fileSize, maxChunkSize int64) (Plan, error) {
	if maxChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if fileSize <= 0 {
		return nil, ErrEmptyInput
	}

	n := ChunkCount(fileSize, maxChunkSize)
	plan := make(Plan, 0, n)
	for i := 0; i < n; i++ {
		offset := int64(i) * maxChunkSize
		plan = append(plan, Span{
			Index:  i,
			Offset: offset,
			Length: min(maxChunkSize, fileSize-offset),
		})
	}
	return plan, nil
}

// Chunk is one slice read from a stream
type Chunk struct {
	Index int
	Data  []byte
	Hash  string
}

// Size returns the chunk length in bytes
func (c Chunk) Size() int64 {
	return int64(len(c.Data))
}

// Splitter lazily cuts a stream into fixed-size chunks.
//
// Each call to Next advances the shared source, so chunks come out strictly
// in index order and the sequence cannot be restarted. A Splitter must not be
// used from more than one goroutine.
type Splitter struct {
	src       io.Reader
	chunkSize int64
	next      int
	buf       []byte
	done      bool
}

// NewSplitter creates a splitter reading chunkSize bytes at a time from src
func NewSplitter(src io.Reader, chunkSize int64) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &Splitter{
		src:       src,
		chunkSize: chunkSize,
	}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// The returned data is an owned copy; the internal buffer is reused.
func (s *Splitter) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	if s.buf == nil {
		s.buf = make([]byte, s.chunkSize)
	}

	n, err := io.ReadFull(s.src, s.buf)
	switch {
	case err == io.EOF:
		s.done = true
		return Chunk{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		// short final chunk
		s.done = true
	case err != nil:
		s.done = true
		return Chunk{}, fmt.Errorf("error reading chunk %d: %w", s.next, err)
	}

	data := make([]byte, n)
	copy(data, s.buf[:n])

	chunk := Chunk{
		Index: s.next,
		Data:  data,
		Hash:  ComputeHash(data),
	}
	s.next++
	return chunk, nil
}

// Produced returns how many chunks have been handed out so far
func (s *Splitter) Produced() int {
	return s.next
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
