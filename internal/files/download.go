package files

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/maneesh/chunkvault/internal/metrics"
	"github.com/maneesh/chunkvault/internal/models"
	"github.com/maneesh/chunkvault/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Download is an open file. Body streams the original bytes in order and
// must be closed.
type Download struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}

// part is one blob of a file as the reader expects to find it
type part struct {
	index    int
	handle   storage.Handle
	size     int64
	checksum string
}

// DownloadFile opens a file owned by ownerID for reading.
//
// Chunked files are checked against their record before anything is
// fetched; a missing or extra chunk fails with ErrIncompleteFile. The first
// blob is opened before returning so that backend failures surface here
// rather than mid-stream.
func (s *Service) DownloadFile(ctx context.Context, id, ownerID string) (dl *Download, err error) {
	ctx, span := tracer.Start(ctx, "download_file", trace.WithAttributes(attribute.String("file_id", id)))
	defer func() { endSpan(span, err) }()
	defer observe("download", time.Now(), &err)

	rec, err := s.lookup(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	var parts []part
	if !rec.Chunked {
		parts = []part{{index: 0, handle: storage.Handle(rec.BlobHandle), size: rec.Size}}
	} else {
		chunks, err := s.store.ListChunkRecords(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks of file %s: %w", rec.ID, err)
		}
		parts, err = planParts(rec, chunks)
		if err != nil {
			s.log.ErrorContext(ctx, "integrity check failed", "file_id", rec.ID, "error", err)
			return nil, err
		}
	}
	span.SetAttributes(attribute.Int("total_chunks", len(parts)))

	readAhead := s.opts.ReadAhead
	if len(parts) == 1 {
		readAhead = 0
	}
	body := newChunkReader(ctx, s, rec.ID, parts, readAhead)
	if err := body.open(); err != nil {
		body.Close()
		return nil, err
	}

	return &Download{
		Body:        body,
		Name:        rec.Name,
		ContentType: rec.ContentType,
		Size:        rec.Size,
	}, nil
}

// planParts orders the chunk records and checks them against the file record
func planParts(rec *models.FileRecord, chunks []*models.ChunkRecord) ([]part, error) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })

	if len(chunks) != rec.TotalChunks {
		return nil, fmt.Errorf("%w: %s has %d of %d chunks", ErrIncompleteFile, rec.ID, len(chunks), rec.TotalChunks)
	}

	parts := make([]part, len(chunks))
	var total int64
	for i, c := range chunks {
		if c.Index != i {
			return nil, fmt.Errorf("%w: %s is missing chunk %d", ErrIncompleteFile, rec.ID, i)
		}
		total += c.Size
		parts[i] = part{
			index:    c.Index,
			handle:   storage.Handle(c.BlobHandle),
			size:     c.Size,
			checksum: c.Checksum,
		}
	}
	if total != rec.Size {
		return nil, fmt.Errorf("%w: %s chunks hold %d of %d bytes", ErrIncompleteFile, rec.ID, total, rec.Size)
	}
	return parts, nil
}

// fetched is a chunk pulled ahead of the consumer
type fetched struct {
	data []byte
	err  error
}

// chunkReader concatenates the blobs of a file. Each blob's length and
// checksum are verified as it is read; any failure is sticky.
//
// With read-ahead, a single goroutine fetches whole chunks in index order
// into a channel holding at most readAhead of them. Close stops it and
// waits for it to exit.
type chunkReader struct {
	ctx    context.Context
	cancel context.CancelFunc
	svc    *Service
	fileID string
	parts  []part

	pos  int // index into parts of the current chunk
	cur  io.ReadCloser
	got  int64
	hash hash.Hash
	err  error

	ahead chan fetched
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func newChunkReader(ctx context.Context, svc *Service, fileID string, parts []part, readAhead int) *chunkReader {
	ctx, cancel := context.WithCancel(ctx)
	cr := &chunkReader{
		ctx:    ctx,
		cancel: cancel,
		svc:    svc,
		fileID: fileID,
		parts:  parts,
		pos:    -1,
	}
	if readAhead > 0 {
		cr.ahead = make(chan fetched, readAhead)
		cr.wg.Add(1)
		go cr.prefetch()
	}
	return cr
}

func (cr *chunkReader) prefetch() {
	defer cr.wg.Done()
	defer close(cr.ahead)

	for _, p := range cr.parts {
		data, err := retryBlob(cr.ctx, cr.svc, "get", func() ([]byte, error) {
			return cr.svc.readBlob(cr.ctx, p.handle)
		})
		select {
		case cr.ahead <- fetched{data: data, err: err}:
		case <-cr.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// open moves to the next part
func (cr *chunkReader) open() error {
	cr.pos++
	p := cr.parts[cr.pos]
	cr.got = 0
	cr.hash = sha256.New()

	if cr.ahead != nil {
		select {
		case f, ok := <-cr.ahead:
			if !ok {
				err := cr.ctx.Err()
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return cr.chunkErr(p, err)
			}
			if f.err != nil {
				return cr.chunkErr(p, f.err)
			}
			cr.cur = io.NopCloser(bytes.NewReader(f.data))
			return nil
		case <-cr.ctx.Done():
			return cr.chunkErr(p, cr.ctx.Err())
		}
	}

	rc, err := retryBlob(cr.ctx, cr.svc, "get", func() (io.ReadCloser, error) {
		return cr.svc.blobs.Get(cr.ctx, p.handle)
	})
	if err != nil {
		return cr.chunkErr(p, err)
	}
	cr.cur = rc
	return nil
}

// finish verifies the part that was just drained and releases it
func (cr *chunkReader) finish() error {
	p := cr.parts[cr.pos]
	cr.cur.Close()
	cr.cur = nil

	if cr.got != p.size {
		return fmt.Errorf("%w: chunk %d of file %s is %d bytes, recorded %d",
			ErrCorruptChunk, p.index, cr.fileID, cr.got, p.size)
	}
	if p.checksum != "" {
		if sum := hex.EncodeToString(cr.hash.Sum(nil)); sum != p.checksum {
			return fmt.Errorf("%w: chunk %d of file %s checksum mismatch", ErrCorruptChunk, p.index, cr.fileID)
		}
	}
	metrics.ChunksFetchedTotal.Inc()
	return nil
}

// Read implements io.Reader.
func (cr *chunkReader) Read(b []byte) (int, error) {
	for cr.err == nil {
		if cr.cur == nil {
			if cr.pos+1 == len(cr.parts) {
				return 0, io.EOF
			}
			if err := cr.open(); err != nil {
				return 0, cr.fail(err)
			}
		}

		n, err := cr.cur.Read(b)
		cr.got += int64(n)
		cr.hash.Write(b[:n])
		if cr.got > cr.parts[cr.pos].size {
			return 0, cr.fail(fmt.Errorf("%w: chunk %d of file %s is longer than recorded",
				ErrCorruptChunk, cr.parts[cr.pos].index, cr.fileID))
		}

		switch {
		case errors.Is(err, io.EOF):
			if ferr := cr.finish(); ferr != nil {
				return 0, cr.fail(ferr)
			}
			if n > 0 {
				metrics.BytesDownloadedTotal.Add(float64(n))
				return n, nil
			}
		case err != nil:
			return 0, cr.fail(cr.chunkErr(cr.parts[cr.pos], err))
		case n > 0:
			metrics.BytesDownloadedTotal.Add(float64(n))
			return n, nil
		}
	}
	return 0, cr.err
}

// Close releases the open blob and stops any read-ahead.
func (cr *chunkReader) Close() error {
	cr.closeOnce.Do(func() {
		cr.cancel()
		if cr.cur != nil {
			cr.cur.Close()
			cr.cur = nil
		}
		cr.wg.Wait()
		if cr.err == nil {
			cr.err = errors.New("read from closed download")
		}
	})
	return nil
}

func (cr *chunkReader) fail(err error) error {
	cr.err = err
	cr.cancel()
	cr.svc.log.ErrorContext(cr.ctx, "download aborted", "file_id", cr.fileID, "chunk_index", cr.pos, "error", err)
	return err
}

func (cr *chunkReader) chunkErr(p part, err error) error {
	return fmt.Errorf("failed to fetch chunk %d of file %s: %w", p.index, cr.fileID, err)
}

// readBlob fetches a whole blob into memory
func (s *Service) readBlob(ctx context.Context, h storage.Handle) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
