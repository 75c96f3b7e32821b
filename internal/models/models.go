package models

import "time"

// FileRecord represents one logical stored file
type FileRecord struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Deleted     bool      `json:"deleted"`
	Chunked     bool      `json:"chunked"`
	TotalChunks int       `json:"total_chunks"`

	// BlobHandle is empty until the upload is finalized. For chunked files it
	// points at chunk 0 and is never used for reconstruction.
	BlobHandle string `json:"blob_handle"`
}

// Complete reports whether the upload that created the record finished.
func (f *FileRecord) Complete() bool {
	return f.BlobHandle != ""
}

// Descriptor strips everything callers outside the engine must not see.
func (f *FileRecord) Descriptor() FileDescriptor {
	return FileDescriptor{
		ID:          f.ID,
		Name:        f.Name,
		ContentType: f.ContentType,
		Size:        f.Size,
		UploadedAt:  f.CreatedAt,
	}
}

// ChunkRecord represents one physical chunk of a chunked file
type ChunkRecord struct {
	FileID     string    `json:"file_id"`
	Index      int       `json:"index"`
	BlobHandle string    `json:"blob_handle"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// FileDescriptor is the public view of a stored file
type FileDescriptor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
