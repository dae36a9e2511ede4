// Package upload is the Upload Assembler (U): stateful reassembly of
// multi-part uploads into an object-store artifact, culminating in the
// atomic creation of a Task and its outbox Event. New; the teacher's
// ingress was single-shot JSON, so this is built in the teacher's handler
// idiom (internal/http/handlers.go) rather than adapted from an existing
// file.
package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/mac-lisowski/mysmarthotel-task/internal/apperr"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

// XLSXContentType is the only MIME type ingestChunk accepts.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var fileNamePattern = regexp.MustCompile(`^[\w,\s-]+\.xlsx$`)

// ObjectStore is the multipart subset of objectstore.Client the assembler
// depends on.
type ObjectStore interface {
	InitiateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, s3UploadID string, partNumber int32, body io.ReadSeeker) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, s3UploadID string, parts []models.UploadedPart) error
	AbortMultipartUpload(ctx context.Context, key, s3UploadID string) error
}

// SessionCache is the subset of sessioncache.Store the assembler depends on.
type SessionCache interface {
	Save(ctx context.Context, sess models.UploadSession) error
	Get(ctx context.Context, uploadID string) (models.UploadSession, error)
	Delete(ctx context.Context, uploadID string) error
}

// Store is the subset of mongostore.Store the assembler depends on.
type Store interface {
	CreateTaskAndEvent(ctx context.Context, task *models.Task, event *models.Event) error
}

// Assembler implements ingestChunk (spec.md §4.1).
type Assembler struct {
	objects ObjectStore
	cache   SessionCache
	store   Store
	now     func() time.Time
	newID   func() string
}

// New constructs an Assembler from its three collaborators.
func New(objects ObjectStore, cache SessionCache, store Store) *Assembler {
	return &Assembler{
		objects: objects,
		cache:   cache,
		store:   store,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ChunkResult is ingestChunk's return value: either a receipt marker for
// an intermediate chunk, or the newly minted taskId on the terminal chunk.
type ChunkResult struct {
	Status string
	TaskID string
}

// StatusChunkReceived is the response for every non-terminal chunk.
const StatusChunkReceived = "chunk_received"

// IngestChunkInput bundles ingestChunk's parameters.
type IngestChunkInput struct {
	Body             io.ReadSeeker
	ChunkNumber      int
	TotalChunks      int
	UploadID         string
	OriginalFileName string
	MimeType         string
	// FileMD5 is the optional whole-file digest a client may send on the
	// first chunk to have it verified against what was actually assembled.
	FileMD5 string
}

// restoreMD5 rebuilds a running md5 hash from its marshaled state, or a
// fresh hash if state is empty (the first chunk of a checksummed upload).
func restoreMD5(state string) (hash.Hash, error) {
	h := md5.New()
	if state == "" {
		return h, nil
	}
	raw, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return nil, fmt.Errorf("decode md5 state: %w", err)
	}
	if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("restore md5 state: %w", err)
	}
	return h, nil
}

// saveMD5 marshals a running md5 hash's state for round-tripping through
// the session cache between chunks.
func saveMD5(h hash.Hash) (string, error) {
	raw, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal md5 state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// IngestChunk implements spec.md §4.1's algorithm.
func (a *Assembler) IngestChunk(ctx context.Context, in IngestChunkInput) (ChunkResult, error) {
	if in.MimeType != XLSXContentType {
		return ChunkResult{}, fmt.Errorf("%w: unsupported content type %q", apperr.ErrValidation, in.MimeType)
	}
	if !fileNamePattern.MatchString(in.OriginalFileName) {
		return ChunkResult{}, fmt.Errorf("%w: originalFileName %q does not match required pattern", apperr.ErrValidation, in.OriginalFileName)
	}
	if in.TotalChunks < 1 {
		return ChunkResult{}, fmt.Errorf("%w: totalChunks must be >= 1", apperr.ErrValidation)
	}
	if in.ChunkNumber < 0 || in.ChunkNumber >= in.TotalChunks {
		return ChunkResult{}, fmt.Errorf("%w: chunkNumber %d out of range [0,%d)", apperr.ErrValidation, in.ChunkNumber, in.TotalChunks)
	}

	var sess models.UploadSession
	if in.ChunkNumber == 0 {
		bucketFilePath := fmt.Sprintf("uploads/%s/%s", a.newID(), in.OriginalFileName)
		s3UploadID, err := a.objects.InitiateMultipartUpload(ctx, bucketFilePath, in.MimeType)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("%w: initiate multipart upload: %v", apperr.ErrInternal, err)
		}
		sess = models.UploadSession{
			UploadID:         in.UploadID,
			S3UploadID:       s3UploadID,
			BucketFilePath:   bucketFilePath,
			TotalChunks:      in.TotalChunks,
			OriginalFileName: in.OriginalFileName,
			MimeType:         in.MimeType,
			ExpectedFileMD5:  in.FileMD5,
		}
		if err := a.cache.Save(ctx, sess); err != nil {
			return ChunkResult{}, fmt.Errorf("%w: persist upload session: %v", apperr.ErrInternal, err)
		}
	} else {
		var err error
		sess, err = a.cache.Get(ctx, in.UploadID)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("%w: upload session for %q: %v", apperr.ErrValidation, in.UploadID, err)
		}
	}

	body := in.Body
	if sess.ExpectedFileMD5 != "" {
		buf, err := io.ReadAll(in.Body)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("%w: read chunk %d: %v", apperr.ErrInternal, in.ChunkNumber, err)
		}
		h, err := restoreMD5(sess.MD5State)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("%w: %v", apperr.ErrInternal, err)
		}
		h.Write(buf)
		if sess.MD5State, err = saveMD5(h); err != nil {
			return ChunkResult{}, fmt.Errorf("%w: %v", apperr.ErrInternal, err)
		}
		body = bytes.NewReader(buf)
	}

	partNumber := int32(in.ChunkNumber + 1)
	etag, err := a.objects.UploadPart(ctx, sess.BucketFilePath, sess.S3UploadID, partNumber, body)
	if err != nil {
		_ = a.objects.AbortMultipartUpload(ctx, sess.BucketFilePath, sess.S3UploadID)
		return ChunkResult{}, fmt.Errorf("%w: upload part %d: %v", apperr.ErrInternal, partNumber, err)
	}
	sess.UploadedParts = append(sess.UploadedParts, models.UploadedPart{PartNumber: partNumber, ETag: etag})
	if err := a.cache.Save(ctx, sess); err != nil {
		return ChunkResult{}, fmt.Errorf("%w: persist upload session: %v", apperr.ErrInternal, err)
	}

	if in.ChunkNumber != in.TotalChunks-1 {
		return ChunkResult{Status: StatusChunkReceived}, nil
	}

	if sess.ExpectedFileMD5 != "" {
		h, err := restoreMD5(sess.MD5State)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("%w: %v", apperr.ErrInternal, err)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != sess.ExpectedFileMD5 {
			_ = a.objects.AbortMultipartUpload(ctx, sess.BucketFilePath, sess.S3UploadID)
			_ = a.cache.Delete(ctx, in.UploadID)
			return ChunkResult{}, fmt.Errorf("%w: file checksum mismatch: expected %s, got %s", apperr.ErrValidation, sess.ExpectedFileMD5, got)
		}
	}

	if err := a.objects.CompleteMultipartUpload(ctx, sess.BucketFilePath, sess.S3UploadID, sess.UploadedParts); err != nil {
		_ = a.objects.AbortMultipartUpload(ctx, sess.BucketFilePath, sess.S3UploadID)
		return ChunkResult{}, fmt.Errorf("%w: complete multipart upload: %v", apperr.ErrInternal, err)
	}

	taskID := a.newID()
	now := a.now()
	task := &models.Task{
		TaskID:           taskID,
		FilePath:         sess.BucketFilePath,
		OriginalFileName: sess.OriginalFileName,
		Status:           models.TaskPending,
		Errors:           []models.RowError{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	event := &models.Event{
		ID:        a.newID(),
		EventName: models.EventNameTaskCreated,
		Event: models.EventEnvelope{
			EventName: models.EventNameTaskCreated,
			Payload: models.TaskCreatedPayload{
				TaskID:           taskID,
				FilePath:         sess.BucketFilePath,
				OriginalFileName: sess.OriginalFileName,
			},
		},
		Status:    models.EventNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateTaskAndEvent(ctx, task, event); err != nil {
		_ = a.objects.AbortMultipartUpload(ctx, sess.BucketFilePath, sess.S3UploadID)
		return ChunkResult{}, fmt.Errorf("%w: create task and event: %v", apperr.ErrInternal, err)
	}

	_ = a.cache.Delete(ctx, in.UploadID)
	return ChunkResult{TaskID: taskID}, nil
}

// SessionStatus reports how many chunks a still-live session has received,
// for the supplemental GET /v1/upload/:uploadId/status endpoint.
type SessionStatus struct {
	ReceivedChunks int
	TotalChunks    int
}

// Status looks up an in-flight session's progress.
func (a *Assembler) Status(ctx context.Context, uploadID string) (SessionStatus, error) {
	sess, err := a.cache.Get(ctx, uploadID)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("%w: upload session for %q: %v", apperr.ErrNotFound, uploadID, err)
	}
	return SessionStatus{ReceivedChunks: len(sess.UploadedParts), TotalChunks: sess.TotalChunks}, nil
}

// Abort cancels an in-flight multipart upload and drops the cached
// session, per the supplemental DELETE /v1/upload/:uploadId endpoint.
func (a *Assembler) Abort(ctx context.Context, uploadID string) error {
	sess, err := a.cache.Get(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("%w: upload session for %q: %v", apperr.ErrNotFound, uploadID, err)
	}
	if err := a.objects.AbortMultipartUpload(ctx, sess.BucketFilePath, sess.S3UploadID); err != nil {
		return fmt.Errorf("%w: abort multipart upload: %v", apperr.ErrInternal, err)
	}
	_ = a.cache.Delete(ctx, uploadID)
	return nil
}
