package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/mac-lisowski/mysmarthotel-task/internal/apperr"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
	"github.com/mac-lisowski/mysmarthotel-task/internal/sessioncache"
)

type fakeObjectStore struct {
	initiated bool
	aborted   bool
	completed bool
	parts     map[string][]models.UploadedPart
	failPart  bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{parts: map[string][]models.UploadedPart{}}
}

func (f *fakeObjectStore) InitiateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	f.initiated = true
	return "s3-upload-1", nil
}

func (f *fakeObjectStore) UploadPart(ctx context.Context, key, s3UploadID string, partNumber int32, body io.ReadSeeker) (string, error) {
	if f.failPart {
		return "", errors.New("boom")
	}
	return "etag-" + key, nil
}

func (f *fakeObjectStore) CompleteMultipartUpload(ctx context.Context, key, s3UploadID string, parts []models.UploadedPart) error {
	f.completed = true
	f.parts[key] = parts
	return nil
}

func (f *fakeObjectStore) AbortMultipartUpload(ctx context.Context, key, s3UploadID string) error {
	f.aborted = true
	return nil
}

type fakeCache struct {
	sessions map[string]models.UploadSession
}

func newFakeCache() *fakeCache { return &fakeCache{sessions: map[string]models.UploadSession{}} }

func (c *fakeCache) Save(ctx context.Context, sess models.UploadSession) error {
	c.sessions[sess.UploadID] = sess
	return nil
}

func (c *fakeCache) Get(ctx context.Context, uploadID string) (models.UploadSession, error) {
	sess, ok := c.sessions[uploadID]
	if !ok {
		return models.UploadSession{}, sessioncache.ErrSessionNotFound
	}
	return sess, nil
}

func (c *fakeCache) Delete(ctx context.Context, uploadID string) error {
	delete(c.sessions, uploadID)
	return nil
}

type fakeStore struct {
	tasks  []*models.Task
	events []*models.Event
}

func (s *fakeStore) CreateTaskAndEvent(ctx context.Context, task *models.Task, event *models.Event) error {
	s.tasks = append(s.tasks, task)
	s.events = append(s.events, event)
	return nil
}

func TestIngestChunkRejectsBadFileName(t *testing.T) {
	a := New(newFakeObjectStore(), newFakeCache(), &fakeStore{})
	_, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "bad name!.csv", TotalChunks: 1, ChunkNumber: 0,
		Body: bytes.NewReader(nil),
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestChunkRejectsChunkNumberOutOfRange(t *testing.T) {
	a := New(newFakeObjectStore(), newFakeCache(), &fakeStore{})
	_, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 3, ChunkNumber: 3,
		Body: bytes.NewReader(nil),
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for chunkNumber == totalChunks, got %v", err)
	}
}

func TestIngestChunkRejectsMissingSessionOnNonZeroChunk(t *testing.T) {
	a := New(newFakeObjectStore(), newFakeCache(), &fakeStore{})
	_, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 2, ChunkNumber: 1,
		UploadID: "missing", Body: bytes.NewReader(nil),
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing session, got %v", err)
	}
}

func TestIngestChunkSingleChunkCreatesTaskAndEvent(t *testing.T) {
	store := &fakeStore{}
	objects := newFakeObjectStore()
	a := New(objects, newFakeCache(), store)

	res, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 1, ChunkNumber: 0,
		UploadID: "u1", Body: bytes.NewReader([]byte("data")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TaskID == "" {
		t.Fatal("expected a taskId on the terminal chunk")
	}
	if !objects.completed {
		t.Fatal("expected multipart upload to be completed")
	}
	if len(store.tasks) != 1 || store.tasks[0].Status != models.TaskPending {
		t.Fatalf("expected exactly one PENDING task, got %+v", store.tasks)
	}
	if len(store.events) != 1 || store.events[0].Status != models.EventNew {
		t.Fatalf("expected exactly one NEW event, got %+v", store.events)
	}
}

func TestIngestChunkIntermediateChunkReturnsReceipt(t *testing.T) {
	store := &fakeStore{}
	a := New(newFakeObjectStore(), newFakeCache(), store)

	res, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 2, ChunkNumber: 0,
		UploadID: "u2", Body: bytes.NewReader([]byte("data")),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusChunkReceived || res.TaskID != "" {
		t.Fatalf("expected chunk_received with no taskId, got %+v", res)
	}
	if len(store.tasks) != 0 {
		t.Fatal("expected no task created before the terminal chunk")
	}
}

func TestIngestChunkAcceptsMatchingChecksumAcrossChunks(t *testing.T) {
	store := &fakeStore{}
	objects := newFakeObjectStore()
	a := New(objects, newFakeCache(), store)

	full := []byte("hello world, this is a two-chunk file")
	part1, part2 := full[:10], full[10:]
	sum := md5.Sum(full)
	want := hex.EncodeToString(sum[:])

	_, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 2, ChunkNumber: 0,
		UploadID: "u-md5", Body: bytes.NewReader(part1), FileMD5: want,
	})
	if err != nil {
		t.Fatalf("unexpected error on chunk 0: %v", err)
	}

	res, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 2, ChunkNumber: 1,
		UploadID: "u-md5", Body: bytes.NewReader(part2),
	})
	if err != nil {
		t.Fatalf("unexpected error on terminal chunk: %v", err)
	}
	if res.TaskID == "" {
		t.Fatal("expected a taskId once the checksum matches")
	}
	if !objects.completed {
		t.Fatal("expected multipart upload to be completed")
	}
	if objects.aborted {
		t.Fatal("did not expect an abort on a matching checksum")
	}
}

func TestIngestChunkRejectsMismatchedChecksum(t *testing.T) {
	store := &fakeStore{}
	objects := newFakeObjectStore()
	a := New(objects, newFakeCache(), store)

	_, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 1, ChunkNumber: 0,
		UploadID: "u-bad-md5", Body: bytes.NewReader([]byte("actual bytes")), FileMD5: "0000000000000000000000000000000000",
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for checksum mismatch, got %v", err)
	}
	if !objects.aborted {
		t.Fatal("expected multipart upload to be aborted on checksum mismatch")
	}
	if objects.completed {
		t.Fatal("did not expect completion on checksum mismatch")
	}
	if len(store.tasks) != 0 {
		t.Fatal("expected no task created on checksum mismatch")
	}
}

func TestIngestChunkAbortsOnPartFailure(t *testing.T) {
	objects := newFakeObjectStore()
	objects.failPart = true
	a := New(objects, newFakeCache(), &fakeStore{})

	_, err := a.IngestChunk(context.Background(), IngestChunkInput{
		MimeType: XLSXContentType, OriginalFileName: "sheet.xlsx", TotalChunks: 1, ChunkNumber: 0,
		UploadID: "u3", Body: bytes.NewReader([]byte("data")),
	})
	if !errors.Is(err, apperr.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !objects.aborted {
		t.Fatal("expected multipart upload to be aborted on part failure")
	}
}
