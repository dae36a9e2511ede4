// Package objectstore is the Object Store (C2): a multipart-capable S3
// client wrapper (init/part/complete/abort + get-stream), with the
// transient-5xx retry policy from spec.md §7 (3 attempts, base 1s, cap 5s,
// +-25% jitter) applied around every call.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

// Client is the handle to the object store. Grounded on the teacher's own
// aws-sdk-go-v2 client-construction pattern (internal/store/dynamo.go),
// repointed at S3 for multipart uploads instead of DynamoDB items.
type Client struct {
	s3     *s3.Client
	bucket string
	retry  RetryPolicy
}

// RetryPolicy is spec.md §7's transient-infrastructure backoff, exposed as
// a value so tests can shrink it to run instantly.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	JitterFrac  float64
}

// DefaultRetryPolicy is spec.md's literal parameters: 3 attempts, base 1s,
// cap 5s, +-25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 5 * time.Second, JitterFrac: 0.25}
}

// New constructs a Client from explicit credentials/region/endpoint, the
// way an object-store-compatible deployment (self-hosted S3, MinIO) needs
// to override the default AWS resolver chain.
func New(ctx context.Context, accessKeyID, secretAccessKey, region, endpoint, bucket string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(staticCredentials(accessKeyID, secretAccessKey)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{s3: client, bucket: bucket, retry: DefaultRetryPolicy()}, nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProviderFunc {
	return func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}, nil
	}
}

// InitiateMultipartUpload starts a multipart upload at key and returns the
// s3UploadId the UploadSession will carry.
func (c *Client) InitiateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	var uploadID string
	err := withRetry(ctx, c.retry, func() error {
		out, err := c.s3.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return err
		}
		uploadID = aws.ToString(out.UploadId)
		return nil
	})
	return uploadID, err
}

// UploadPart uploads one chunk as partNumber, returning the ETag S3 hands
// back. Idempotent per part: a retried upload of the same part number
// simply overwrites the prior ETag.
func (c *Client) UploadPart(ctx context.Context, key, s3UploadID string, partNumber int32, body io.ReadSeeker) (string, error) {
	var etag string
	err := withRetry(ctx, c.retry, func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		out, err := c.s3.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(s3UploadID),
			PartNumber: aws.Int32(partNumber),
			Body:       body,
		})
		if err != nil {
			return err
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	return etag, err
}

// CompleteMultipartUpload finalizes the object from the given parts,
// sorted by PartNumber ascending regardless of the order they arrived in
// (spec.md §4.1: "chunk arrival order is arbitrary; multipart completion
// re-sorts by part number").
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, s3UploadID string, parts []models.UploadedPart) error {
	sorted := sortedParts(parts)
	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{PartNumber: aws.Int32(p.PartNumber), ETag: aws.String(p.ETag)}
	}
	return withRetry(ctx, c.retry, func() error {
		_, err := c.s3.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(c.bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(s3UploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		return err
	})
}

// AbortMultipartUpload releases a partially-uploaded object's parts. The
// assembler calls it best-effort when a part upload, the checksum check,
// completion, or the Task+Event commit fails, and discards its error; the
// explicit abort endpoint (Assembler.Abort) returns the error.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, s3UploadID string) error {
	return withRetry(ctx, c.retry, func() error {
		_, err := c.s3.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(s3UploadID),
		})
		return err
	})
}

// GetStream opens a streaming reader over the completed object, used by
// the processor to download the artifact for XLSX decoding without
// buffering the whole file through the object-store client twice.
func (c *Client) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := withRetry(ctx, c.retry, func() error {
		out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	return body, err
}

func sortedParts(parts []models.UploadedPart) []models.UploadedPart {
	out := make([]models.UploadedPart, len(parts))
	copy(out, parts)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].PartNumber > out[j].PartNumber; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// withRetry applies RetryPolicy's exponential backoff with jitter around
// op, matching spec.md §7's object-store retry contract exactly.
func withRetry(ctx context.Context, p RetryPolicy, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			d := backoffDelay(p, attempt)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := op(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("object store operation failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// backoffDelay computes base * 2^(attempt-1), capped, with +-jitterFrac
// jitter applied multiplicatively.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	d := p.Base << (attempt - 1)
	if d > p.Cap {
		d = p.Cap
	}
	jitter := 1 + (rand.Float64()*2-1)*p.JitterFrac
	return time.Duration(float64(d) * jitter)
}
