package main

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/rs/zerolog/log"
)

// Archiver keeps a copy of every validated image.
type Archiver interface {
	Archive(ctx context.Context, jobID string, img *imageprep.Image) error
}

// ObjectPutter is the part of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Archiver stores images under scans/<yyyy>/<mm>/<jobId>/<filename>.
type s3Archiver struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

func newS3Archiver(client ObjectPutter, bucket string) *s3Archiver {
	return &s3Archiver{client: client, bucket: bucket, now: time.Now}
}

func (a *s3Archiver) key(jobID, filename string) string {
	return path.Join("scans", a.now().UTC().Format("2006/01"), jobID, path.Base(filename))
}

func (a *s3Archiver) Archive(ctx context.Context, jobID string, img *imageprep.Image) error {
	key := a.key(jobID, img.Filename)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img.Data),
		ContentType: aws.String(img.ContentType),
		Metadata:    map[string]string{"job-id": jobID},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	log.Debug().Str("jobId", jobID).Str("key", key).Int("bytes", len(img.Data)).Msg("Upload archived")
	return nil
}
