package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"submission-sync/internal/common/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client the file store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3FileStore keeps attachments as objects under <folder>/<name> in one bucket.
type S3FileStore struct {
	client S3API
	bucket string
	now    func() time.Time
}

func NewS3FileStore(client S3API, bucket string) (*S3FileStore, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 file store requires a client")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3 file store requires a bucket")
	}
	return &S3FileStore{client: client, bucket: bucket, now: time.Now}, nil
}

func (s *S3FileStore) Upload(ctx context.Context, folder, name string, content io.Reader, size int64) (FileHandle, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(folder, name)),
		Body:   content,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return FileHandle{}, classifyS3("upload "+name, err)
	}
	return FileHandle{Folder: folder, Name: name, Size: size, CreatedAt: s.now().UTC()}, nil
}

func (s *S3FileStore) ListOlderThan(ctx context.Context, folder string, age time.Duration) ([]FileHandle, error) {
	prefix := strings.TrimSuffix(folder, "/") + "/"
	cutoff := s.now().Add(-age)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var out []FileHandle
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3("list "+folder, err)
		}
		for _, obj := range page.Contents {
			modified := aws.ToTime(obj.LastModified)
			if modified.IsZero() || !modified.Before(cutoff) {
				continue
			}
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			out = append(out, FileHandle{
				Folder:    folder,
				Name:      name,
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: modified.UTC(),
			})
		}
	}
	return out, nil
}

func (s *S3FileStore) Delete(ctx context.Context, file FileHandle) (bool, error) {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(file.Folder, file.Name)),
	})
	if err != nil {
		classified := classifyS3("delete "+file.Name, err)
		if stderrors.Is(classified, errors.ErrNotFound) {
			return false, nil
		}
		return false, classified
	}
	return true, nil
}

func classifyS3(op string, err error) error {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %s: %s", errors.ErrUnauthorized, op, apiErr.ErrorMessage())
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s: %s", errors.ErrNotFound, op, apiErr.ErrorMessage())
		case "InvalidArgument", "InvalidRequest", "EntityTooLarge":
			return fmt.Errorf("%w: %s: %s", errors.ErrSchemaMismatch, op, apiErr.ErrorMessage())
		}
		return fmt.Errorf("%w: %s: %s: %s", errors.ErrTransient, op, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: %s: %v", errors.ErrTransient, op, err)
}
