package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/model"
)

// ReceiptArchiver persists confirmed receipts outside the process.
type ReceiptArchiver interface {
	Archive(ctx context.Context, r *model.Receipt) error
}

type objectPutter interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioArchive stores receipts as JSON objects in a MinIO/S3 bucket.
type MinioArchive struct {
	client objectPutter
	bucket string
}

func NewMinioArchive(cfg *config.MinioConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioArchive{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *MinioArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ObjectName is receipts/<transaction id>/<op hash>.json.
func ObjectName(r *model.Receipt) string {
	return fmt.Sprintf("receipts/%s/%s.json", r.TransactionID, r.OpHash)
}

func (a *MinioArchive) Archive(ctx context.Context, r *model.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	_, err = a.client.PutObject(ctx, a.bucket, ObjectName(r), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload receipt: %w", err)
	}
	return nil
}
