package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements object storage using MinIO. The first segment of
// every key is the bucket.
type MinIOClient struct {
	client *minio.Client
	core   *minio.Core
}

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string // e.g., "localhost:9000"
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// NewMinIOClient creates a new MinIO storage client. Buckets belong to the
// event source and are never created here.
func NewMinIOClient(cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOClient{
		client: client,
		core:   &minio.Core{Client: client},
	}, nil
}

// Put stores an object in MinIO.
func (m *MinIOClient) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = m.client.PutObject(ctx, bucket, object, reader, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to minio: %w", err)
	}

	return nil
}

// Stat resolves a fresh reference to key.
func (m *MinIOClient) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := m.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return toObjectInfo(bucket, info), nil
}

// List returns every object whose key starts with prefix.
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	bucket, objectPrefix, ok := strings.Cut(strings.TrimPrefix(prefix, "/"), "/")
	if !ok && bucket == "" {
		return nil, fmt.Errorf("invalid prefix %q: want container/...", prefix)
	}

	var out []ObjectInfo
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: objectPrefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		out = append(out, toObjectInfo(bucket, info))
	}
	return out, nil
}

// StartCopy issues a server-side copy of src to dst. MinIO copies
// synchronously, so a nil error leaves the copy pending verification by
// CopyStatus.
func (m *MinIOClient) StartCopy(ctx context.Context, src, dst string) (CopyState, error) {
	srcBucket, srcObject, err := SplitKey(src)
	if err != nil {
		return CopyFailed, err
	}
	dstBucket, dstObject, err := SplitKey(dst)
	if err != nil {
		return CopyFailed, err
	}

	_, err = m.client.ComposeObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstObject},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcObject},
	)
	if err != nil {
		return CopyFailed, fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return CopyPending, nil
}

// CopyStatus reports success once dst is visible with the size (and, for
// single-part objects, the ETag) of src.
func (m *MinIOClient) CopyStatus(ctx context.Context, src, dst string) (CopyState, error) {
	target, err := m.Stat(ctx, dst)
	if errors.Is(err, ErrObjectNotFound) {
		return CopyPending, nil
	}
	if err != nil {
		return CopyPending, err
	}
	source, err := m.Stat(ctx, src)
	if errors.Is(err, ErrObjectNotFound) {
		return CopyFailed, nil
	}
	if err != nil {
		return CopyPending, err
	}

	if target.Size != source.Size {
		return CopyFailed, nil
	}
	if !isMultipartETag(source.ETag) && !isMultipartETag(target.ETag) && source.ETag != target.ETag {
		return CopyFailed, nil
	}
	return CopySuccess, nil
}

// AbortCopy removes whatever a failed or abandoned copy left at dst.
func (m *MinIOClient) AbortCopy(ctx context.Context, dst string) error {
	return m.Remove(ctx, dst)
}

// Remove deletes key. A missing object is not an error.
func (m *MinIOClient) Remove(ctx context.Context, key string) error {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// StageBlocks starts a staged upload to key. Blocks map to multipart parts in
// the order they are put; every block except the last must be at least 5 MiB.
func (m *MinIOClient) StageBlocks(ctx context.Context, key, contentType string) (BlockUpload, error) {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return nil, err
	}
	return &minioBlockUpload{
		client:      m,
		bucket:      bucket,
		object:      object,
		contentType: contentType,
		parts:       make(map[string]minio.CompletePart),
	}, nil
}

type minioBlockUpload struct {
	client      *MinIOClient
	bucket      string
	object      string
	contentType string
	uploadID    string
	parts       map[string]minio.CompletePart
}

func (u *minioBlockUpload) PutBlock(ctx context.Context, blockID string, data []byte) error {
	if u.uploadID == "" {
		id, err := u.client.core.NewMultipartUpload(ctx, u.bucket, u.object, minio.PutObjectOptions{ContentType: u.contentType})
		if err != nil {
			return fmt.Errorf("start staged upload %s/%s: %w", u.bucket, u.object, err)
		}
		u.uploadID = id
	}

	partNumber := len(u.parts) + 1
	if existing, ok := u.parts[blockID]; ok {
		partNumber = existing.PartNumber
	}

	part, err := u.client.core.PutObjectPart(ctx, u.bucket, u.object, u.uploadID, partNumber,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return fmt.Errorf("put block %s: %w", blockID, err)
	}
	u.parts[blockID] = minio.CompletePart{PartNumber: partNumber, ETag: part.ETag}
	return nil
}

func (u *minioBlockUpload) Commit(ctx context.Context, blockIDs []string) error {
	if len(blockIDs) == 0 {
		if err := u.Abort(ctx); err != nil {
			return err
		}
		return u.client.Put(ctx, JoinKey(u.bucket, u.object), bytes.NewReader(nil), u.contentType)
	}

	parts := make([]minio.CompletePart, 0, len(blockIDs))
	for _, id := range blockIDs {
		part, ok := u.parts[id]
		if !ok {
			return fmt.Errorf("commit %s/%s: unknown block %q", u.bucket, u.object, id)
		}
		if n := len(parts); n > 0 && parts[n-1].PartNumber >= part.PartNumber {
			return fmt.Errorf("commit %s/%s: block %q out of order", u.bucket, u.object, id)
		}
		parts = append(parts, part)
	}

	_, err := u.client.core.CompleteMultipartUpload(ctx, u.bucket, u.object, u.uploadID, parts,
		minio.PutObjectOptions{ContentType: u.contentType})
	if err != nil {
		return fmt.Errorf("commit %s/%s: %w", u.bucket, u.object, err)
	}
	u.uploadID = ""
	return nil
}

func (u *minioBlockUpload) Abort(ctx context.Context) error {
	if u.uploadID == "" {
		return nil
	}
	if err := u.client.core.AbortMultipartUpload(ctx, u.bucket, u.object, u.uploadID); err != nil {
		return fmt.Errorf("abort staged upload %s/%s: %w", u.bucket, u.object, err)
	}
	u.uploadID = ""
	slog.DebugContext(ctx, "staged upload aborted", "bucket", u.bucket, "object", u.object)
	return nil
}

func toObjectInfo(bucket string, info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          JoinKey(bucket, info.Key),
		Size:         info.Size,
		ETag:         strings.Trim(info.ETag, `"`),
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func isMultipartETag(etag string) bool {
	return strings.Contains(etag, "-")
}
