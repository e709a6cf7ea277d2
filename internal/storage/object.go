package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when a key does not resolve to an object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is a fresh reference to a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// CopyState is the progress of a server-side copy.
type CopyState string

const (
	CopyPending CopyState = "pending"
	CopySuccess CopyState = "success"
	CopyFailed  CopyState = "failed"
	CopyAborted CopyState = "aborted"
)

// BlockUpload stages independently identified blocks and commits them as
// one object. PutBlock must not retain data after it returns.
// Implementations are not safe for concurrent use.
type BlockUpload interface {
	PutBlock(ctx context.Context, blockID string, data []byte) error
	Commit(ctx context.Context, blockIDs []string) error
	Abort(ctx context.Context) error
}
