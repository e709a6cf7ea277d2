// Package blockwrite streams text into an object as a sequence of staged
// blocks committed in order.
package blockwrite

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/storage"
)

const (
	DefaultBlockSize   = 5 << 20
	MaxBlockSize       = 5 << 30
	DefaultContentType = "text/csv; charset=utf-8"

	terminator = "\r\n"
)

// Stager removes objects and opens staged block uploads.
type Stager interface {
	Remove(ctx context.Context, key string) error
	StageBlocks(ctx context.Context, key, contentType string) (storage.BlockUpload, error)
}

type Options struct {
	ContentType string
	// TerminatorsPresent means lines already end with their own terminator.
	TerminatorsPresent bool
}

type Result struct {
	Blocks int
	Bytes  int64
}

type Writer struct {
	store     Stager
	blockSize int
}

// New creates a writer. A zero blockSize selects DefaultBlockSize.
func New(store Stager, blockSize int) (*Writer, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < 0 || blockSize > MaxBlockSize {
		return nil, fmt.Errorf("block size %d out of range (0, %d]", blockSize, MaxBlockSize)
	}
	return &Writer{store: store, blockSize: blockSize}, nil
}

// BlockID derives the identifier of the block with sequence number seq.
func BlockID(seq uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seq)
	return base64.StdEncoding.EncodeToString(b[:])
}

// WriteLines replaces the object at key with lines joined by CRLF.
func (w *Writer) WriteLines(ctx context.Context, key string, lines []string, opts Options) (Result, error) {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	if err := w.store.Remove(ctx, key); err != nil {
		return Result{}, fmt.Errorf("remove existing %s: %w", key, err)
	}

	upload, err := w.store.StageBlocks(ctx, key, contentType)
	if err != nil {
		return Result{}, fmt.Errorf("stage %s: %w", key, err)
	}

	res, err := w.write(ctx, upload, lines, opts.TerminatorsPresent)
	if err != nil {
		if abortErr := upload.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			slog.WarnContext(ctx, "staged upload not aborted", "object_key", key, "error", abortErr)
		}
		return Result{}, fmt.Errorf("write %s: %w", key, err)
	}

	slog.InfoContext(ctx, "object written",
		"object_key", key,
		"blocks", res.Blocks,
		"bytes", res.Bytes,
	)
	return res, nil
}

func (w *Writer) write(ctx context.Context, upload storage.BlockUpload, lines []string, terminated bool) (Result, error) {
	var (
		pending = make([]byte, 0, min(w.blockSize, 1<<20))
		ids     []string
		total   int64
	)

	flush := func(chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := BlockID(uint32(len(ids)))
		if err := upload.PutBlock(ctx, id, chunk); err != nil {
			return fmt.Errorf("block %d: %w", len(ids), err)
		}
		ids = append(ids, id)
		total += int64(len(chunk))
		return nil
	}

	for i, line := range lines {
		pending = append(pending, line...)
		if !terminated && i < len(lines)-1 {
			pending = append(pending, terminator...)
		}
		for len(pending) >= w.blockSize {
			if err := flush(pending[:w.blockSize]); err != nil {
				return Result{}, err
			}
			pending = append(pending[:0], pending[w.blockSize:]...)
		}
	}
	if len(pending) > 0 {
		if err := flush(pending); err != nil {
			return Result{}, err
		}
	}

	if err := upload.Commit(ctx, ids); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	return Result{Blocks: len(ids), Bytes: total}, nil
}
