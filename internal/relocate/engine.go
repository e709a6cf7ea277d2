// Package relocate moves or copies objects between folders of the same
// container using server-side copies, optional leases and one retry.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/storage"
)

var (
	ErrCopyFailed  = errors.New("copy failed")
	ErrPollTimeout = errors.New("copy did not complete before poll timeout")
)

const (
	DefaultPollInterval  = 250 * time.Millisecond
	DefaultPollTimeout   = 5 * time.Minute
	DefaultLeaseDuration = time.Minute

	maxAttempts = 2
)

// ObjectStore is the subset of object storage the engine drives.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	StartCopy(ctx context.Context, src, dst string) (storage.CopyState, error)
	CopyStatus(ctx context.Context, src, dst string) (storage.CopyState, error)
	AbortCopy(ctx context.Context, dst string) error
	Remove(ctx context.Context, key string) error
}

// Leaser grants exclusive, expiring leases on object keys.
type Leaser interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

type Mode int

const (
	Move Mode = iota
	Copy
)

func (m Mode) String() string {
	if m == Copy {
		return "copy"
	}
	return "move"
}

// ParseMode accepts "move" or "copy".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "move", "":
		return Move, nil
	case "copy":
		return Copy, nil
	}
	return Move, fmt.Errorf("unknown relocation mode %q", s)
}

type LeaseOptions struct {
	Duration time.Duration
	ID       string // lease token; a random one is generated when empty
}

type Options struct {
	Mode Mode
	// Rename maps the source file name to the destination file name. It wins
	// over CopyPrefix.
	Rename       func(name string) string
	CopyPrefix   string
	Lease        *LeaseOptions
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Outcome reports what happened to a single source.
type Outcome struct {
	Source        string
	Destination   string
	Copied        bool
	SourceDeleted bool
	Attempts      int
	Err           error
}

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

type Engine struct {
	store  ObjectStore
	leaser Leaser
}

// New creates an engine. leaser may be nil when no caller requests leases.
func New(store ObjectStore, leaser Leaser) *Engine {
	return &Engine{store: store, leaser: leaser}
}

// Relocate processes sources in order into destinationFolder, relative to each
// source's container. A failing source never stops the remaining ones.
func (e *Engine) Relocate(ctx context.Context, sources []string, destinationFolder string, opts Options) []Outcome {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	outcomes := make([]Outcome, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Source: src, Err: err})
			continue
		}

		out := e.relocateOne(ctx, src, destinationFolder, opts)
		if out.Err != nil {
			slog.ErrorContext(ctx, "relocation failed",
				"source", out.Source,
				"destination", out.Destination,
				"mode", opts.Mode.String(),
				"attempts", out.Attempts,
				"error", out.Err,
			)
		} else {
			slog.InfoContext(ctx, "object relocated",
				"source", out.Source,
				"destination", out.Destination,
				"mode", opts.Mode.String(),
				"attempts", out.Attempts,
				"source_deleted", out.SourceDeleted,
			)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (e *Engine) relocateOne(ctx context.Context, src, destinationFolder string, opts Options) Outcome {
	out := Outcome{Source: src}

	info, err := e.store.Stat(ctx, src)
	if err != nil {
		out.Err = fmt.Errorf("resolve source: %w", err)
		return out
	}

	dst, err := destinationKey(info.Key, destinationFolder, opts)
	if err != nil {
		out.Err = err
		return out
	}
	out.Destination = dst
	if dst == info.Key {
		out.Err = fmt.Errorf("destination %s equals source", dst)
		return out
	}

	if opts.Lease != nil {
		release, err := e.lease(ctx, []string{info.Key, dst}, *opts.Lease)
		if err != nil {
			out.Err = err
			return out
		}
		defer release()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		lastErr = e.copyOnce(ctx, info.Key, dst, opts)
		if lastErr == nil || ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			slog.WarnContext(ctx, "copy attempt failed, retrying",
				"source", info.Key,
				"destination", dst,
				"attempt", attempt,
				"error", lastErr,
			)
		}
	}
	if lastErr != nil {
		out.Err = fmt.Errorf("%w: %s to %s after %d attempt(s): %w", ErrCopyFailed, info.Key, dst, out.Attempts, lastErr)
		return out
	}
	out.Copied = true

	if opts.Mode == Move {
		if err := e.store.Remove(ctx, info.Key); err != nil {
			slog.WarnContext(ctx, "source not deleted after copy", "source", info.Key, "error", err)
		} else {
			out.SourceDeleted = true
		}
	}
	return out
}

// lease acquires leases on keys in order. The returned func releases them in
// reverse order and survives cancellation of ctx.
func (e *Engine) lease(ctx context.Context, keys []string, opts LeaseOptions) (func(), error) {
	if e.leaser == nil {
		return nil, errors.New("lease requested but no lease provider is configured")
	}
	token := opts.ID
	if token == "" {
		token = uuid.NewString()
	}
	ttl := opts.Duration
	if ttl <= 0 {
		ttl = DefaultLeaseDuration
	}

	var held []string
	release := func() {
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if err := e.leaser.Release(releaseCtx, held[i], token); err != nil {
				slog.WarnContext(ctx, "lease release failed", "object_key", held[i], "error", err)
			}
		}
	}

	for _, key := range keys {
		if err := e.leaser.Acquire(ctx, key, token, ttl); err != nil {
			release()
			return nil, fmt.Errorf("lease %s: %w", key, err)
		}
		held = append(held, key)
	}
	return release, nil
}

func (e *Engine) copyOnce(ctx context.Context, src, dst string, opts Options) error {
	state, err := e.store.StartCopy(ctx, src, dst)
	if err != nil {
		return err
	}
	switch state {
	case storage.CopySuccess:
		return nil
	case storage.CopyFailed, storage.CopyAborted:
		return fmt.Errorf("copy ended with state %s", state)
	}
	return e.waitForCopy(ctx, src, dst, opts)
}

// waitForCopy polls until the copy leaves the pending state. A timeout or
// cancellation aborts the pending copy.
func (e *Engine) waitForCopy(ctx context.Context, src, dst string, opts Options) error {
	pollCtx, cancel := context.WithTimeout(ctx, opts.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if err := e.store.AbortCopy(context.WithoutCancel(ctx), dst); err != nil {
				slog.WarnContext(ctx, "abort copy failed", "destination", dst, "error", err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrPollTimeout
		case <-ticker.C:
		}

		state, err := e.store.CopyStatus(pollCtx, src, dst)
		if err != nil {
			if pollCtx.Err() != nil {
				continue
			}
			return fmt.Errorf("copy status: %w", err)
		}

		switch state {
		case storage.CopySuccess:
			return nil
		case storage.CopyFailed, storage.CopyAborted:
			return fmt.Errorf("copy ended with state %s", state)
		default:
			slog.DebugContext(ctx, "copy not completed yet", "destination", dst, "state", string(state))
		}
	}
}

func destinationKey(src, destinationFolder string, opts Options) (string, error) {
	k, err := storage.ParseKey(src)
	if err != nil {
		return "", err
	}
	name := k.Name
	switch {
	case opts.Rename != nil:
		name = opts.Rename(name)
	case opts.Mode == Copy:
		name = opts.CopyPrefix + name
	}
	if name == "" {
		return "", fmt.Errorf("empty destination name for %s", src)
	}
	return storage.InFolder(src, destinationFolder, name)
}
