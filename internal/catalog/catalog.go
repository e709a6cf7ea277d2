// Package catalog resolves business taxonomy codes (source system, fact type,
// module, file type, field layout) for classified files.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
)

// ErrNotFound is returned (wrapped in a LookupError) when a lookup that must
// have a row comes back empty.
var ErrNotFound = errors.New("catalog row not found")

// LookupError identifies which lookup failed and for what input.
type LookupError struct {
	Lookup string
	Key    string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("catalog %s [%s]: %v", e.Lookup, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Lookup is the catalog surface the classifier and coordinator consume.
type Lookup interface {
	SourceSystemID(ctx context.Context, d model.Descriptor) (string, error)
	FactType(ctx context.Context, srcSysID, filename string) (string, error)
	ModuleFactType(ctx context.Context, srcSysID string) (string, error)
	ModuleID(ctx context.Context, srcSysID, filename string) (int, error)
	FileType(ctx context.Context, srcSysID string) (string, error)
	BottlerFileType(ctx context.Context, srcSysID, factType, fileMask string) (string, error)
	FieldSpecs(ctx context.Context, fileType, srcSysID, factType string) ([]model.FieldSpec, error)
}

func notFound(lookup, key string) error {
	return &LookupError{Lookup: lookup, Key: key, Err: ErrNotFound}
}
