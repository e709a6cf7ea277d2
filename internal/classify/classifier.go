// Package classify turns object keys into typed descriptors by matching them
// against the known folder and filename conventions.
package classify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
)

// Catalog is the subset of catalog lookups needed to finish parsing files
// whose name does not encode everything.
type Catalog interface {
	SourceSystemID(ctx context.Context, d model.Descriptor) (string, error)
	ModuleFactType(ctx context.Context, srcSysID string) (string, error)
	FileType(ctx context.Context, srcSysID string) (string, error)
}

type route struct {
	subfolder string
	ext       string
}

func newRoute(subfolder, ext string) route {
	return route{subfolder: strings.ToLower(subfolder), ext: strings.ToLower(strings.TrimPrefix(ext, "."))}
}

// Classifier is safe for concurrent use.
type Classifier struct {
	// fast holds precompiled variants, tried in order.
	fast    map[route][]variant
	special map[route]variant
	generic sync.Map // route -> *bottlerVariant
}

// New builds a Classifier. catalog may be nil, in which case fields that need
// a lookup are left empty.
func New(catalog Catalog) *Classifier {
	landingText := newFolderVariant(model.KindLanding, "landing-files", `[^/]+`, `csv|txt`)

	return &Classifier{
		fast: map[route][]variant{
			newRoute("inbound", "csv"): {newBottlerVariant("inbound", "csv")},
			newRoute("valid-set-files", "csv"): {
				newBottlerVariant("valid-set-files", "csv"),
				newUISetVariant(catalog),
			},
			newRoute("landing-files", "csv"):  {landingText},
			newRoute("landing-files", "txt"):  {landingText},
			newRoute("landing-files", "xlsx"): {newFolderVariant(model.KindLanding, "landing-files", `[^/]+`, `xlsx`)},
			newRoute("landing-files", "zip"):  {newFolderVariant(model.KindLanding, "landing-files", `[^/]+`, `zip`)},
			// '@' marks a file re-uploaded by the converter itself.
			newRoute("nsr-files", "csv"): {newFolderVariant(model.KindNonCurated, "nsr-files", `[^/@]+`, `csv`)},
		},
		special: map[route]variant{
			newRoute(exchangeRateFolder, "csv"): newExchangeRateVariant(catalog),
		},
	}
}

// Classify parses key as a file expected in expectedSubfolder with
// expectedExtension (without the leading dot). The boolean is false when no
// variant matches or a matching key fails its semantic checks. An error means
// the key matched but a catalog lookup needed to finish it failed.
func (c *Classifier) Classify(ctx context.Context, key, expectedSubfolder, expectedExtension string) (model.Descriptor, bool, error) {
	r := newRoute(expectedSubfolder, expectedExtension)

	if variants, ok := c.fast[r]; ok {
		return firstMatch(ctx, key, variants)
	}
	if v, ok := c.special[r]; ok {
		return firstMatch(ctx, key, []variant{v})
	}
	return firstMatch(ctx, key, []variant{c.genericVariant(r, expectedSubfolder)})
}

func firstMatch(ctx context.Context, key string, variants []variant) (model.Descriptor, bool, error) {
	for _, v := range variants {
		d, ok, err := v.match(ctx, key)
		switch {
		case errors.Is(err, errRejected):
			return model.Descriptor{}, false, nil
		case err != nil:
			return model.Descriptor{}, false, err
		case ok:
			return d, true, nil
		}
	}
	return model.Descriptor{}, false, nil
}

func (c *Classifier) genericVariant(r route, subfolder string) variant {
	if v, ok := c.generic.Load(r); ok {
		return v.(*bottlerVariant)
	}
	v, _ := c.generic.LoadOrStore(r, newBottlerVariant(subfolder, r.ext))
	return v.(*bottlerVariant)
}
