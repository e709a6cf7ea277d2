package model

import (
	"strings"
	"time"
)

// Kind tags which naming convention produced a Descriptor.
type Kind string

const (
	KindInbound      Kind = "inbound"
	KindUISet        Kind = "ui-set"
	KindExchangeRate Kind = "exchange-rate"
	KindLanding      Kind = "landing"
	KindNonCurated   Kind = "non-curated"
)

// Descriptor is the typed result of classifying an object key. Fields are
// populated according to Kind; the rest stay zero.
type Descriptor struct {
	Kind Kind

	// FullURL is the exact key the descriptor was parsed from.
	FullURL                  string
	ContainerName            string
	Subfolder                string
	BottlerName              string
	PathInContainer          string
	Filename                 string
	FilenameWithoutExtension string

	BatchPrefix   string
	BatchDateTime time.Time

	// Filetype is e.g. "channel", "product", "transaction".
	Filetype string
	// FiletypePrefix is e.g. "offdisc", "volume".
	FiletypePrefix string
	FactType       string
}

// HasBatch reports whether the key carried a batch prefix and timestamp.
func (d Descriptor) HasBatch() bool {
	return d.BatchPrefix != "" && !d.BatchDateTime.IsZero()
}

// HasFactType reports whether a fact type was derived or resolved.
func (d Descriptor) HasFactType() bool {
	return d.FactType != ""
}

// ProcessingKey is the identifier mutual exclusion is scoped to.
// Batch files lock on their batch prefix; everything else locks on the
// file's location within its container.
func (d Descriptor) ProcessingKey() string {
	if d.BatchPrefix != "" {
		return d.BatchPrefix
	}
	parts := []string{d.ContainerName}
	if d.PathInContainer != "" {
		parts = append(parts, d.PathInContainer)
	}
	parts = append(parts, d.FilenameWithoutExtension)
	return strings.Join(parts, "/")
}
