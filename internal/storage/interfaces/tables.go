package interfaces

import (
	"context"

	"github.com/inferloop/ipdsynth/internal/models"
)

// Sheet is one persisted table: a header row and string cells.
type Sheet struct {
	Name   string     `json:"name"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Column returns the index of name in the header, -1 if absent.
func (s *Sheet) Column(name string) int {
	for i, h := range s.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// SheetStorage is a backend that can persist named sheets.
type SheetStorage interface {
	// WriteSheet replaces the sheet with the same name.
	WriteSheet(ctx context.Context, sheet *Sheet) error

	// ReadSheet returns the named sheet or an ErrArtifactNotFound error.
	ReadSheet(ctx context.Context, name string) (*Sheet, error)

	// Backend names the implementation for logs and metrics.
	Backend() string

	Close() error
}

// BundleWriter is implemented by backends that can replace every sheet of a bundle
// atomically. A failed WriteSheets leaves the previously written bundle readable.
type BundleWriter interface {
	WriteSheets(ctx context.Context, runID string, sheets []*Sheet) error
}

// Pinger is implemented by backends that can verify they are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArtifactStore persists and restores summary bundles.
type ArtifactStore interface {
	SaveBundle(ctx context.Context, bundle *models.Bundle) error
	LoadBundle(ctx context.Context) (*models.Bundle, error)
	Close() error
}
