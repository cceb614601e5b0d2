package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCatalog means a descriptor was readable but yielded no symbols.
	ErrEmptyCatalog = errors.New("catalog is empty")
	// ErrUnknownSource means no extractor is registered for the descriptor source.
	ErrUnknownSource = errors.New("unknown catalog source")
	// ErrNoCatalogs means validation was requested before any catalog loaded.
	ErrNoCatalogs = errors.New("no catalogs loaded")
)

// CatalogLoadError reports a descriptor that could not be read or parsed.
// It is fatal to the load call only; previously loaded catalogs stay usable.
type CatalogLoadError struct {
	Descriptor Descriptor
	Err        error
}

func (e *CatalogLoadError) Error() string {
	return fmt.Sprintf("failed to load catalog %s: %v", e.Descriptor.Identity(), e.Err)
}

func (e *CatalogLoadError) Unwrap() error { return e.Err }

func loadError(d Descriptor, err error) error {
	return &CatalogLoadError{Descriptor: d, Err: err}
}
