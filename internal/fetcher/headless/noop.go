package headless

import (
	"context"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// Noop stands in for the renderer when headless browsing is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with harvest.ErrRendererDisabled.
func (Noop) Fetch(_ context.Context, request harvest.FetchRequest) (harvest.RawDocument, error) {
	return harvest.RawDocument{}, &harvest.PermanentFetchError{URL: request.URL, Err: harvest.ErrRendererDisabled}
}
