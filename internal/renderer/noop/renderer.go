// Package noop provides an inert renderer for environments without a
// browser, such as smoke deployments and local API work.
package noop

import (
	"context"
	"fmt"

	"github.com/reviewlens/reviewlens/internal/scraper"
)

// Factory creates renderers that fail every render.
type Factory struct{}

// NewFactory creates a Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// NewRenderer implements scraper.RendererFactory.
func (Factory) NewRenderer(_ context.Context) (scraper.Renderer, error) {
	return renderer{}, nil
}

type renderer struct{}

func (renderer) Render(_ context.Context, url string) (string, error) {
	return "", fmt.Errorf("%w: no browser configured for %s", scraper.ErrRenderFailure, url)
}

func (renderer) Close() error {
	return nil
}
