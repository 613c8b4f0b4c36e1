package backend

import (
	"fmt"

	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
)

// isyntaxReader is a placeholder backend.Backend for Philips iSyntax
// slides. No iSyntax parser appears anywhere in the retrieved example
// pack to ground a real implementation against (iSyntax's tile index is
// a proprietary wavelet-coded directory, not a documented public
// format), so OpenISyntax fails with ErrUnsupportedFormat at open time
// and no isyntaxReader or Level is ever built; its methods exist only to
// satisfy Backend and each returns ErrUnsupportedFormat.
type isyntaxReader struct{}

var _ Backend = (*isyntaxReader)(nil)

// OpenISyntax always returns ErrUnsupportedFormat: recognizing the
// container is not the same as being able to decode it, and spec.md
// §4.4.c only asks that iSyntax be "sketched as a variant of the same
// contract", not implemented.
func OpenISyntax(path string) (*pyramid.Image, Backend, error) {
	return nil, nil, fmt.Errorf("%w: iSyntax decoding is not implemented", slideerr.ErrUnsupportedFormat)
}

func (r *isyntaxReader) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: iSyntax tile decode", slideerr.ErrUnsupportedFormat)
}

func (r *isyntaxReader) SubmitIndexing(level *pyramid.Level) error {
	return fmt.Errorf("%w: iSyntax level indexing", slideerr.ErrUnsupportedFormat)
}

func (r *isyntaxReader) Close() error { return nil }
