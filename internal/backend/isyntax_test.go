package backend

import (
	"errors"
	"testing"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

func TestOpenISyntax_ReportsUnsupported(t *testing.T) {
	_, _, err := OpenISyntax("whatever.isyntax")
	if !errors.Is(err, slideerr.ErrUnsupportedFormat) {
		t.Errorf("OpenISyntax error = %v, want wrapping ErrUnsupportedFormat", err)
	}
}
