// Package slideerr defines the shared error kinds every container reader,
// cache, and region reader reports against, per the engine's error
// propagation policy: a container-parsing problem never panics or aborts
// the process, it surfaces as one of these sentinels (wrapped with %w for
// the offending file/tile context) and the caller decides what to do.
package slideerr

import "errors"

var (
	// ErrIoError covers any failure reading bytes off local disk or a
	// remote chunk endpoint (short read, broken pipe, permission).
	ErrIoError = errors.New("slidecore: io error")

	// ErrShortRead means fewer bytes came back than were requested, and
	// the caller cannot make progress without the rest.
	ErrShortRead = errors.New("slidecore: short read")

	// ErrMalformedContainer covers structurally invalid TIFF/MRXS/DICOM
	// data: bad magic, truncated IFD, tag pointing outside the file.
	ErrMalformedContainer = errors.New("slidecore: malformed container")

	// ErrUnsupportedFormat is returned when a container is well-formed
	// but uses a feature this reader does not implement (an unsupported
	// compression scheme, a backend with no parser at all).
	ErrUnsupportedFormat = errors.New("slidecore: unsupported format")

	// ErrOutOfMemory is returned by the arena and block allocator when a
	// request cannot be satisfied within the configured budget.
	ErrOutOfMemory = errors.New("slidecore: out of memory")

	// ErrNotIndexed is returned when a level is flagged NeedsIndexing (its
	// tile grid has not been built) and indexing must be submitted before
	// the tile can load.
	ErrNotIndexed = errors.New("slidecore: level not indexed")

	// ErrClosed is returned by any operation on an Image or Handle whose
	// deletion is pending or already complete.
	ErrClosed = errors.New("slidecore: handle closed")

	// ErrUnsupportedConversion is returned when a region read asks for a
	// pixel format the region reader has no conversion path for.
	ErrUnsupportedConversion = errors.New("slidecore: unsupported pixel format conversion")
)
