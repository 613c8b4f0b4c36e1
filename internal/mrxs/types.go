// Package mrxs reads 3DHISTECH MRXS slides: a directory containing
// Slidedat.ini (an INI file describing the hier/nonhier layer layout),
// one Index.dat (a paged table of byte-offset records), and a set of
// Data*.dat files holding the actual tile payloads. Parsing follows the
// three phases spec.md §4.4.b names: INI, Index.dat, then Data files.
package mrxs

type imageFormat int

const (
	imageFormatUnknown imageFormat = iota
	imageFormatJPEG
	imageFormatPNG
	imageFormatBMP
)

func parseImageFormat(value string) imageFormat {
	switch value {
	case "JPEG":
		return imageFormatJPEG
	case "PNG":
		return imageFormatPNG
	case "BMP24", "BMP":
		return imageFormatBMP
	default:
		return imageFormatUnknown
	}
}

type hierName int

const (
	hierUnknown hierName = iota
	hierSlideZoomLevel
	hierSlideFilterLevel
	hierMicroscopeFocusLevel
	hierScanInfoLayer
)

type nonhierName int

const (
	nonhierUnknown nonhierName = iota
	nonhierScanDataLayer
	nonhierStitchingLayer
	nonhierStitchingIntensityLayer
	nonhierVimslideHistogram
)

// nonhierValKind distinguishes the per-value role within a nonhier layer,
// enough to locate the stitching-intensity record and the thumbnail/
// barcode auxiliary rasters. Unrecognized values are kept (with an empty
// kind) so record-index bookkeeping stays aligned with the Index.dat
// record table, which carries one pointer per hier/nonhier value
// regardless of whether this reader interprets it.
type nonhierValKind int

const (
	nonhierValOther nonhierValKind = iota
	nonhierValSlideThumbnail
	nonhierValSlideBarcode
	nonhierValStitchingIntensityLevel
)

// hierVal is one value entry under a hier layer (HIER_n_VAL_m_*). Only
// the "Slide zoom level" hier's values matter for tile indexing; its
// values are named "ZoomLevel_<n>", and zoomIndex is that <n>, which is
// the authoritative level number (not necessarily val_index), matching
// original_source's hier_val->index.
type hierVal struct {
	name       string
	section    string
	isZoomType bool
	zoomIndex  int
}

type hier struct {
	name    hierName
	section string
	vals    []hierVal
}

type nonhierVal struct {
	name    string
	section string
	kind    nonhierValKind
}

type nonhierLayer struct {
	name    nonhierName
	section string
	vals    []nonhierVal
}

// levelInfo is the per-zoom-level metadata parsed out of a
// LAYER_n_LEVEL_m_SECTION block (spec.md §4.4.b's DIGITIZER_WIDTH/HEIGHT,
// MICROMETER_PER_PIXEL_X/Y, IMAGE_FILL_COLOR_BGR, IMAGE_FORMAT fields).
type levelInfo struct {
	tileWidth, tileHeight int
	mppX, mppY            float64
	fillColorBGR          uint32
	format                imageFormat

	widthInTiles, heightInTiles int
}

// slidedat holds everything parsed out of Slidedat.ini, keyed the way
// original_source's mrxs_t is: a flat hier/nonhier table plus a derived
// per-level array indexed by zoom level.
type slidedat struct {
	baseWidthInTiles, baseHeightInTiles int
	slideVersionMajor, slideVersionMinor int
	cameraDivisionsPerSide               int

	indexDatFilename string

	hiers             []hier
	nonhiers          []nonhierLayer
	slideZoomHierIdx  int

	levels []levelInfo

	datFilenames []string

	thumbnailSection, barcodeSection string
}
