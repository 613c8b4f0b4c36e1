package mrxs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// sectionKind mirrors original_source's mrxs_section_enum: a running
// classification of whichever [Section] header the line scanner most
// recently saw, resolved against the hier/nonhier tables accumulated so
// far (HIERARCHICAL always precedes the sections it names, so a single
// forward pass suffices).
type sectionKind int

const (
	sectionUnknown sectionKind = iota
	sectionGeneral
	sectionHierarchical
	sectionDatafile
	sectionLayerN
	sectionLayerNLevelN
	sectionNonhierN
	sectionNonhierNLevelN
)

// parseSlidedat parses a Slidedat.ini file's bytes into a slidedat. It
// tolerates CRLF line endings and leading/trailing whitespace around
// keys and values, per spec.md §4.4.b.
func parseSlidedat(data []byte) (*slidedat, error) {
	sd := &slidedat{slideZoomHierIdx: -1}

	var cur sectionKind
	curLayer, curLevel := -1, -1

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			name := line[1:]
			if end := strings.IndexByte(name, ']'); end >= 0 {
				name = name[:end]
			}
			cur, curLayer, curLevel = classifySection(sd, name)
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		applyKeyValue(sd, cur, curLayer, curLevel, key, value)
	}

	if sd.indexDatFilename == "" || len(sd.datFilenames) == 0 {
		return nil, fmt.Errorf("%w: Slidedat.ini missing INDEXFILE or DATAFILE entries", slideerr.ErrMalformedContainer)
	}
	if sd.slideZoomHierIdx < 0 {
		return nil, fmt.Errorf("%w: Slidedat.ini has no \"Slide zoom level\" hier", slideerr.ErrMalformedContainer)
	}
	return sd, nil
}

// classifySection replicates mrxs_slidedat_ini_parse_section_name: the
// three fixed top-level sections match by name; everything else is
// matched against the section names recorded so far for each hier/
// nonhier layer and its values.
func classifySection(sd *slidedat, name string) (sectionKind, int, int) {
	switch {
	case strings.HasPrefix(name, "GENERAL"):
		return sectionGeneral, -1, -1
	case strings.HasPrefix(name, "HIERARCHICAL"):
		return sectionHierarchical, -1, -1
	case strings.HasPrefix(name, "DATAFILE"):
		return sectionDatafile, -1, -1
	}

	for i := range sd.hiers {
		h := &sd.hiers[i]
		if h.section != "" && h.section == name {
			return sectionLayerN, i, -1
		}
		for j := range h.vals {
			if h.vals[j].section == name {
				return sectionLayerNLevelN, i, j
			}
		}
	}
	for i := range sd.nonhiers {
		nh := &sd.nonhiers[i]
		if nh.section != "" && nh.section == name {
			return sectionNonhierN, i, -1
		}
		for j := range nh.vals {
			if nh.vals[j].section == name {
				return sectionNonhierNLevelN, i, j
			}
		}
	}
	return sectionUnknown, -1, -1
}

func ensureLevel(sd *slidedat, idx int) {
	for len(sd.levels) <= idx {
		sd.levels = append(sd.levels, levelInfo{})
	}
}

func applyKeyValue(sd *slidedat, section sectionKind, layer, level int, key, value string) {
	switch section {
	case sectionGeneral:
		switch key {
		case "IMAGENUMBER_X":
			sd.baseWidthInTiles = atoiSafe(value)
		case "IMAGENUMBER_Y":
			sd.baseHeightInTiles = atoiSafe(value)
		case "CURRENT_SLIDE_VERSION":
			major, minor, _ := strings.Cut(value, ".")
			sd.slideVersionMajor = atoiSafe(major)
			sd.slideVersionMinor = atoiSafe(minor)
		case "CameraImageDivisionsPerSide":
			sd.cameraDivisionsPerSide = atoiSafe(value)
		}

	case sectionHierarchical:
		applyHierarchical(sd, key, value)

	case sectionDatafile:
		switch {
		case key == "FILE_COUNT":
			sd.datFilenames = make([]string, atoiSafe(value))
		case strings.HasPrefix(key, "FILE_"):
			idx := atoiSafe(key[len("FILE_"):])
			if idx >= 0 && idx < len(sd.datFilenames) {
				sd.datFilenames[idx] = value
			}
		}

	case sectionLayerNLevelN:
		if layer < 0 || level < 0 {
			return
		}
		hv := &sd.hiers[layer].vals[level]
		if !hv.isZoomType {
			return
		}
		ensureLevel(sd, hv.zoomIndex)
		lv := &sd.levels[hv.zoomIndex]
		switch key {
		case "DIGITIZER_WIDTH":
			lv.tileWidth = atoiSafe(value)
		case "DIGITIZER_HEIGHT":
			lv.tileHeight = atoiSafe(value)
		case "MICROMETER_PER_PIXEL_X":
			lv.mppX = atofSafe(value)
		case "MICROMETER_PER_PIXEL_Y":
			lv.mppY = atofSafe(value)
		case "IMAGE_FILL_COLOR_BGR":
			lv.fillColorBGR = uint32(atoiSafe(value))
		case "IMAGE_FORMAT":
			lv.format = parseImageFormat(value)
		}

	case sectionNonhierNLevelN:
		// Thumbnail/barcode width/height/format are not needed to locate
		// their Index.dat record (that comes from the nonhier val's
		// section name matching this block); only the auxiliary rasters'
		// own decode (JPEG/PNG/BMP, dispatched from their record bytes)
		// matters, so no per-key handling is required here beyond section
		// classification already having run.
	}
}

func applyHierarchical(sd *slidedat, key, value string) {
	switch {
	case key == "INDEXFILE":
		sd.indexDatFilename = value
	case key == "HIER_COUNT":
		sd.hiers = make([]hier, atoiSafe(value))
	case key == "NONHIER_COUNT":
		sd.nonhiers = make([]nonhierLayer, atoiSafe(value))

	case strings.HasPrefix(key, "HIER_"):
		rest := key[len("HIER_"):]
		idx, part := splitFirstUnderscore(rest)
		i := atoiSafe(idx)
		if i < 0 || i >= len(sd.hiers) {
			return
		}
		h := &sd.hiers[i]
		switch {
		case part == "NAME":
			if value == "Slide zoom level" {
				sd.slideZoomHierIdx = i
				h.name = hierSlideZoomLevel
			} else if value == "Slide filter level" {
				h.name = hierSlideFilterLevel
			} else if value == "Microscope focus level" {
				h.name = hierMicroscopeFocusLevel
			} else if value == "Scan info layer" {
				h.name = hierScanInfoLayer
			}
		case part == "COUNT":
			h.vals = make([]hierVal, atoiSafe(value))
		case part == "SECTION":
			h.section = value
		case strings.HasPrefix(part, "VAL_"):
			vidx, vpart := splitFirstUnderscore(part[len("VAL_"):])
			v := atoiSafe(vidx)
			if v < 0 || v >= len(h.vals) {
				return
			}
			hv := &h.vals[v]
			if vpart == "" {
				hv.name = value
				if strings.HasPrefix(value, "ZoomLevel_") {
					hv.isZoomType = true
					hv.zoomIndex = atoiSafe(value[len("ZoomLevel_"):])
				}
			} else if vpart == "SECTION" {
				hv.section = value
				if hv.isZoomType {
					ensureLevel(sd, hv.zoomIndex)
				}
			}
		}

	case strings.HasPrefix(key, "NONHIER_"):
		rest := key[len("NONHIER_"):]
		idx, part := splitFirstUnderscore(rest)
		i := atoiSafe(idx)
		if i < 0 || i >= len(sd.nonhiers) {
			return
		}
		nh := &sd.nonhiers[i]
		switch {
		case part == "NAME":
			switch value {
			case "Scan data layer":
				nh.name = nonhierScanDataLayer
			case "StitchingLayer":
				nh.name = nonhierStitchingLayer
			case "StitchingIntensityLayer":
				nh.name = nonhierStitchingIntensityLayer
			case "VIMSLIDE_HISTOGRAM_DATA":
				nh.name = nonhierVimslideHistogram
			}
		case part == "COUNT":
			nh.vals = make([]nonhierVal, atoiSafe(value))
		case part == "SECTION":
			nh.section = value
		case strings.HasPrefix(part, "VAL_"):
			vidx, vpart := splitFirstUnderscore(part[len("VAL_"):])
			v := atoiSafe(vidx)
			if v < 0 || v >= len(nh.vals) {
				return
			}
			nv := &nh.vals[v]
			if vpart == "" {
				nv.name = value
				switch {
				case nh.name == nonhierScanDataLayer && value == "ScanDataLayer_SlideThumbnail":
					nv.kind = nonhierValSlideThumbnail
				case nh.name == nonhierScanDataLayer && value == "ScanDataLayer_SlideBarcode":
					nv.kind = nonhierValSlideBarcode
				case nh.name == nonhierStitchingIntensityLayer && value == "StitchingIntensityLevel":
					nv.kind = nonhierValStitchingIntensityLevel
				}
			} else if vpart == "SECTION" {
				nv.section = value
				switch nv.kind {
				case nonhierValSlideThumbnail:
					sd.thumbnailSection = value
				case nonhierValSlideBarcode:
					sd.barcodeSection = value
				}
			}
		}
	}
}

// splitFirstUnderscore splits "0_NAME" into ("0", "NAME") or "0" into
// ("0", ""), matching original_source's find_next_token(key, '_').
func splitFirstUnderscore(s string) (string, string) {
	i := strings.IndexByte(s, '_')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func atofSafe(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
