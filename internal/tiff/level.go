package tiff

import (
	"math"
	"strings"
)

// classifiedIFDs separates a TIFF's directories into pyramid levels versus
// auxiliary macro/label images, per spec.md §4.4.a's classification
// rules: a directory is a pyramid level when it has nonzero width and
// height, is not flagged as a transparency mask (NewSubfileType bit 0x4)
// and is not identified as macro/label by ImageDescription. A directory
// is not required to be tiled to count as a level. Macro/label
// directories are recorded as auxiliary images; the rest are skipped.
type classifiedIFDs struct {
	levels      []int // indices into the original ifds slice, in descending-width order
	macroIdx    int   // -1 if absent
	labelIdx    int   // -1 if absent
}

func classifyIFDs(ifds []IFD) classifiedIFDs {
	result := classifiedIFDs{macroIdx: -1, labelIdx: -1}

	for i := range ifds {
		ifd := &ifds[i]
		desc := strings.ToLower(ifd.Description)

		switch {
		case strings.Contains(desc, "macro"):
			if result.macroIdx == -1 {
				result.macroIdx = i
			}
			continue
		case strings.Contains(desc, "label"):
			if result.labelIdx == -1 {
				result.labelIdx = i
			}
			continue
		case ifd.SubfileType&0x4 != 0: // transparency/reduced-image mask bit: not a viewable level
			continue
		}

		if ifd.Width == 0 || ifd.Height == 0 {
			continue
		}
		result.levels = append(result.levels, i)
	}

	// Order levels by descending width: index 0 is full resolution.
	for i := 1; i < len(result.levels); i++ {
		j := i
		for j > 0 && ifds[result.levels[j-1]].Width < ifds[result.levels[j]].Width {
			result.levels[j-1], result.levels[j] = result.levels[j], result.levels[j-1]
			j--
		}
	}

	// Resolve accidental duplicate-dimension entries (a scanner that wrote
	// the same level twice, or a thumbnail matching a level's size) by
	// keeping the entry whose tile count best matches its own declared
	// dimensions — the narrowest bounding interval, per the ambiguous-
	// level resolution rule: a correctly-tiled IFD's TilesAcross*TilesDown
	// matches the number of non-zero TileByteCounts, where a spurious
	// duplicate's tile bookkeeping won't line up.
	result.levels = resolveAmbiguousLevels(ifds, result.levels)

	return result
}

func resolveAmbiguousLevels(ifds []IFD, levels []int) []int {
	byWidth := make(map[uint32][]int)
	for _, idx := range levels {
		w := ifds[idx].Width
		byWidth[w] = append(byWidth[w], idx)
	}

	seen := make(map[uint32]bool)
	var out []int
	for _, idx := range levels {
		w := ifds[idx].Width
		if seen[w] {
			continue
		}
		seen[w] = true
		candidates := byWidth[w]
		if len(candidates) == 1 {
			out = append(out, candidates[0])
			continue
		}
		out = append(out, bestBoundedCandidate(ifds, candidates))
	}
	return out
}

// bestBoundedCandidate picks, among IFDs sharing one width, the one whose
// declared tile count is closest (by absolute difference, in either
// direction) to the number of non-zero tile byte counts actually present — the narrowest bounding
// interval, per spec.md's tile-count bounding rule. Ties resolve to
// declaration order (the first candidate), matching original_source's
// linear scan.
func bestBoundedCandidate(ifds []IFD, candidates []int) int {
	best := candidates[0]
	bestGap := -1
	for _, idx := range candidates {
		ifd := &ifds[idx]
		declared := ifd.TilesAcross() * ifd.TilesDown()
		present := 0
		for _, bc := range ifd.TileByteCounts {
			if bc > 0 {
				present++
			}
		}
		gap := declared - present
		if gap < 0 {
			gap = -gap
		}
		if bestGap == -1 || gap < bestGap {
			best = idx
			bestGap = gap
		}
	}
	return best
}

// mppFromIFD computes microns-per-pixel from XResolution/YResolution and
// ResolutionUnit, applying the ASAP-converter correction: some ASAP-based
// writers emit the X and Y mpp swapped relative to ImageWidth/ImageLength
// when the slide is portrait; if the swapped aspect ratio is strictly
// closer to the IFD's own width/height ratio than the unswapped one, the
// swap is applied.
func mppFromIFD(ifd *IFD) (mppX, mppY float64) {
	if ifd.XResolution <= 0 || ifd.YResolution <= 0 {
		return 0, 0
	}

	var unitsPerCM float64
	switch ifd.ResolutionUnit {
	case ResUnitCentimeter:
		unitsPerCM = 1.0
	case ResUnitInch:
		unitsPerCM = 1.0 / 2.54
	default:
		return 0, 0 // no calibrated unit: caller should fall back to per-backend default
	}

	// Resolution is pixels per unit; pixels per cm = that times units per cm.
	mppX = 10000.0 / (ifd.XResolution * unitsPerCM)
	mppY = 10000.0 / (ifd.YResolution * unitsPerCM)

	if ifd.Width == 0 || ifd.Height == 0 || mppY == 0 {
		return mppX, mppY
	}

	imageAspect := float64(ifd.Width) / float64(ifd.Height)
	mppAspect := mppY / mppX
	swappedAspect := mppX / mppY

	if absDiff(swappedAspect, imageAspect) < absDiff(mppAspect, imageAspect) {
		mppX, mppY = mppY, mppX
	}
	return mppX, mppY
}

// levelNumberForWidth computes the discrete pyramid level index a tiled IFD
// of levelWidth pixels occupies relative to the base (level 0) width, per
// spec.md §4.4.a: the direct computation is round(log2(base_width /
// level_width)), but container widths padded up to a tile multiple make
// this ambiguous at the smallest levels, so candidates around the direct
// value are bounded by this IFD's own tile-count interval (min_width =
// (width_in_tiles−1)×tile_width + 1; max_width = width_in_tiles ×
// tile_width) and the single candidate whose implied base-width/2^n falls
// in that interval wins. If zero or more than one candidate qualifies,
// the level number is still ambiguous and falls back to last_level + 1.
func levelNumberForWidth(baseWidth, levelWidth int64, widthInTiles, tileWidth int32, lastLevel int32) int32 {
	if levelWidth <= 0 || baseWidth <= 0 {
		return lastLevel + 1
	}

	minWidth, maxWidth := levelWidth, levelWidth
	if widthInTiles > 0 && tileWidth > 0 {
		minWidth = int64(widthInTiles-1)*int64(tileWidth) + 1
		maxWidth = int64(widthInTiles) * int64(tileWidth)
	}

	direct := math.Log2(float64(baseWidth) / float64(levelWidth))
	seen := make(map[int32]bool)
	var match int32
	matches := 0
	for _, n := range [3]int32{int32(math.Floor(direct)), int32(math.Round(direct)), int32(math.Ceil(direct))} {
		if n < 0 || seen[n] {
			continue
		}
		seen[n] = true
		impliedWidth := int64(math.Round(float64(baseWidth) / math.Pow(2, float64(n))))
		if impliedWidth >= minWidth && impliedWidth <= maxWidth {
			match = n
			matches++
		}
	}

	if matches == 1 {
		return match
	}
	return lastLevel + 1
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
