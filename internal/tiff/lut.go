package tiff

// paletteLUT is the fixed 30-entry color lookup table spec.md §6 defines
// for palettized LZW tiles: a high-contrast hue ramp with index 0
// reserved for black. This is part of the on-disk contract
// for such files (not the IFD's own ColorMap tag) — every palettized
// tile decodes through this exact table regardless of what a ColorMap
// entry might otherwise say.
var paletteLUT = [30][3]byte{
	{0, 0, 0}, {0, 224, 249}, {0, 249, 50}, {174, 249, 0}, {249, 100, 0},
	{249, 0, 125}, {149, 0, 249}, {0, 0, 206}, {0, 185, 206}, {0, 206, 41},
	{143, 206, 0}, {206, 82, 0}, {206, 0, 103}, {124, 0, 206}, {0, 0, 162},
	{0, 145, 162}, {0, 162, 32}, {114, 162, 0}, {162, 65, 0}, {162, 0, 81},
	{97, 0, 162}, {0, 0, 119}, {0, 107, 119}, {0, 119, 23}, {83, 119, 0},
	{119, 47, 0}, {119, 0, 59}, {71, 0, 119}, {100, 100, 249}, {100, 234, 249},
}

// isPaletteIFD reports whether an IFD's samples should route through
// paletteLUT: either a declared PhotometricInterpretation=3 (palette
// color), or the heuristic spec.md §4.4.a calls for — a 1-sample tile
// whose declared SMaxSampleValue is suspiciously small (< 64), which in
// practice means "this is a palette index column, not real grayscale".
func isPaletteIFD(ifd *IFD) bool {
	if ifd.Photometric == 3 {
		return true
	}
	spp := int(ifd.SamplesPerPixel)
	return (spp == 0 || spp == 1) && ifd.SMaxSampleValue > 0 && ifd.SMaxSampleValue < 64
}

// expandPaletteLUT maps each one-byte sample in band through paletteLUT
// into a BGRA output buffer, alpha fixed at 128 per spec.md §6 ("alpha=128
// at the time of look-up"). Indices ≥ 30 map to index 0 (black, at the
// same alpha 128 as every entry), matching the spec's "indices ≥ 30 map to 0" rule.
func expandPaletteLUT(band []byte, w, h int, out []byte) ([]byte, error) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			o := i * 4
			if i >= len(band) {
				continue
			}
			idx := int(band[i])
			if idx >= len(paletteLUT) {
				idx = 0
			}
			c := paletteLUT[idx]
			out[o+0] = c[2] // B
			out[o+1] = c[1] // G
			out[o+2] = c[0] // R
			out[o+3] = 128
		}
	}
	return out, nil
}
