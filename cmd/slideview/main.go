// Command slideview opens a whole-slide image and prints its pyramid
// shape, exercising the engine the way coginfo exercises a single
// GeoTIFF reader.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cytoslide/slidecore/internal/engine"
	"github.com/cytoslide/slidecore/internal/region"
)

func main() {
	verbose := flag.Bool("v", false, "verbose engine logging")
	sample := flag.Bool("sample", false, "read a sample region from the highest-resolution level")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: slideview [-v] [-sample] <slide-path-or-dir>\n")
		os.Exit(1)
	}
	path := flag.Arg(0)

	e := engine.New(engine.Config{Verbose: *verbose})
	defer e.Close()

	h, err := e.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer e.Close(h)

	fmt.Printf("Path: %s\n", path)
	fmt.Printf("Backend: %s\n", h.Image.Backend)
	fmt.Printf("Full-res size: %d x %d\n", h.Image.WidthPixels, h.Image.HeightPixels)
	fmt.Printf("MPP: X=%f, Y=%f\n", h.Image.MPPX, h.Image.MPPY)
	fmt.Printf("Levels: %d\n", len(h.Image.Levels))

	for i, lvl := range h.Image.Levels {
		if !lvl.Exists {
			fmt.Printf("  level %d: absent\n", i)
			continue
		}
		fmt.Printf("  level %d: %dx%d tiles, tile size %dx%d, %dx%d px\n",
			i, lvl.TileCountX, lvl.TileCountY, lvl.TileWidth, lvl.TileHeight,
			lvl.WidthPixels(), lvl.HeightPixels())
	}

	if h.Image.Macro != nil {
		fmt.Printf("Macro image: %dx%d\n", h.Image.Macro.Width, h.Image.Macro.Height)
	}
	if h.Image.Label != nil {
		fmt.Printf("Label image: %dx%d\n", h.Image.Label.Width, h.Image.Label.Height)
	}

	if *sample {
		runSample(e, h)
	}
}

func runSample(e *engine.Engine, h *engine.Handle) {
	level := int32(-1)
	for i, lvl := range h.Image.Levels {
		if lvl.Exists {
			level = int32(i)
			break
		}
	}
	if level < 0 {
		fmt.Fprintf(os.Stderr, "no usable level to sample\n")
		return
	}

	const sampleSize = 64
	res, err := e.ReadRegion(h, level, 0, 0, sampleSize, sampleSize, region.PixelFormatBGRA)
	e.Drain()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ReadRegion sample: %v\n", err)
		return
	}
	fmt.Printf("Sample region: %dx%d, %d bytes, first pixel BGRA=%v\n",
		res.Width, res.Height, len(res.Pixel), res.Pixel[:min(4, len(res.Pixel))])
}
