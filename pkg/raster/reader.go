package raster

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"
)

// Decode reads a TIFF, PNG or JPEG raster into a sample buffer. TIFF
// greyscale at 16 bits per sample keeps its full range so the contrast
// stretch has something to work with; everything else decodes to
// 8-bit samples.
func Decode(r io.Reader) (*Buffer, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("raster: read header: %w", err)
	}

	var img image.Image
	if bytes.Equal(magic, []byte("II*\x00")) || bytes.Equal(magic, []byte("MM\x00*")) {
		img, err = tiff.Decode(br)
	} else {
		img, _, err = image.Decode(br)
	}
	if err != nil {
		return nil, fmt.Errorf("raster: decode: %w", err)
	}

	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, fmt.Errorf("raster: empty image")
	}

	return fromImage(img), nil
}

func fromImage(img image.Image) *Buffer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		buf := NewBuffer(1, w, h)
		buf.EightBit = true
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf.Set(0, y, x, float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return buf
	case *image.Gray16:
		buf := NewBuffer(1, w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf.Set(0, y, x, float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return buf
	case *image.RGBA64, *image.NRGBA64:
		buf := NewBuffer(3, w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				buf.Set(0, y, x, float64(r))
				buf.Set(1, y, x, float64(g))
				buf.Set(2, y, x, float64(bl))
			}
		}
		return buf
	default:
		buf := NewBuffer(3, w, h)
		buf.EightBit = true
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				buf.Set(0, y, x, float64(r>>8))
				buf.Set(1, y, x, float64(g>>8))
				buf.Set(2, y, x, float64(bl>>8))
			}
		}
		return buf
	}
}

// Open decodes the raster at path and georeferences it. When bounds is
// nil the extent is read from an ESRI world file sidecar; pass an
// explicit bounds to override or when no sidecar exists.
func Open(path string, bounds *orb.Bound) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var box orb.Bound
	if bounds != nil {
		box = *bounds
	} else {
		box, err = readWorldFile(path, buf.Width, buf.Height)
		if err != nil {
			return nil, err
		}
	}
	if box.Max[1] < box.Min[1] || box.Max[0] < box.Min[0] {
		return nil, fmt.Errorf("%s: inverted bounding box", path)
	}

	return NewSource(buf, box), nil
}

// worldFileNames lists the sidecar candidates for a raster path, most
// specific extension first.
func worldFileNames(path string) []string {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.TrimSuffix(path, filepath.Ext(path))

	var names []string
	switch ext {
	case ".tif", ".tiff":
		names = append(names, stem+".tfw")
	case ".png":
		names = append(names, stem+".pgw")
	case ".jpg", ".jpeg":
		names = append(names, stem+".jgw")
	}
	return append(names, stem+".wld")
}

func readWorldFile(path string, width, height int) (orb.Bound, error) {
	for _, name := range worldFileNames(path) {
		f, err := os.Open(name)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return orb.Bound{}, err
		}
		defer f.Close()
		box, err := parseWorldFile(f, width, height)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%s: %w", name, err)
		}
		return box, nil
	}
	return orb.Bound{}, fmt.Errorf("%s: no world file found; supply an explicit bounding box", path)
}

// parseWorldFile reads the six-line ESRI world file format: pixel X
// size, two rotation terms (which must be zero, rotated rasters are
// not supported), negative pixel Y size, then the center of the
// top-left pixel. Values are interpreted as WGS84 degrees.
func parseWorldFile(r io.Reader, width, height int) (orb.Bound, error) {
	var vals []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bad world file line %q", line)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return orb.Bound{}, err
	}
	if len(vals) < 6 {
		return orb.Bound{}, fmt.Errorf("world file has %d values, want 6", len(vals))
	}

	px, rot1, rot2, py := vals[0], vals[1], vals[2], vals[3]
	cx, cy := vals[4], vals[5]
	if rot1 != 0 || rot2 != 0 {
		return orb.Bound{}, fmt.Errorf("rotated rasters are not supported")
	}
	if px <= 0 || py >= 0 {
		return orb.Bound{}, fmt.Errorf("unexpected pixel size %g, %g", px, py)
	}

	west := cx - px/2
	north := cy - py/2
	east := west + px*float64(width)
	south := north + py*float64(height)

	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}
