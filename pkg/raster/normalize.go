package raster

import "image"

// Normalize converts a sample buffer into an 8-bit RGB image.
//
// Single-band input is stretched band-wide to [0, 255] and replicated
// across the three channels. Input with three or more bands keeps its
// first three bands (anything further, such as alpha, is discarded);
// if the samples are already 8-bit they pass through unchanged,
// otherwise each band is stretched independently. A constant band has
// no range to stretch over and maps to zero.
func Normalize(buf *Buffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, buf.Width, buf.Height))

	if buf.Bands < 3 {
		normalizeGrey(buf, img)
		return img
	}

	for b := 0; b < 3; b++ {
		lo, hi := bandRange(buf, b)
		for y := 0; y < buf.Height; y++ {
			for x := 0; x < buf.Width; x++ {
				var v byte
				if buf.EightBit {
					v = byte(buf.At(b, y, x))
				} else {
					v = stretch(buf.At(b, y, x), lo, hi)
				}
				img.Pix[img.PixOffset(x, y)+b] = v
			}
		}
	}
	setOpaque(img)
	return img
}

func normalizeGrey(buf *Buffer, img *image.RGBA) {
	lo, hi := bandRange(buf, 0)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			v := stretch(buf.At(0, y, x), lo, hi)
			o := img.PixOffset(x, y)
			img.Pix[o] = v
			img.Pix[o+1] = v
			img.Pix[o+2] = v
		}
	}
	setOpaque(img)
}

func bandRange(buf *Buffer, b int) (lo, hi float64) {
	lo = buf.At(b, 0, 0)
	hi = lo
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			v := buf.At(b, y, x)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}

// stretch maps v from [lo, hi] onto [0, 255]. A degenerate range maps
// to zero rather than dividing by it.
func stretch(v, lo, hi float64) byte {
	if hi <= lo {
		return 0
	}
	s := (v - lo) * 255 / (hi - lo)
	if s < 0 {
		s = 0
	}
	if s > 255 {
		s = 255
	}
	return byte(s)
}

func setOpaque(img *image.RGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
