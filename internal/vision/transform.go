package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// Decoders for uploads that did not arrive as JPEG.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/fauna/internal/config"
)

// maxSourcePixels bounds the images Transform will decode.
const maxSourcePixels = 100_000_000

var ErrImageTooLarge = errors.New("image dimensions exceed decode limit")

// Transform decodes an image, scales it down to fit within size (never enlarging),
// and re-encodes it as JPEG at size.Quality. Transparent areas are flattened onto white.
// The same input and size always produce the same bytes.
func Transform(data []byte, size config.ImageSize) ([]byte, error) {
	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if int64(hdr.Width)*int64(hdr.Height) > maxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, hdr.Width, hdr.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), size.MaxWidth, size.MaxHeight)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("image has empty bounds %v", b)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	quality := size.Quality
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FitWithin returns the largest dimensions with the source aspect ratio that fit
// in maxW x maxH without exceeding the source. A non-positive bound is ignored.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale >= 1 {
		return w, h
	}

	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
