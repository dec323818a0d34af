package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"math"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxDimension bounds the longer edge of every image sent to the model
	DefaultMaxDimension = 1536
	// DefaultQuality is the JPEG compression quality as a 0..1 factor
	DefaultQuality = 0.6
)

// Image is a preprocessed, compressed image ready for transmission
type Image struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
}

// Base64 returns the transport encoding of the image bytes
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// RawImage is an image as captured or uploaded, before preprocessing
type RawImage struct {
	Data        []byte
	ContentType string
}

// PrepareOptions controls resizing and compression
type PrepareOptions struct {
	MaxDimension int
	Quality      float64
}

func (o PrepareOptions) withDefaults() PrepareOptions {
	if o.MaxDimension <= 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	return o
}

// Resize scales img down so its longer edge is at most maxDimension.
// Images that already fit are returned unchanged.
func Resize(img image.Image, maxDimension int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxDimension <= 0 || longest <= maxDimension {
		return img
	}

	scale := float64(maxDimension) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	if w >= h {
		nw = maxDimension
	} else {
		nh = maxDimension
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodeJPEG compresses img at quality (0..1)
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	q := int(math.Round(quality * 100))
	q = min(max(q, 1), 100)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("%w: encoding JPEG: %v", ErrInvalidImage, err)
	}
	return buf.Bytes(), nil
}

// Prepare decodes a captured image of any supported format, bounds its size
// and recompresses it as JPEG
func Prepare(data []byte, contentType string, opts PrepareOptions) (Image, error) {
	opts = opts.withDefaults()
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}

	img, err := decodeImage(data, contentType)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	img = Resize(img, opts.MaxDimension)
	encoded, err := EncodeJPEG(img, opts.Quality)
	if err != nil {
		return Image{}, err
	}

	b := img.Bounds()
	return Image{
		Data:      encoded,
		MediaType: "image/jpeg",
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// PrepareAll prepares images concurrently; results keep the input order
func PrepareAll(ctx context.Context, raws []RawImage, opts PrepareOptions) ([]Image, error) {
	images := make([]Image, len(raws))
	g, ctx := errgroup.WithContext(ctx)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Prepare(raw.Data, raw.ContentType, opts)
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

func decodeImage(data []byte, contentType string) (image.Image, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF")):
		return pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		// Go's standard image package doesn't support HEIC (common on iPhones)
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format, supported formats are JPEG, PNG, GIF, HEIC, HEIF, PDF: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF (a scanned grocery receipt or flyer)
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
