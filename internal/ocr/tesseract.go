package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"time"

	_ "image/jpeg"

	"github.com/otiai10/gosseract/v2"

	"timetablecal/internal/logger"
)

// TesseractService implements Service using a local Tesseract installation
// via the gosseract client. A fresh client is created per request; the CGO
// client is not safe for concurrent reuse.
type TesseractService struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseractService creates the default, locally-running OCR engine.
// Language hints are Tesseract trained-data names (e.g. "eng").
func NewTesseractService(languages []string) *TesseractService {
	return &TesseractService{
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

// ProcessImage extracts text from a timetable image.
func (t *TesseractService) ProcessImage(ctx context.Context, image io.Reader) (string, error) {
	result, err := t.ProcessImageWithMetadata(ctx, image)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ProcessImageWithMetadata extracts text with confidence metadata.
func (t *TesseractService) ProcessImageWithMetadata(ctx context.Context, img io.Reader) (*Result, error) {
	const op = "ProcessImageWithMetadata"
	startTime := time.Now()

	data, _, err := readImage(img)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, WrapOCRError(op, ErrContextCanceled, ctx.Err().Error())
	default:
	}

	// Grayscale improves recognition on photographed timetables.
	gray, err := grayscale(data)
	if err != nil {
		return nil, WrapOCRError(op, ErrUnsupportedImage, err.Error())
	}

	client := t.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(gray); err != nil {
		return nil, WrapOCRError(op, ErrEngineUnavailable, fmt.Sprintf("set image: %v", err))
	}
	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return nil, WrapOCRError(op, ErrEngineUnavailable, fmt.Sprintf("set languages: %v", err))
		}
	}
	// Timetables are a single uniform block of text; PSM 6 reads tables far
	// better than the default automatic segmentation.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, WrapOCRError(op, ErrEngineUnavailable, fmt.Sprintf("set page segmentation mode: %v", err))
	}

	text, err := client.Text()
	if err != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("tesseract recognition: %v", err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, WrapOCRError(op, ErrEmptyText, "")
	}

	confidence := wordConfidence(client)

	log := logger.WithComponent("ocr-tesseract")
	log.Debug().
		Int("text_length", len(text)).
		Float32("confidence", confidence).
		Msg("Tesseract recognition completed")

	return &Result{
		Text:               text,
		Confidence:         confidence,
		Engine:             "tesseract",
		ProcessedAt:        time.Now(),
		ProcessingDuration: time.Since(startTime),
	}, nil
}

// wordConfidence averages per-word confidence across the recognized page.
func wordConfidence(client *gosseract.Client) float32 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return float32(sum / float64(len(boxes)))
}

// grayscale decodes the image and re-encodes it as a grayscale PNG.
func grayscale(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, src.At(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode grayscale image: %w", err)
	}
	return buf.Bytes(), nil
}
