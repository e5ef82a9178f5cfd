// Package ocr extracts text from uploaded timetable images.
//
// Three engines are supported, selected via OCR_ENGINE:
//   - "tesseract" (default): local Tesseract via gosseract. Requires the
//     tesseract library and trained data to be installed on the host.
//   - "vision": Google Cloud Vision document text detection.
//   - "documentai": a Google Document AI OCR processor.
//
// The cloud engines read credentials from GOOGLE_APPLICATION_CREDENTIALS or
// GOOGLE_CREDENTIALS, like every other Google client in this repository.
//
// Limits:
//   - Maximum image size: 10MB
//   - Supported formats: PNG, JPEG, TIFF
package ocr

import (
	"context"
	"fmt"
	"io"
	"time"
)

// MaxImageSizeBytes is the maximum accepted upload size (10MB).
const MaxImageSizeBytes = 10 * 1024 * 1024

// Service defines the interface for OCR text extraction services.
type Service interface {
	// ProcessImage extracts text from a timetable image.
	ProcessImage(ctx context.Context, image io.Reader) (string, error)

	// ProcessImageWithMetadata extracts text with additional metadata such as
	// confidence scores and processing duration.
	ProcessImageWithMetadata(ctx context.Context, image io.Reader) (*Result, error)
}

// Result contains the results of OCR processing with metadata.
type Result struct {
	// Text is the extracted text content.
	Text string `json:"text"`

	// Confidence is the average confidence score across detected words
	// (0.0 to 1.0). Zero when the engine does not report confidence.
	Confidence float32 `json:"confidence"`

	// Engine names the engine that produced this result.
	Engine string `json:"engine"`

	// ProcessedAt is the timestamp when the OCR processing completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingDuration is how long the OCR processing took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// NewService builds the engine named by the configuration.
func NewService(ctx context.Context, engine string, languages []string) (Service, error) {
	switch engine {
	case "", "tesseract":
		return NewTesseractService(languages), nil
	case "vision":
		return NewGoogleVisionService(ctx)
	case "documentai":
		return NewDocumentAIService(ctx)
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", engine)
	}
}

// readImage reads and validates an uploaded image, returning the raw bytes
// and the detected MIME type.
func readImage(image io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return nil, "", WrapOCRError("readImage", err, "failed to read image data")
	}
	if len(data) > MaxImageSizeBytes {
		return nil, "", WrapOCRError("readImage", ErrImageTooLarge, fmt.Sprintf("image size: %d bytes", len(data)))
	}
	mime := detectImageMIME(data)
	if mime == "" {
		return nil, "", WrapOCRError("readImage", ErrUnsupportedImage, "not a PNG, JPEG, or TIFF image")
	}
	return data, mime, nil
}

// detectImageMIME sniffs the magic bytes of the supported image formats.
// Returns "" for anything else.
func detectImageMIME(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case data[0] == 'I' && data[1] == 'I' && data[2] == 0x2A && data[3] == 0x00:
		return "image/tiff"
	case data[0] == 'M' && data[1] == 'M' && data[2] == 0x00 && data[3] == 0x2A:
		return "image/tiff"
	}
	return ""
}
