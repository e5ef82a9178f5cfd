package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// DocumentAIConfig carries the processor coordinates for Document AI.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// DocumentAIService implements Service using a Google Document AI OCR
// processor. Useful when a Document AI processor is already provisioned and
// Vision is not enabled on the project.
type DocumentAIService struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
}

// NewDocumentAIService creates a processor client with credentials from environment.
// Expects: GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
// Requires: GOOGLE_PROJECT_ID (or GOOGLE_CLOUD_PROJECT), GOOGLE_PROCESSOR_ID
// Optional: GOOGLE_LOCATION (defaults to "us")
func NewDocumentAIService(ctx context.Context) (Service, error) {
	const op = "NewDocumentAIService"

	config := DocumentAIConfig{
		ProjectID:        getEnvVar("GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		Location:         getEnvVar("GOOGLE_LOCATION", "GOOGLE_CLOUD_LOCATION"),
		ProcessorID:      getEnvVar("GOOGLE_PROCESSOR_ID", "DOCUMENT_AI_PROCESSOR_ID"),
		ProcessorVersion: os.Getenv("DOCUMENT_AI_PROCESSOR_VERSION"),
		Timeout:          60 * time.Second,
	}

	if config.ProjectID == "" {
		return nil, WrapOCRError(op, ErrMissingCredentials, "GOOGLE_PROJECT_ID or GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrMissingCredentials, "GOOGLE_PROCESSOR_ID is required for the documentai engine")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	var clientOptions []option.ClientOption

	// Regional endpoint for non-US processors
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(clientOptions) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIService{
		client: client,
		config: config,
	}, nil
}

// NewDocumentAIServiceWithConfig creates a service with explicit config and client (for testing).
func NewDocumentAIServiceWithConfig(config DocumentAIConfig, client *documentai.DocumentProcessorClient) Service {
	return &DocumentAIService{
		client: client,
		config: config,
	}
}

// ProcessImage extracts text from a timetable image.
func (d *DocumentAIService) ProcessImage(ctx context.Context, image io.Reader) (string, error) {
	result, err := d.ProcessImageWithMetadata(ctx, image)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ProcessImageWithMetadata extracts text from a timetable image with metadata.
func (d *DocumentAIService) ProcessImageWithMetadata(ctx context.Context, image io.Reader) (*Result, error) {
	const op = "ProcessImageWithMetadata"
	startTime := time.Now()

	data, mime, err := readImage(image)
	if err != nil {
		return nil, err
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mime,
			},
		},
	}

	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, d.handleProcessingError(op, err)
	}

	if resp.Document == nil || strings.TrimSpace(resp.Document.Text) == "" {
		return nil, WrapOCRError(op, ErrEmptyText, "")
	}

	return &Result{
		Text:               strings.TrimSpace(resp.Document.Text),
		Engine:             "documentai",
		ProcessedAt:        time.Now(),
		ProcessingDuration: time.Since(startTime),
	}, nil
}

// processorName constructs the full processor name for the Document AI API.
func (d *DocumentAIService) processorName() string {
	if d.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			d.config.ProjectID, d.config.Location, d.config.ProcessorID, d.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// handleProcessingError converts Document AI errors to OCR errors.
func (d *DocumentAIService) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapOCRError(op, ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"):
		return WrapOCRError(op, ErrEngineUnavailable, fmt.Sprintf("processor not found: %s", d.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapOCRError(op, ErrUnsupportedImage, "image format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return WrapOCRError(op, context.DeadlineExceeded, "processing timeout")
	case strings.Contains(errStr, "Canceled") || strings.Contains(errStr, "context canceled"):
		return WrapOCRError(op, ErrContextCanceled, "processing was canceled")
	default:
		return WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// Close closes the underlying Document AI client.
func (d *DocumentAIService) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// getEnvVar tries multiple environment variable names and returns the first non-empty value
func getEnvVar(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}
