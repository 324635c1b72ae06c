// Package ocr extracts text printed on post images. Extraction is best
// effort: every failure yields an empty string.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"igsync/pkg/config"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
)

const maxImageSize = 10 << 20

// Extractor reads text from an image URL
type Extractor interface {
	Extract(ctx context.Context, imageURL string) string
}

// NopExtractor is used when no OCR endpoint is configured
type NopExtractor struct{}

// Extract always returns ""
func (NopExtractor) Extract(context.Context, string) string { return "" }

// New returns an HTTP extractor, or NopExtractor when cfg has no endpoint
func New(cfg config.OCRConfig, log logger.Logger) Extractor {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return NopExtractor{}
	}
	return NewHTTPExtractor(cfg, log)
}

// HTTPExtractor downloads the image and posts it to an OCR service as
// multipart form data.
type HTTPExtractor struct {
	endpoint   string
	apiKey     string
	language   string
	timeout    time.Duration
	httpClient *http.Client
	logger     logger.Logger
}

// NewHTTPExtractor creates an extractor for cfg.Endpoint
func NewHTTPExtractor(cfg config.OCRConfig, log logger.Logger) *HTTPExtractor {
	if log == nil {
		log = logger.GetLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lang := cfg.Language
	if lang == "" {
		lang = "por"
	}
	return &HTTPExtractor{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		language:   lang,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     log.WithField("component", "ocr"),
	}
}

// ocrResponse covers both a plain {"text": ...} answer and the
// OCR.space ParsedResults shape.
type ocrResponse struct {
	Text          string `json:"text"`
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	ErrorMessage          any  `json:"ErrorMessage"`
}

// Extract implements Extractor
func (e *HTTPExtractor) Extract(ctx context.Context, imageURL string) string {
	if imageURL == "" {
		return ""
	}
	log := e.logger.WithField("image", preview(imageURL))

	image, err := e.download(ctx, imageURL)
	if err != nil {
		log.WithError(err).Warn("Failed to download image for OCR")
		return ""
	}

	text, err := e.recognize(ctx, image, path.Base(strings.SplitN(imageURL, "?", 2)[0]))
	if err != nil {
		log.WithError(err).Warn("OCR request failed")
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug("No text found in image")
	} else {
		log.WithField("chars", len([]rune(text))).Debug("Extracted text from image")
	}
	return text
}

func (e *HTTPExtractor) download(ctx context.Context, imageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("ocr", "download", req.URL.Host, start, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err == nil && resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	if err == nil && len(data) > maxImageSize {
		err = fmt.Errorf("image larger than %d bytes", maxImageSize)
	}
	metrics.ObserveNetworkRequest("ocr", "download", req.URL.Host, start, err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (e *HTTPExtractor) recognize(ctx context.Context, image []byte, filename string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout*3)
	defer cancel()

	if filename == "" || filename == "." || filename == "/" {
		filename = "image.jpg"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("language", e.language); err != nil {
		return "", err
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(image); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("apikey", e.apiKey)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("ocr", "recognize", req.URL.Host, start, err)
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("OCR service returned status %d", resp.StatusCode)
	}
	metrics.ObserveNetworkRequest("ocr", "recognize", req.URL.Host, start, err)
	if err != nil {
		return "", err
	}

	var parsed ocrResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode OCR response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		return "", fmt.Errorf("OCR service error: %v", parsed.ErrorMessage)
	}
	if parsed.Text != "" {
		return parsed.Text, nil
	}
	parts := make([]string, 0, len(parsed.ParsedResults))
	for _, r := range parsed.ParsedResults {
		if t := strings.TrimSpace(r.ParsedText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func preview(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
