package caption

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"igsync/pkg/config"
	"igsync/pkg/logger"
	"igsync/pkg/metrics"
	"igsync/pkg/ratelimit"
)

const (
	resultTTL = 24 * time.Hour

	roleSystem = "system"
	roleUser   = "user"

	systemPrompt = `Você formata eventos a partir de legendas do Instagram.
Responda APENAS com um objeto JSON com as chaves "title", "description", "date" e "location".
- title: obrigatório, no máximo 60 caracteres, direto e chamativo. Se não identificar o evento use "Evento em @perfil".
- description: texto do evento com quebras de linha, mantendo preços, horários e contatos.
- date: data e hora do evento em ISO 8601 (YYYY-MM-DDTHH:mm:ss), 20h quando a hora não for informada, null se não houver data clara ou se já passou.
- location: estabelecimento ou endereço; null se não houver.`
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type llmFields struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Date        *string `json:"date"`
	Location    *string `json:"location"`
}

// LLM asks an OpenAI-compatible chat completion endpoint to extract the
// event fields and degrades to the heuristic transformer on any failure.
type LLM struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    ratelimit.Limiter
	memo       *cache.Cache
	fallback   *Fallback
	logger     logger.Logger
}

// LLMOption customises an LLM transformer
type LLMOption func(*LLM)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) LLMOption {
	return func(l *LLM) { l.httpClient = hc }
}

// WithLimiter replaces the request limiter
func WithLimiter(lim ratelimit.Limiter) LLMOption {
	return func(l *LLM) { l.limiter = lim }
}

// NewLLM creates an LLM transformer backed by fallback
func NewLLM(cfg config.CaptionConfig, fallback *Fallback, log logger.Logger, opts ...LLMOption) *LLM {
	if log == nil {
		log = logger.GetLogger()
	}
	if fallback == nil {
		fallback = NewFallback(time.UTC)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	l := &LLM{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		limiter:    ratelimit.NewRate(cfg.RequestsPerMinute),
		memo:       cache.New(resultTTL, 2*resultTTL),
		fallback:   fallback,
		logger:     log.WithField("component", "caption"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Transform implements Transformer
func (l *LLM) Transform(ctx context.Context, caption, username, ocrText string) Result {
	if strings.TrimSpace(caption) == "" && strings.TrimSpace(ocrText) == "" {
		return l.fallback.Transform(ctx, caption, username, ocrText)
	}

	key := memoKey(caption, username, ocrText)
	if cached, ok := l.memo.Get(key); ok {
		return cached.(Result)
	}

	res, err := l.complete(ctx, caption, username, ocrText)
	if err != nil {
		l.logger.WithError(err).Warn("Caption model unavailable, using heuristic transform")
		return l.fallback.Transform(ctx, caption, username, ocrText)
	}
	l.memo.Set(key, res, cache.DefaultExpiration)
	return res
}

func (l *LLM) complete(ctx context.Context, caption, username, ocrText string) (Result, error) {
	if l.apiKey == "" {
		return Result{}, errors.New("no API key configured")
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: roleSystem, Content: systemPrompt},
			{Role: roleUser, Content: l.prompt(caption, username, ocrText)},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	start := time.Now()
	resp, err := l.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("caption", "chat_completions", l.model, start, err)
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && resp.StatusCode >= 400 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("model API: %s", apiErr.Error.Message)
		} else {
			err = fmt.Errorf("model API returned status %d", resp.StatusCode)
		}
	}
	metrics.ObserveNetworkRequest("caption", "chat_completions", l.model, start, err)
	logger.LogRequest(l.logger, http.MethodPost, req.URL.Path, resp.StatusCode, time.Since(start))
	if err != nil {
		return Result{}, err
	}

	var completion chatResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, errors.New("empty choices in response")
	}
	return l.parse(completion.Choices[0].Message.Content, caption, username)
}

func (l *LLM) prompt(caption, username, ocrText string) string {
	var b strings.Builder
	b.WriteString("Legenda original:\n")
	b.WriteString(caption)
	if username != "" {
		fmt.Fprintf(&b, "\n\nPerfil do Instagram: @%s", username)
	}
	if strings.TrimSpace(ocrText) != "" {
		b.WriteString("\n\nTexto extraído da imagem (OCR):\n")
		b.WriteString(ocrText)
	}
	fmt.Fprintf(&b, "\n\nHoje: %s", l.fallback.now().In(l.fallback.loc).Format("2006-01-02"))
	return b.String()
}

// parse reads the model answer, tolerating markdown fences and chatter
// around the JSON object.
func (l *LLM) parse(content, caption, username string) (Result, error) {
	text := strings.TrimSpace(content)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.TrimSpace(strings.ReplaceAll(text, "```", ""))

	var fields llmFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		obj := jsonObject.FindString(text)
		if obj == "" {
			return Result{}, errors.New("no JSON object in model answer")
		}
		if err := json.Unmarshal([]byte(obj), &fields); err != nil {
			return Result{}, fmt.Errorf("decode model answer: %w", err)
		}
	}

	res := Result{
		Title:       strings.TrimSpace(fields.Title),
		Description: strings.TrimSpace(fields.Description),
	}
	if len([]rune(res.Title)) < 3 {
		res.Title = TitleFromCaption(caption, username)
	}
	if res.Description == "" {
		res.Description = strings.TrimSpace(caption)
	}
	if res.Description == "" {
		res.Description = NoDescription
	}
	if fields.Location != nil {
		res.Location = strings.TrimSpace(*fields.Location)
	}
	if fields.Date != nil {
		if t, ok := parseDate(*fields.Date, l.fallback.loc); ok {
			res.Date = &t
		} else {
			l.logger.WithField("date", *fields.Date).Debug("Ignoring unparseable event date")
		}
	}
	return res, nil
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts RFC 3339 or a local timestamp interpreted in loc
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			if layout == "2006-01-02" {
				t = t.Add(defaultHour * time.Hour)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func memoKey(caption, username, ocrText string) string {
	sum := sha256.Sum256([]byte(caption + "\x00" + username + "\x00" + ocrText))
	return hex.EncodeToString(sum[:])
}
