package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultProviderURL = "https://proverkacheka.com/api/v1/check/get"

var ErrTokenNotSet = errors.New("provider token is not set")

// Provider response codes.
const (
	codeSuccess     = 1
	codeWaitCheck   = 2
	codeCheckQueued = 4
)

// Client calls the receipt recognition provider. One call maps to one
// HTTP request bounded by the context deadline; retry policy belongs to
// the caller.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(token, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultProviderURL
	}

	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RecognizeByQR submits the raw QR string of a receipt.
func (c *Client) RecognizeByQR(ctx context.Context, qrRaw string) (Result, error) {
	if c.token == "" {
		return Result{}, ErrTokenNotSet
	}

	form := url.Values{}
	form.Set("token", c.token)
	form.Set("qrraw", qrRaw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.do(req, "qrraw", preview(qrRaw))
}

// RecognizeByFile submits a receipt photo for server-side QR detection.
func (c *Client) RecognizeByFile(ctx context.Context, filename string, image []byte) (Result, error) {
	if c.token == "" {
		return Result{}, ErrTokenNotSet
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("token", c.token); err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}
	part, err := writer.CreateFormFile("qrfile", filename)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	return c.do(req, "qrfile", filename)
}

func (c *Client) do(req *http.Request, kind, subject string) (Result, error) {
	log := c.logger.With("kind", kind, "subject", subject, "token_last4", last4(c.token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read provider response: %w", err)
	}

	var envelope struct {
		Code    json.Number     `json:"code"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	_ = json.Unmarshal(raw, &envelope)

	code, _ := envelope.Code.Int64()
	message := providerMessage(envelope.Data, envelope.Error, envelope.Message, raw)

	log.Debug("ответ провайдера", "status", resp.StatusCode, "code", code)

	if unauthorized(resp.StatusCode, int(code), message) {
		log.Error("провайдер отклонил токен", "code", code)
		return Result{Note: "Неверный или не передан токен proverkacheka", Raw: raw}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return Result{
			Note: fmt.Sprintf("provider http %d: %s", resp.StatusCode, message),
			Raw:  raw,
		}, nil
	}

	switch code {
	case codeSuccess:
		return extractResult(raw), nil
	case codeWaitCheck, codeCheckQueued:
		// The provider accepted the check but has not processed it yet.
		return Result{Retryable: true, Note: "чек ещё обрабатывается провайдером", Raw: raw}, nil
	default:
		return Result{
			Note: fmt.Sprintf("provider error code=%d: %s", code, message),
			Raw:  raw,
		}, nil
	}
}

func providerMessage(data json.RawMessage, errMsg, message string, raw []byte) string {
	var dataStr string
	if len(data) > 0 {
		_ = json.Unmarshal(data, &dataStr)
	}

	for _, candidate := range []string{dataStr, errMsg, message} {
		if candidate != "" {
			return candidate
		}
	}

	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}

func unauthorized(status, code int, message string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	if code == 401 || code == 403 {
		return true
	}
	return strings.Contains(strings.ToLower(message), "не авторизован")
}

func preview(qrRaw string) string {
	if len(qrRaw) > 20 {
		return qrRaw[:20] + "..."
	}
	return qrRaw
}

func last4(token string) string {
	if len(token) < 4 {
		return "N/A"
	}
	return token[len(token)-4:]
}
