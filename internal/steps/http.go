package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/telemetry"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// HTTPError — неуспешный HTTP ответ внешней системы.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// httpCaller выполняет JSON вызовы внешних систем с retry.
// Общий для call_rating_engine, call_external_api и удалённого call_orchestrator.
type httpCaller struct {
	client   *http.Client
	stepType domain.StepType
}

func newHTTPCaller(client *http.Client, stepType domain.StepType) *httpCaller {
	if client == nil {
		client = &http.Client{}
	}
	return &httpCaller{client: client, stepType: stepType}
}

// callSpec — отрендеренные параметры одного вызова.
type callSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Timeout time.Duration
	Retry   *domain.RetryPolicy
}

// specFromConfig строит callSpec из HTTPCallConfig, подставляя шаблоны в URL и заголовки.
func specFromConfig(cfg *domain.HTTPCallConfig, req *Request) (*callSpec, error) {
	tc := req.TemplateContext()

	url, err := engine.Render(cfg.URL, tc)
	if err != nil {
		return nil, domain.NewStepError(domain.KindConfig, "url", "render url", err)
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		rendered, err := engine.Render(v, tc)
		if err != nil {
			return nil, domain.NewStepError(domain.KindConfig, "headers."+k, "render header", err)
		}
		headers[k] = rendered
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	return &callSpec{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    requestBody(req.Doc, cfg.RequestPath),
		Timeout: timeoutOf(cfg.TimeoutMs),
		Retry:   cfg.Retry,
	}, nil
}

// requestBody возвращает поддерево документа для отправки.
func requestBody(doc map[string]any, path string) any {
	if path == "" {
		return doc
	}
	v, _ := engine.Get(doc, path)
	return v
}

func timeoutOf(ms int) time.Duration {
	if ms <= 0 {
		return defaultHTTPTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// Do выполняет вызов с повторами по политике.
// Исчерпание попыток — ошибка external_call.
func (c *httpCaller) Do(ctx context.Context, spec *callSpec) (any, error) {
	logger := telemetry.FromContext(ctx)
	attempts := maxAttempts(spec.Retry)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, status, err := c.once(ctx, spec)
		if err == nil {
			telemetry.ExternalCallAttempts.WithLabelValues(string(c.stepType), "ok").Inc()
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, domain.NewStepError(domain.KindCancelled, "", "external call cancelled", ctx.Err())
		}

		telemetry.ExternalCallAttempts.WithLabelValues(string(c.stepType), "error").Inc()
		lastErr = err

		var callErr error
		if status == 0 {
			callErr = err
		}
		if attempt == attempts || !shouldRetry(status, callErr, spec.Retry) {
			break
		}

		delay := calculateBackoff(attempt, spec.Retry)
		logger.Debug("retrying external call",
			slog.String("url", spec.URL),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, domain.NewStepError(domain.KindCancelled, "", "external call cancelled", err)
		}
	}

	return nil, domain.NewStepError(domain.KindExternalCall, "", fmt.Sprintf("%s %s", spec.Method, spec.URL), lastErr)
}

// once выполняет одну попытку. status == 0 означает сетевую ошибку.
func (c *httpCaller) once(ctx context.Context, spec *callSpec) (any, int, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	httpReq, err := buildRequest(ctx, spec)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	return parseResponse(resp)
}

// buildRequest создаёт HTTP запрос.
func buildRequest(ctx context.Context, spec *callSpec) (*http.Request, error) {
	var bodyReader io.Reader
	contentType := "application/json"
	if spec.Body != nil && spec.Method != http.MethodGet {
		// Строка (например, SOAP envelope после format_transform) уходит как есть
		if s, ok := spec.Body.(string); ok {
			bodyReader = strings.NewReader(s)
			contentType = "text/plain"
			if strings.HasPrefix(strings.TrimSpace(s), "<") {
				contentType = "text/xml"
			}
		} else {
			data, err := json.Marshal(spec.Body)
			if err != nil {
				return nil, fmt.Errorf("serialize body: %w", err)
			}
			bodyReader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if id := telemetry.CorrelationID(ctx); id != "" && req.Header.Get("x-correlation-id") == "" {
		req.Header.Set("x-correlation-id", id)
	}
	return req, nil
}

// parseResponse читает ответ. Не-2xx превращается в HTTPError.
func parseResponse(resp *http.Response) (any, int, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(data),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, resp.StatusCode, nil
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		// Не JSON — возвращаем как строку
		return string(data), resp.StatusCode, nil
	}
	return body, resp.StatusCode, nil
}

// placeResponse кладёт ответ в документ: по path или слиянием в корень.
func placeResponse(doc map[string]any, path string, body any) error {
	if path != "" {
		return engine.Set(doc, path, body)
	}
	m, ok := body.(map[string]any)
	if !ok {
		return domain.NewStepError(domain.KindExternalCall, "response_path",
			fmt.Sprintf("response is %T, set response_path to store it", body), nil)
	}
	engine.Merge(doc, m)
	return nil
}
