package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// StepResponse — шаг flow из API.
type StepResponse struct {
	ID           string         `json:"id"`
	StepOrder    int            `json:"step_order"`
	StepType     string         `json:"step_type"`
	Name         string         `json:"name"`
	Config       map[string]any `json:"config,omitempty"`
	IsActive     bool           `json:"is_active"`
	RunCondition string         `json:"run_condition,omitempty"`
	Activity     string         `json:"activity,omitempty"`
	IteratePath  string         `json:"iterate_path,omitempty"`
}

// FlowResponse — flow из API.
type FlowResponse struct {
	ID              string         `json:"id"`
	ProductLineCode string         `json:"product_line_code"`
	EndpointPath    string         `json:"endpoint_path"`
	Name            string         `json:"name"`
	Status          string         `json:"status"`
	Steps           []StepResponse `json:"steps"`
	CreatedAt       string         `json:"created_at"`
}

// StepResult — результат шага в ответе рейтинга.
type StepResult struct {
	StepID         string         `json:"stepId"`
	StepType       string         `json:"stepType"`
	StepName       string         `json:"stepName"`
	StepOrder      int            `json:"stepOrder"`
	IterationIndex *int           `json:"iterationIndex,omitempty"`
	Status         string         `json:"status"`
	DurationMs     int64          `json:"durationMs"`
	Error          string         `json:"error,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
}

// RateResult — ответ POST /rate.
type RateResult struct {
	TransactionID   string         `json:"transactionId"`
	CorrelationID   string         `json:"correlationId"`
	ProductLineCode string         `json:"productLineCode"`
	Status          string         `json:"status"`
	Response        map[string]any `json:"response,omitempty"`
	Premium         *float64       `json:"premium,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	ErrorKind       string         `json:"errorKind,omitempty"`
	StepResults     []StepResult   `json:"stepResults"`
	TotalDurationMs int64          `json:"totalDurationMs"`
}

// RateAccepted — ответ POST /rate-async.
type RateAccepted struct {
	TransactionID string `json:"transactionId"`
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

// TransactionResponse — транзакция из API.
type TransactionResponse struct {
	ID              string         `json:"id"`
	CorrelationID   string         `json:"correlation_id"`
	ProductLineCode string         `json:"product_line_code"`
	EndpointPath    string         `json:"endpoint_path"`
	Status          string         `json:"status"`
	ResponsePayload map[string]any `json:"response_payload,omitempty"`
	PremiumResult   *float64       `json:"premium_result,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	DurationMs      int64          `json:"duration_ms"`
	StepCount       int            `json:"step_count"`
	CompletedSteps  int            `json:"completed_steps"`
	CreatedAt       string         `json:"created_at"`
}

// StepLogResponse — запись журнала шагов из API.
type StepLogResponse struct {
	ID             string `json:"id"`
	StepType       string `json:"step_type"`
	StepName       string `json:"step_name"`
	StepOrder      int    `json:"step_order"`
	IterationIndex *int   `json:"iteration_index,omitempty"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"error_message,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
}

// --- Request types ---

// RateRequest — тело запроса рейтинга.
type RateRequest struct {
	Payload map[string]any `json:"payload"`
	Scope   map[string]any `json:"scope,omitempty"`
}

// StepRequest — добавление шага.
type StepRequest struct {
	StepType     string         `json:"step_type"`
	Name         string         `json:"name"`
	StepOrder    int            `json:"step_order,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	IsActive     *bool          `json:"is_active,omitempty"`
	RunCondition string         `json:"run_condition,omitempty"`
	IteratePath  string         `json:"iterate_path,omitempty"`
}

// GenerateFlowRequest — генерация flow из шаблона.
type GenerateFlowRequest struct {
	Format    string `json:"format"`
	EngineURL string `json:"engine_url,omitempty"`
	Name      string `json:"name,omitempty"`
	Activate  bool   `json:"activate,omitempty"`
}

// ListTransactionsOpts — параметры фильтрации транзакций.
type ListTransactionsOpts struct {
	ProductLineCode string
	Status          string
	CorrelationID   string
	Limit           int
	Offset          int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка из envelope {error:{code,message}}.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для rating API.
type Client struct {
	baseURL       string
	correlationID string
	httpClient    *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithCorrelationID задаёт x-correlation-id для всех запросов клиента.
func (c *Client) WithCorrelationID(id string) *Client {
	c.correlationID = id
	return c
}

// --- Rating ---

// Rate выполняет синхронный рейтинг. Неуспешный рейтинг (422, 502, ...)
// возвращается как RateResult без ошибки: в нём есть stepResults.
func (c *Client) Rate(code, endpoint string, req RateRequest) (*RateResult, error) {
	resp, err := c.do(http.MethodPost, ratePath("/rate/", code, endpoint), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Code != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
		}
	}

	var result RateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// RateAsync ставит рейтинг в очередь.
func (c *Client) RateAsync(code, endpoint string, req RateRequest) (*RateAccepted, error) {
	var accepted RateAccepted
	err := c.post(ratePath("/rate-async/", code, endpoint), req, &accepted)
	return &accepted, err
}

func ratePath(prefix, code, endpoint string) string {
	path := prefix + url.PathEscape(code)
	if endpoint != "" {
		path += "/" + url.PathEscape(endpoint)
	}
	return path
}

// --- Flows ---

func flowPath(code, endpoint string) string {
	return "/orchestrators/" + url.PathEscape(code) + "/flow/" + url.PathEscape(endpoint)
}

// ListFlows возвращает flows, опционально по продукту.
func (c *Client) ListFlows(code string) ([]FlowResponse, error) {
	params := url.Values{}
	if code != "" {
		params.Set("product_line_code", code)
	}
	var flows []FlowResponse
	err := c.list("/orchestrators", params, &flows)
	return flows, err
}

// GetFlow возвращает flow с шагами.
func (c *Client) GetFlow(code, endpoint string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get(flowPath(code, endpoint), &flow)
	return &flow, err
}

// GenerateFlow создаёт flow из встроенного шаблона.
func (c *Client) GenerateFlow(code, endpoint string, req GenerateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post(flowPath(code, endpoint)+"/auto-generate", req, &flow)
	return &flow, err
}

// SetFlowStatus меняет статус flow (draft/active).
func (c *Client) SetFlowStatus(code, endpoint, status string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.put(flowPath(code, endpoint), map[string]string{"status": status}, &flow)
	return &flow, err
}

// DeleteFlow удаляет flow.
func (c *Client) DeleteFlow(code, endpoint string) error {
	return c.delete(flowPath(code, endpoint))
}

// --- Steps ---

// ListSteps возвращает шаги flow по порядку.
func (c *Client) ListSteps(code, endpoint string) ([]StepResponse, error) {
	var steps []StepResponse
	err := c.list(flowPath(code, endpoint)+"/steps", nil, &steps)
	return steps, err
}

// GetStep возвращает шаг flow по ID.
func (c *Client) GetStep(code, endpoint, stepID string) (*StepResponse, error) {
	var step StepResponse
	err := c.get(flowPath(code, endpoint)+"/steps/"+url.PathEscape(stepID), &step)
	return &step, err
}

// AddStep добавляет шаг.
func (c *Client) AddStep(code, endpoint string, req StepRequest) (*StepResponse, error) {
	var step StepResponse
	err := c.post(flowPath(code, endpoint)+"/steps", req, &step)
	return &step, err
}

// DeleteStep удаляет шаг.
func (c *Client) DeleteStep(code, endpoint, stepID string) error {
	return c.delete(flowPath(code, endpoint) + "/steps/" + url.PathEscape(stepID))
}

// ReorderSteps задаёт новый порядок шагов.
func (c *Client) ReorderSteps(code, endpoint string, stepIDs []string) ([]StepResponse, error) {
	var steps []StepResponse
	err := c.put(flowPath(code, endpoint)+"/steps/reorder", map[string][]string{"step_ids": stepIDs}, &steps)
	return steps, err
}

// --- Transactions ---

// ListTransactions возвращает транзакции с фильтрацией.
func (c *Client) ListTransactions(opts ListTransactionsOpts) ([]TransactionResponse, int, error) {
	params := url.Values{}
	if opts.ProductLineCode != "" {
		params.Set("product_line_code", opts.ProductLineCode)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.CorrelationID != "" {
		params.Set("correlation_id", opts.CorrelationID)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var txs []TransactionResponse
	total, err := c.listTotal("/transactions", params, &txs)
	return txs, total, err
}

// GetTransaction возвращает транзакцию по ID.
func (c *Client) GetTransaction(id string) (*TransactionResponse, error) {
	var tx TransactionResponse
	err := c.get("/transactions/"+url.PathEscape(id), &tx)
	return &tx, err
}

// ListTransactionSteps возвращает журнал шагов транзакции.
func (c *Client) ListTransactionSteps(id string) ([]StepLogResponse, error) {
	var logs []StepLogResponse
	err := c.list("/transactions/"+url.PathEscape(id)+"/steps", nil, &logs)
	return logs, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	_, err := c.listTotal(path, params, result)
	return err
}

func (c *Client) listTotal(path string, params url.Values, result any) (int, error) {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return 0, err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return lr.Total, json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.correlationID != "" {
		req.Header.Set("x-correlation-id", c.correlationID)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	return &APIError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}
