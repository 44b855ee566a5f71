package steps

import (
	"context"
	"net/http"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

const defaultPremiumField = "premium"

// CallRatingEngineHandler — шаг call_rating_engine.
//
// В режиме http отправляет документ (или request_path) во внешний движок
// рейтинга. В режиме mock возвращает mock_response и/или фиксированную премию.
//
//	{"mode": "mock", "premium": 1000}
//	{"url": "https://engine/rate/{{ .Meta.product_line_code }}", "response_path": "engine",
//	 "retry": {"max_attempts": 3, "backoff": "exponential"}}
type CallRatingEngineHandler struct {
	caller *httpCaller
}

// NewCallRatingEngineHandler создаёт CallRatingEngineHandler.
func NewCallRatingEngineHandler(client *http.Client) *CallRatingEngineHandler {
	return &CallRatingEngineHandler{caller: newHTTPCaller(client, domain.StepCallRatingEngine)}
}

// Type возвращает тип шага.
func (h *CallRatingEngineHandler) Type() domain.StepType {
	return domain.StepCallRatingEngine
}

// Execute вызывает движок рейтинга.
func (h *CallRatingEngineHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.CallRatingEngineConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	premiumField := cfg.PremiumField
	if premiumField == "" {
		premiumField = defaultPremiumField
	}

	if cfg.Mode == "mock" {
		if cfg.MockResponse != nil {
			if err := placeResponse(req.Doc, cfg.ResponsePath, engine.CloneValue(cfg.MockResponse)); err != nil {
				return nil, err
			}
		}
		if cfg.Premium != nil {
			if err := engine.Set(req.Doc, premiumField, *cfg.Premium); err != nil {
				return nil, domain.NewStepError(domain.KindExternalCall, premiumField, err.Error(), err)
			}
		}
		return NewResponse(req.Doc, premiumOutput("mock", req.Doc, premiumField)), nil
	}

	spec, err := specFromConfig(&cfg.HTTPCallConfig, req)
	if err != nil {
		return nil, err
	}
	body, err := h.caller.Do(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := placeResponse(req.Doc, cfg.ResponsePath, body); err != nil {
		return nil, err
	}

	return NewResponse(req.Doc, premiumOutput("http", req.Doc, premiumField)), nil
}

func premiumOutput(mode string, doc map[string]any, field string) map[string]any {
	out := map[string]any{"mode": mode}
	if v, found := engine.Get(doc, field); found {
		out[field] = v
	}
	return out
}

// CallExternalAPIHandler — шаг call_external_api.
// Тот же контракт, что у call_rating_engine, без премии.
type CallExternalAPIHandler struct {
	caller *httpCaller
}

// NewCallExternalAPIHandler создаёт CallExternalAPIHandler.
func NewCallExternalAPIHandler(client *http.Client) *CallExternalAPIHandler {
	return &CallExternalAPIHandler{caller: newHTTPCaller(client, domain.StepCallExternalAPI)}
}

// Type возвращает тип шага.
func (h *CallExternalAPIHandler) Type() domain.StepType {
	return domain.StepCallExternalAPI
}

// Execute вызывает внешний API.
func (h *CallExternalAPIHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.CallExternalAPIConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	var body any
	if cfg.Mode == "mock" {
		body = engine.CloneValue(cfg.MockResponse)
		if body == nil {
			body = map[string]any{}
		}
	} else {
		spec, err := specFromConfig(&cfg.HTTPCallConfig, req)
		if err != nil {
			return nil, err
		}
		if body, err = h.caller.Do(ctx, spec); err != nil {
			return nil, err
		}
	}

	if err := placeResponse(req.Doc, cfg.ResponsePath, body); err != nil {
		return nil, err
	}
	return NewResponse(req.Doc, map[string]any{"mode": modeOrDefault(cfg.Mode), "response_path": cfg.ResponsePath}), nil
}

func modeOrDefault(mode string) string {
	if mode == "" {
		return "http"
	}
	return mode
}
