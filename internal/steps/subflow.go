package steps

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// CustomFlowProduct — продуктовая линия, под которой хранятся переиспользуемые под-flow.
const CustomFlowProduct = "_custom"

// CallOrchestratorHandler — шаг call_orchestrator.
//
// С product_line_code выполняет flow другого продукта в том же процессе.
// С url отправляет документ удалённому оркестратору.
type CallOrchestratorHandler struct {
	flows  FlowRunner
	caller *httpCaller
}

// NewCallOrchestratorHandler создаёт CallOrchestratorHandler.
func NewCallOrchestratorHandler(flows FlowRunner, client *http.Client) *CallOrchestratorHandler {
	return &CallOrchestratorHandler{flows: flows, caller: newHTTPCaller(client, domain.StepCallOrchestrator)}
}

// Type возвращает тип шага.
func (h *CallOrchestratorHandler) Type() domain.StepType {
	return domain.StepCallOrchestrator
}

// Execute вызывает другой оркестратор.
func (h *CallOrchestratorHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.CallOrchestratorConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	var (
		result any
		target string
	)

	if cfg.URL != "" {
		spec, err := specFromConfig(&domain.HTTPCallConfig{
			URL:         cfg.URL,
			Method:      http.MethodPost,
			RequestPath: cfg.RequestPath,
			TimeoutMs:   cfg.TimeoutMs,
			Retry:       cfg.Retry,
		}, req)
		if err != nil {
			return nil, err
		}
		if result, err = h.caller.Do(ctx, spec); err != nil {
			return nil, err
		}
		target = spec.URL
	} else {
		if h.flows == nil {
			return nil, domain.NewStepError(domain.KindConfig, "product_line_code", "no flow runner configured", ErrMissingDependency)
		}
		input, ok := requestBody(req.Doc, cfg.RequestPath).(map[string]any)
		if !ok {
			return nil, domain.NewStepError(domain.KindConfig, "request_path", "request_path must point to an object", nil)
		}
		child, err := childRun(req.Run, cfg.ProductLineCode, cfg.EndpointPath)
		if err != nil {
			return nil, err
		}
		child = child.Isolated()
		out, err := h.flows.RunFlow(ctx, child.ProductLineCode, child.EndpointPath, engine.Clone(input), child)
		if err != nil {
			return nil, err
		}
		result = out
		target = child.ProductLineCode + "/" + child.EndpointPath
	}

	if err := placeResponse(req.Doc, cfg.ResponsePath, result); err != nil {
		return nil, err
	}
	return NewResponse(req.Doc, map[string]any{"target": target}), nil
}

// RunCustomFlowHandler — шаг run_custom_flow.
//
// Запускает именованный под-flow продукта "_custom" либо выполняет
// список присваиваний в ограниченной грамматике выражений.
type RunCustomFlowHandler struct {
	flows FlowRunner
}

// NewRunCustomFlowHandler создаёт RunCustomFlowHandler.
func NewRunCustomFlowHandler(flows FlowRunner) *RunCustomFlowHandler {
	return &RunCustomFlowHandler{flows: flows}
}

// Type возвращает тип шага.
func (h *RunCustomFlowHandler) Type() domain.StepType {
	return domain.StepRunCustomFlow
}

// Execute выполняет под-flow или присваивания.
func (h *RunCustomFlowHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.RunCustomFlowConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	doc := req.Doc
	if cfg.FlowName != "" {
		if h.flows == nil {
			return nil, domain.NewStepError(domain.KindConfig, "flow_name", "no flow runner configured", ErrMissingDependency)
		}
		child, err := childRun(req.Run, CustomFlowProduct, cfg.FlowName)
		if err != nil {
			return nil, err
		}
		if doc, err = h.flows.RunFlow(ctx, CustomFlowProduct, cfg.FlowName, doc, child); err != nil {
			return nil, err
		}
	}

	for _, a := range cfg.Assignments {
		v, err := engine.Evaluate(a.Expression, doc)
		if err != nil {
			return nil, domain.NewStepError(domain.KindTransform, a.Target, err.Error(), err)
		}
		if err := engine.Set(doc, a.Target, v); err != nil {
			return nil, domain.NewTransformError(a.Target, err.Error())
		}
	}

	return NewResponse(doc, map[string]any{
		"flow_name":   cfg.FlowName,
		"assignments": len(cfg.Assignments),
	}), nil
}

func childRun(run *RunState, productLineCode, endpointPath string) (*RunState, error) {
	if run == nil {
		run = NewRunState(uuid.Nil, "", productLineCode, endpointPath, nil)
	}
	return run.Child(productLineCode, endpointPath)
}
