package steps

import (
	"context"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
)

// PublishEventHandler — шаг publish_event.
//
// Публикует документ (или payload_path) в exchange событий.
// Документ не меняется.
type PublishEventHandler struct {
	publisher EventPublisher
}

// NewPublishEventHandler создаёт PublishEventHandler.
func NewPublishEventHandler(p EventPublisher) *PublishEventHandler {
	return &PublishEventHandler{publisher: p}
}

// Type возвращает тип шага.
func (h *PublishEventHandler) Type() domain.StepType {
	return domain.StepPublishEvent
}

// Execute публикует событие.
func (h *PublishEventHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.PublishEventConfig)
	if !ok {
		return nil, configMismatch(req)
	}
	if h.publisher == nil {
		return nil, domain.NewStepError(domain.KindConfig, "routing_key", "no event publisher configured", ErrMissingDependency)
	}

	payload := engine.CloneValue(requestBody(req.Doc, cfg.PayloadPath))
	eventType := cfg.EventType
	if eventType == "" {
		eventType = cfg.RoutingKey
	}
	correlationID := ""
	if req.Run != nil {
		correlationID = req.Run.CorrelationID
	}

	if err := h.publisher.PublishEvent(ctx, cfg.RoutingKey, eventType, correlationID, payload); err != nil {
		return nil, domain.NewStepError(domain.KindExternalCall, "routing_key", "publish event", err)
	}

	return NewResponse(nil, map[string]any{"routing_key": cfg.RoutingKey, "event_type": eventType}), nil
}
