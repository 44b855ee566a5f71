package steps

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/transform"
)

// GenerateValueHandler — шаг generate_value.
//
// Генераторы: uuid, ksuid (сортируемые номера), timestamp (RFC3339, UTC),
// date (format вида "YYYY-MM-DD", по умолчанию ISO).
type GenerateValueHandler struct {
	now func() time.Time
}

// NewGenerateValueHandler создаёт GenerateValueHandler.
func NewGenerateValueHandler() *GenerateValueHandler {
	return &GenerateValueHandler{now: time.Now}
}

// Type возвращает тип шага.
func (h *GenerateValueHandler) Type() domain.StepType {
	return domain.StepGenerateValue
}

// Execute записывает сгенерированное значение в target_path.
func (h *GenerateValueHandler) Execute(_ context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.GenerateValueConfig)
	if !ok {
		return nil, configMismatch(req)
	}

	if cfg.OnlyIfEmpty {
		if v, found := engine.Get(req.Doc, cfg.TargetPath); found && !engine.IsEmpty(v) {
			return NewResponse(nil, map[string]any{"generated": false}), nil
		}
	}

	var value string
	now := h.now().UTC()
	switch cfg.Generator {
	case "uuid":
		value = uuid.NewString()
	case "ksuid":
		value = ksuid.New().String()
	case "timestamp":
		value = now.Format(time.RFC3339)
	case "date":
		layout := "2006-01-02"
		if cfg.Format != "" {
			layout = transform.DateLayout(cfg.Format)
		}
		value = now.Format(layout)
	default:
		return nil, domain.NewConfigError("generator", "unknown generator "+cfg.Generator)
	}

	if err := engine.Set(req.Doc, cfg.TargetPath, value); err != nil {
		return nil, domain.NewTransformError(cfg.TargetPath, err.Error())
	}
	return NewResponse(req.Doc, map[string]any{"generated": true, "generator": cfg.Generator, "target_path": cfg.TargetPath}), nil
}
