package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/transform"
)

// EnrichHandler — шаг enrich.
//
// Берёт ключ из key_path, находит запись в lookup-таблице table_key и
// пишет её в target_path. merge сливает объект-запись с существующим значением.
type EnrichHandler struct {
	lookups transform.LookupSource
}

// NewEnrichHandler создаёт EnrichHandler.
func NewEnrichHandler(lookups transform.LookupSource) *EnrichHandler {
	return &EnrichHandler{lookups: lookups}
}

// Type возвращает тип шага.
func (h *EnrichHandler) Type() domain.StepType {
	return domain.StepEnrich
}

// Execute обогащает документ.
func (h *EnrichHandler) Execute(_ context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.EnrichConfig)
	if !ok {
		return nil, configMismatch(req)
	}
	if h.lookups == nil {
		return nil, domain.NewStepError(domain.KindConfig, "table_key", "no lookup tables configured", ErrMissingDependency)
	}

	key, found := engine.Get(req.Doc, cfg.KeyPath)
	if !found || engine.IsEmpty(key) {
		if cfg.Required {
			return nil, domain.NewMappingError(cfg.KeyPath, "enrich key is missing", nil)
		}
		return NewResponse(nil, map[string]any{"matched": false}), nil
	}

	entry, ok := h.lookups.Lookup(cfg.TableKey, engine.ToString(key))
	if !ok {
		if cfg.Required {
			return nil, domain.NewMappingError(cfg.KeyPath,
				fmt.Sprintf("no entry %q in lookup table %s", engine.ToString(key), cfg.TableKey), nil)
		}
		return NewResponse(nil, map[string]any{"matched": false}), nil
	}

	entry = engine.CloneValue(entry)
	if cfg.Merge {
		if em, ok := entry.(map[string]any); ok {
			if existing, found := engine.Get(req.Doc, cfg.TargetPath); found {
				if dm, ok := existing.(map[string]any); ok {
					engine.Merge(dm, em)
					return NewResponse(req.Doc, map[string]any{"matched": true, "merged": true}), nil
				}
			}
		}
	}

	if err := engine.Set(req.Doc, cfg.TargetPath, entry); err != nil {
		return nil, domain.NewMappingError(cfg.TargetPath, err.Error(), err)
	}
	return NewResponse(req.Doc, map[string]any{"matched": true}), nil
}
