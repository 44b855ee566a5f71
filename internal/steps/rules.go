package steps

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/rules"
)

// ApplyRulesHandler — шаг apply_rules.
//
// Правила продукта отбираются по scope транзакции и выполняются
// по приоритету. Отложенные надбавки, пропуски шагов и флаги
// сохраняются в RunState и переживают шаг.
type ApplyRulesHandler struct {
	rules RuleSource
}

// NewApplyRulesHandler создаёт ApplyRulesHandler.
func NewApplyRulesHandler(src RuleSource) *ApplyRulesHandler {
	return &ApplyRulesHandler{rules: src}
}

// Type возвращает тип шага.
func (h *ApplyRulesHandler) Type() domain.StepType {
	return domain.StepApplyRules
}

// Execute применяет правила к документу.
func (h *ApplyRulesHandler) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, ok := req.Config.(*domain.ApplyRulesConfig)
	if !ok {
		return nil, configMismatch(req)
	}
	if h.rules == nil {
		return nil, domain.NewStepError(domain.KindConfig, "", "no rule store configured", ErrMissingDependency)
	}

	run := req.Run
	if run == nil {
		run = NewRunState(uuid.Nil, "", "", "", nil)
	}

	all, err := h.rules.ListRules(ctx, run.ProductLineCode)
	if err != nil {
		return nil, domain.NewStepError(domain.KindRuleEvaluation, "", "load rules", err)
	}
	selected := filterRules(all, cfg.RuleIDs)

	doc, outcome, err := rules.Evaluate(selected, req.Doc, run.Scope)
	if err != nil {
		if domain.KindOf(err) == domain.KindRuleRejected {
			return nil, err
		}
		return nil, domain.NewStepError(domain.KindRuleEvaluation, "", err.Error(), err)
	}

	run.Defer(outcome.Deferred...)
	run.SkipStep(outcome.SkipSteps...)
	run.AddFlags(outcome.Flags...)

	output := map[string]any{
		"evaluated": outcome.Evaluated,
		"applied":   appliedNames(outcome.Applied),
	}
	if len(outcome.Deferred) > 0 {
		output["deferred"] = len(outcome.Deferred)
	}
	if len(outcome.SkipSteps) > 0 {
		output["skip_steps"] = outcome.SkipSteps
	}
	if len(outcome.Flags) > 0 {
		output["flags"] = flagValues(outcome.Flags)
	}
	if len(outcome.FieldErrors) > 0 {
		output["field_errors"] = outcome.FieldErrors
	}

	return NewResponse(doc, output), nil
}

// flagValues переводит флаги в JSON-совместимый вид для журнала шага.
func flagValues(flags []rules.Flag) []any {
	out := make([]any, len(flags))
	for i, f := range flags {
		out[i] = map[string]any{
			"rule_id":   f.RuleID.String(),
			"rule_name": f.RuleName,
			"value":     engine.CloneValue(f.Value),
		}
	}
	return out
}

// filterRules оставляет правила из ids. Пустой список — все правила.
func filterRules(all []domain.Rule, ids []uuid.UUID) []domain.Rule {
	if len(ids) == 0 {
		return all
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]domain.Rule, 0, len(ids))
	for _, r := range all {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func appliedNames(applied []rules.AppliedRule) []string {
	names := make([]string, 0, len(applied))
	for _, a := range applied {
		names = append(names, fmt.Sprintf("%s(%d)", a.RuleName, a.Actions))
	}
	return names
}
