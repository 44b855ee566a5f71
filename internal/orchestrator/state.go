package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/steps"
	"github.com/shaiso/ratingflow/internal/telemetry"
)

// iterationValueKey — ключ, под которым не-объектный элемент массива
// передаётся iterative шагу.
const iterationValueKey = "$value"

// execution — состояние выполнения одного flow.
//
// Для транзакции верхнего уровня tx != nil: execution ведёт статус
// транзакции и пишет журнал шагов. Для вложенных flow tx == nil.
type execution struct {
	o      *Orchestrator
	tx     *domain.Transaction
	run    *steps.RunState
	status domain.TransactionStatus
	logger *slog.Logger

	mu      sync.Mutex
	results []StepResult
}

func newExecution(o *Orchestrator, tx *domain.Transaction, run *steps.RunState, logger *slog.Logger) *execution {
	e := &execution{o: o, tx: tx, run: run, logger: logger}
	if tx != nil {
		e.status = tx.Status
	}
	return e
}

// Results возвращает копию результатов шагов в порядке журнала.
func (e *execution) Results() []StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StepResult(nil), e.results...)
}

// runFlow выполняет шаги по порядку. Первая ошибка прерывает выполнение.
func (e *execution) runFlow(ctx context.Context, flow *domain.Flow, doc map[string]any) (map[string]any, error) {
	for i := range flow.Steps {
		step := &flow.Steps[i]

		if err := ctx.Err(); err != nil {
			e.logger.Warn("transaction cancelled before step", "step_name", step.Name)
			return doc, &StepFailure{Kind: domain.KindCancelled, Err: domain.NewStepError(domain.KindCancelled, "", "transaction aborted before step "+step.Name, err)}
		}

		skip, reason, err := e.shouldSkip(step, doc)
		if err != nil {
			return doc, e.failBeforeRun(ctx, step, doc, err)
		}
		if skip {
			e.recordSkipped(ctx, step, doc, reason)
			continue
		}

		if err := e.advance(ctx, step.StepType); err != nil {
			return doc, err
		}

		doc, err = e.runStep(ctx, step, doc)
		if err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// shouldSkip проверяет активность шага, пропуск правилом и run condition.
func (e *execution) shouldSkip(step *domain.Step, doc map[string]any) (bool, string, error) {
	if !step.IsActive {
		return true, "inactive", nil
	}
	if e.run.ShouldSkip(step.Name) {
		return true, "skipped by rule", nil
	}
	if step.RunCondition != "" {
		ok, err := engine.EvaluateBool(step.RunCondition, doc)
		if err != nil {
			return false, "", domain.NewStepError(domain.KindTransform, "run_condition", err.Error(), err)
		}
		if !ok {
			return true, "run condition is false", nil
		}
	}
	return false, "", nil
}

// advance ведёт машину состояний транзакции перед шагом.
// validate_request переводит RECEIVED → VALIDATING, любой другой шаг — в PROCESSING.
func (e *execution) advance(ctx context.Context, t domain.StepType) error {
	if e.tx == nil {
		return nil
	}
	next := domain.TxProcessing
	if t == domain.StepValidateRequest && e.status != domain.TxProcessing {
		next = domain.TxValidating
	}
	return e.transition(ctx, next)
}

func (e *execution) transition(ctx context.Context, next domain.TransactionStatus) error {
	if e.tx == nil || e.status == next {
		return nil
	}
	if _, err := e.o.recorder.Transition(context.WithoutCancel(ctx), e.tx.ID, next); err != nil {
		return err
	}
	e.logger.Debug("transaction status changed", "from", e.status, "to", next)
	e.status = next
	return nil
}

// runStep выполняет один шаг (one_time или iterative) и пишет журнал.
func (e *execution) runStep(ctx context.Context, step *domain.Step, doc map[string]any) (map[string]any, error) {
	logger := telemetry.WithStep(e.logger, step.ID.String(), step.Name, string(step.StepType))
	ctx = telemetry.WithLogger(ctx, logger)

	ctx, span := telemetry.StartSpan(ctx, "step "+step.Name,
		telemetry.AttrStepID.String(step.ID.String()),
		telemetry.AttrStepName.String(step.Name),
		telemetry.AttrStepType.String(string(step.StepType)),
	)
	defer span.End()

	if err := e.countStarted(ctx); err != nil {
		return doc, err
	}

	started := time.Now()
	handler, cfg, err := e.resolve(step)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return doc, e.fail(ctx, step, nil, engine.Clone(doc), started, err)
	}

	logger.Debug("step started")

	var (
		out    map[string]any
		output map[string]any
	)
	if step.IsIterative() {
		out, err = e.runIterative(ctx, step, cfg, handler, doc)
	} else {
		out, output, err = e.runOnce(ctx, step, cfg, handler, doc)
	}
	if err != nil {
		telemetry.SetSpanError(span, err, telemetry.AttrStatus.String(string(domain.StepLogFailed)))
		if step.IsIterative() {
			return doc, e.failIterative(ctx, step, started, err)
		}
		return doc, e.fail(ctx, step, nil, engine.Clone(doc), started, err)
	}

	if applied := e.run.ApplyDeferred(out); len(applied) > 0 {
		if output == nil {
			output = make(map[string]any)
		}
		output["deferred_applied"] = len(applied)
		logger.Debug("deferred adjustments applied", "count", len(applied))
	}

	if !step.IsIterative() {
		e.record(ctx, step, nil, domain.StepLogCompleted, engine.Clone(doc), engine.Clone(out), output, "", started)
	}
	if err := e.countCompleted(ctx); err != nil {
		return out, err
	}

	d := time.Since(started)
	span.SetAttributes(telemetry.AttrStatus.String(string(domain.StepLogCompleted)))
	telemetry.ObserveStep(string(step.StepType), string(domain.StepLogCompleted), d)
	logger.Info("step completed", "duration_ms", d.Milliseconds())
	return out, nil
}

// resolve находит обработчик и декодирует конфигурацию.
func (e *execution) resolve(step *domain.Step) (steps.Handler, domain.StepConfig, error) {
	handler, err := e.o.registry.Get(step.StepType)
	if err != nil {
		return nil, nil, domain.NewStepError(domain.KindConfig, "step_type", err.Error(), err)
	}
	cfg, err := domain.DecodeStepConfig(step.StepType, step.Config)
	if err != nil {
		return nil, nil, err
	}
	return handler, cfg, nil
}

// runOnce выполняет обработчик над копией документа.
func (e *execution) runOnce(ctx context.Context, step *domain.Step, cfg domain.StepConfig, h steps.Handler, doc map[string]any) (map[string]any, map[string]any, error) {
	working := engine.Clone(doc)
	if working == nil {
		working = make(map[string]any)
	}

	resp, err := e.execute(ctx, step, h, &steps.Request{
		Step:   step,
		Config: cfg,
		Doc:    working,
		Root:   working,
		Run:    e.run,
	})
	if err != nil {
		return nil, nil, err
	}

	out := working
	if resp != nil && resp.Doc != nil {
		out = resp.Doc
	}
	var output map[string]any
	if resp != nil {
		output = resp.Output
	}
	return out, output, nil
}

// iteration — результат обработки одного элемента.
type iteration struct {
	ran     bool
	input   any
	output  map[string]any
	item    any
	err     error
	started time.Time
	done    time.Time
}

// runIterative выполняет шаг для каждого элемента массива IteratePath
// ограниченным пулом. Журнал пишется в порядке индексов.
func (e *execution) runIterative(ctx context.Context, step *domain.Step, cfg domain.StepConfig, h steps.Handler, doc map[string]any) (map[string]any, error) {
	started := time.Now()
	raw, found := engine.Get(doc, step.IteratePath)
	var items []any
	if found && raw != nil {
		var ok bool
		if items, ok = engine.ToSlice(raw); !ok {
			err := domain.NewMappingError(step.IteratePath, fmt.Sprintf("iterate_path must be an array, got %T", raw), nil)
			e.record(ctx, step, nil, domain.StepLogFailed, engine.Clone(doc), nil, nil, err.Error(), started)
			return nil, err
		}
	}
	if len(items) == 0 {
		out := engine.Clone(doc)
		e.record(ctx, step, nil, domain.StepLogCompleted, engine.Clone(doc), engine.Clone(out), map[string]any{"iterations": 0}, "", started)
		return out, nil
	}

	root := engine.Clone(doc)
	results := make([]iteration, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.o.iterationWorkers)

	for i, item := range items {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			elem, wrapped := asDocument(item)
			idx := i
			res := &results[i]
			res.ran = true
			res.input = engine.CloneValue(item)
			res.started = time.Now()

			ictx, span := telemetry.StartSpan(gctx, "iteration", telemetry.AttrIteration.Int(idx))
			defer span.End()

			resp, err := e.execute(ictx, step, h, &steps.Request{
				Step:   step,
				Config: cfg,
				Doc:    elem,
				Root:   root,
				Index:  &idx,
				Run:    e.run,
			})
			res.done = time.Now()
			if err != nil {
				res.err = err
				telemetry.SetSpanError(span, err)
				return fmt.Errorf("iteration %d: %w", idx, err)
			}

			out := elem
			if resp != nil && resp.Doc != nil {
				out = resp.Doc
			}
			if resp != nil {
				res.output = resp.Output
			}
			res.item = unwrapDocument(out, wrapped)
			return nil
		})
	}
	waitErr := g.Wait()

	for i := range results {
		res := &results[i]
		if !res.ran {
			continue
		}
		idx := i
		status := domain.StepLogCompleted
		msg := ""
		var outSnap map[string]any
		if res.err != nil {
			status = domain.StepLogFailed
			msg = res.err.Error()
		} else {
			outSnap = map[string]any{iterationValueKey: engine.CloneValue(res.item)}
		}
		e.recordAt(ctx, step, &idx, status, map[string]any{iterationValueKey: res.input}, outSnap, res.output, msg, res.started, res.done)
	}

	if waitErr != nil {
		return nil, firstIterationError(results, waitErr)
	}

	out := engine.Clone(doc)
	updated := make([]any, len(results))
	for i := range results {
		updated[i] = results[i].item
	}
	if err := engine.Set(out, step.IteratePath, updated); err != nil {
		return nil, domain.NewMappingError(step.IteratePath, err.Error(), err)
	}
	return out, nil
}

func firstIterationError(results []iteration, fallback error) error {
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	return fallback
}

// execute вызывает обработчик с per-step таймаутом.
func (e *execution) execute(ctx context.Context, step *domain.Step, h steps.Handler, req *steps.Request) (*steps.Response, error) {
	if e.o.stepTimeout <= 0 {
		return h.Execute(ctx, req)
	}

	sctx, cancel := context.WithTimeout(ctx, e.o.stepTimeout)
	defer cancel()

	resp, err := h.Execute(sctx, req)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		kind := domain.KindTransform
		if step.StepType.IsExternal() {
			kind = domain.KindExternalCall
		}
		return nil, domain.NewStepError(kind, "", fmt.Sprintf("step timed out after %s", e.o.stepTimeout), err)
	}
	return resp, err
}

// asDocument превращает элемент массива в рабочий документ.
func asDocument(item any) (map[string]any, bool) {
	if m, ok := item.(map[string]any); ok {
		return engine.Clone(m), false
	}
	return map[string]any{iterationValueKey: engine.CloneValue(item)}, true
}

func unwrapDocument(doc map[string]any, wrapped bool) any {
	if wrapped {
		return doc[iterationValueKey]
	}
	return doc
}

// --- журнал и счётчики ---

func (e *execution) countStarted(ctx context.Context) error {
	if e.tx == nil {
		return nil
	}
	return e.o.recorder.StepStarted(context.WithoutCancel(ctx), e.tx.ID)
}

func (e *execution) countCompleted(ctx context.Context) error {
	if e.tx == nil {
		return nil
	}
	return e.o.recorder.StepCompleted(context.WithoutCancel(ctx), e.tx.ID)
}

// failBeforeRun — ошибка до запуска обработчика (run condition).
// Шаг считается начатым, чтобы completedSteps < stepCount.
func (e *execution) failBeforeRun(ctx context.Context, step *domain.Step, doc map[string]any, cause error) error {
	if err := e.countStarted(ctx); err != nil {
		return err
	}
	return e.fail(ctx, step, nil, engine.Clone(doc), time.Now(), cause)
}

// fail пишет FAILED в журнал и возвращает StepFailure.
func (e *execution) fail(ctx context.Context, step *domain.Step, index *int, input map[string]any, started time.Time, cause error) error {
	failure := e.failure(ctx, step, cause)
	e.record(ctx, step, index, domain.StepLogFailed, input, nil, nil, cause.Error(), started)
	telemetry.ObserveStep(string(step.StepType), string(domain.StepLogFailed), time.Since(started))
	telemetry.FromContext(ctx).Warn("step failed", "kind", failure.Kind, "error", cause)
	return failure
}

// failIterative — журнал итераций уже записан, только метрики и StepFailure.
func (e *execution) failIterative(ctx context.Context, step *domain.Step, started time.Time, cause error) error {
	failure := e.failure(ctx, step, cause)
	telemetry.ObserveStep(string(step.StepType), string(domain.StepLogFailed), time.Since(started))
	telemetry.FromContext(ctx).Warn("iterative step failed", "kind", failure.Kind, "error", cause)
	return failure
}

func (e *execution) failure(ctx context.Context, step *domain.Step, cause error) *StepFailure {
	kind := domain.KindOf(cause)
	if ctx.Err() != nil {
		kind = domain.KindCancelled
	}
	return &StepFailure{StepName: step.Name, StepType: step.StepType, Kind: kind, Err: cause}
}

// recordSkipped пишет SKIPPED. Пропущенный шаг не входит в stepCount.
func (e *execution) recordSkipped(ctx context.Context, step *domain.Step, doc map[string]any, reason string) {
	telemetry.FromContext(ctx).Debug("step skipped", "step_name", step.Name, "reason", reason)
	telemetry.ObserveStep(string(step.StepType), string(domain.StepLogSkipped), 0)
	e.record(ctx, step, nil, domain.StepLogSkipped, nil, nil, map[string]any{"reason": reason}, "", time.Now())
}

func (e *execution) record(ctx context.Context, step *domain.Step, index *int, status domain.StepLogStatus, input, outSnap, output map[string]any, msg string, started time.Time) {
	e.recordAt(ctx, step, index, status, input, outSnap, output, msg, started, time.Now())
}

// recordAt добавляет запись журнала и результат шага.
// Запись не зависит от отмены контекста: журнал до точки отмены сохраняется.
func (e *execution) recordAt(ctx context.Context, step *domain.Step, index *int, status domain.StepLogStatus, input, outSnap, output map[string]any, msg string, started, done time.Time) {
	if e.tx == nil {
		return
	}
	duration := done.Sub(started).Milliseconds()
	completedAt := done.UTC()

	log := &domain.StepLog{
		TransactionID:  e.tx.ID,
		StepID:         step.ID,
		StepType:       step.StepType,
		StepName:       step.Name,
		StepOrder:      step.StepOrder,
		IterationIndex: index,
		Status:         status,
		InputSnapshot:  input,
		OutputSnapshot: outSnap,
		ErrorMessage:   msg,
		DurationMs:     duration,
		StartedAt:      started.UTC(),
		CompletedAt:    &completedAt,
	}
	if err := e.o.recorder.AppendStep(context.WithoutCancel(ctx), log); err != nil {
		e.logger.Error("failed to append step log", "step_name", step.Name, "error", err)
	}

	e.mu.Lock()
	e.results = append(e.results, StepResult{
		StepID:         step.ID,
		StepType:       step.StepType,
		StepName:       step.Name,
		StepOrder:      step.StepOrder,
		IterationIndex: index,
		Status:         status,
		DurationMs:     duration,
		Error:          msg,
		Output:         output,
	})
	e.mu.Unlock()
}

// spanAttrs — атрибуты спана транзакции.
func spanAttrs(tx *domain.Transaction) []attribute.KeyValue {
	return []attribute.KeyValue{
		telemetry.AttrTransactionID.String(tx.ID.String()),
		telemetry.AttrCorrelationID.String(tx.CorrelationID),
		telemetry.AttrProductLine.String(tx.ProductLineCode),
		telemetry.AttrEndpoint.String(tx.EndpointPath),
	}
}
