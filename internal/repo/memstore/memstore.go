// Package memstore — in-memory реализация хранилищ repo.
//
// Используется в тестах и при запуске без PostgreSQL (storage.driver=memory).
// Все значения копируются на входе и выходе, вызывающий не может
// изменить состояние хранилища через возвращённые указатели.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/ratingflow/internal/domain"
	"github.com/shaiso/ratingflow/internal/engine"
	"github.com/shaiso/ratingflow/internal/repo"
)

// Store хранит все сущности в памяти под одним мьютексом.
type Store struct {
	mu sync.RWMutex

	flows    map[uuid.UUID]*domain.Flow
	rules    map[uuid.UUID]*domain.Rule
	mappings map[uuid.UUID]*domain.Mapping
	lookups  map[string]*domain.LookupTable
	txs      map[uuid.UUID]*domain.Transaction
	logs     map[uuid.UUID][]domain.StepLog

	now func() time.Time
}

var (
	_ repo.FlowStore        = (*Store)(nil)
	_ repo.RuleStore        = (*Store)(nil)
	_ repo.MappingStore     = (*Store)(nil)
	_ repo.LookupStore      = (*Store)(nil)
	_ repo.TransactionStore = (*Store)(nil)
)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		flows:    make(map[uuid.UUID]*domain.Flow),
		rules:    make(map[uuid.UUID]*domain.Rule),
		mappings: make(map[uuid.UUID]*domain.Mapping),
		lookups:  make(map[string]*domain.LookupTable),
		txs:      make(map[uuid.UUID]*domain.Transaction),
		logs:     make(map[uuid.UUID][]domain.StepLog),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// --- Flows ---

func (s *Store) GetFlow(_ context.Context, productLineCode, endpointPath string) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.flows {
		if f.ProductLineCode == productLineCode && f.EndpointPath == endpointPath {
			return cloneFlow(f), nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *Store) GetFlowByID(_ context.Context, id uuid.UUID) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneFlow(f), nil
}

func (s *Store) ListFlows(_ context.Context, productLineCode string) ([]domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Flow
	for _, f := range s.flows {
		if productLineCode != "" && f.ProductLineCode != productLineCode {
			continue
		}
		c := cloneFlow(f)
		c.Steps = nil
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductLineCode != out[j].ProductLineCode {
			return out[i].ProductLineCode < out[j].ProductLineCode
		}
		return out[i].EndpointPath < out[j].EndpointPath
	})
	return out, nil
}

func (s *Store) CreateFlow(_ context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[flow.ID]; ok {
		return repo.ErrAlreadyExists
	}
	for _, f := range s.flows {
		if f.ProductLineCode == flow.ProductLineCode && f.EndpointPath == flow.EndpointPath {
			return repo.ErrAlreadyExists
		}
	}
	c := cloneFlow(flow)
	if err := checkStepUniqueness(c.Steps); err != nil {
		return err
	}
	s.flows[flow.ID] = c
	return nil
}

func (s *Store) UpdateFlow(_ context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[flow.ID]
	if !ok {
		return repo.ErrNotFound
	}
	f.Name = flow.Name
	f.Status = flow.Status
	f.UpdatedAt = flow.UpdatedAt
	return nil
}

func (s *Store) DeleteFlow(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.flows, id)
	return nil
}

func (s *Store) AddStep(_ context.Context, step *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[step.FlowID]
	if !ok {
		return repo.ErrNotFound
	}
	steps := append(cloneSteps(f.Steps), cloneStep(*step))
	if err := checkStepUniqueness(steps); err != nil {
		return err
	}
	f.Steps = steps
	f.SortSteps()
	f.UpdatedAt = s.now()
	return nil
}

func (s *Store) UpdateStep(_ context.Context, step *domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[step.FlowID]
	if !ok {
		return repo.ErrNotFound
	}
	steps := cloneSteps(f.Steps)
	found := false
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = cloneStep(*step)
			found = true
			break
		}
	}
	if !found {
		return repo.ErrNotFound
	}
	if err := checkStepUniqueness(steps); err != nil {
		return err
	}
	f.Steps = steps
	f.SortSteps()
	f.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteStep(_ context.Context, flowID, stepID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[flowID]
	if !ok {
		return repo.ErrNotFound
	}
	for i := range f.Steps {
		if f.Steps[i].ID == stepID {
			f.Steps = append(f.Steps[:i:i], f.Steps[i+1:]...)
			f.UpdatedAt = s.now()
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *Store) ReorderSteps(_ context.Context, flowID uuid.UUID, order []uuid.UUID) ([]domain.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[flowID]
	if !ok {
		return nil, repo.ErrNotFound
	}

	current := make([]uuid.UUID, len(f.Steps))
	for i, st := range f.Steps {
		current[i] = st.ID
	}
	if err := repo.CheckPermutation(current, order); err != nil {
		return nil, err
	}

	pos := make(map[uuid.UUID]int, len(order))
	for i, id := range order {
		pos[id] = i + 1
	}
	for i := range f.Steps {
		f.Steps[i].StepOrder = pos[f.Steps[i].ID]
	}
	f.SortSteps()
	f.UpdatedAt = s.now()
	return cloneSteps(f.Steps), nil
}

func checkStepUniqueness(steps []domain.Step) error {
	orders := make(map[int]bool, len(steps))
	names := make(map[string]bool, len(steps))
	for _, st := range steps {
		if orders[st.StepOrder] || names[st.Name] {
			return fmt.Errorf("%w: step %q order %d", repo.ErrAlreadyExists, st.Name, st.StepOrder)
		}
		orders[st.StepOrder] = true
		names[st.Name] = true
	}
	return nil
}

// --- Rules ---

func (s *Store) ListRules(_ context.Context, productLineCode string) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Rule{}
	for _, r := range s.rules {
		if r.ProductLineCode == productLineCode {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetRule(_ context.Context, id uuid.UUID) (*domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := cloneRule(r)
	return &c, nil
}

func (s *Store) CreateRule(_ context.Context, rule *domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; ok {
		return repo.ErrAlreadyExists
	}
	for _, r := range s.rules {
		if r.ProductLineCode == rule.ProductLineCode && r.Name == rule.Name {
			return repo.ErrAlreadyExists
		}
	}
	c := cloneRule(rule)
	s.rules[rule.ID] = &c
	return nil
}

func (s *Store) UpdateRule(_ context.Context, rule *domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return repo.ErrNotFound
	}
	c := cloneRule(rule)
	c.ProductLineCode = existing.ProductLineCode
	c.CreatedAt = existing.CreatedAt
	s.rules[rule.ID] = &c
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// --- Mappings ---

func (s *Store) ListMappings(_ context.Context, productLineCode string) ([]domain.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Mapping{}
	for _, m := range s.mappings {
		if m.ProductLineCode == productLineCode {
			out = append(out, cloneMapping(m))
		}
	}
	sortMappings(out)
	return out, nil
}

func (s *Store) GetMapping(_ context.Context, id uuid.UUID) (*domain.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := cloneMapping(m)
	return &c, nil
}

func (s *Store) FindMapping(_ context.Context, productLineCode string, direction domain.MappingDirection) (*domain.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []domain.Mapping
	for _, m := range s.mappings {
		if m.ProductLineCode == productLineCode && m.Direction == direction {
			found = append(found, cloneMapping(m))
		}
	}
	if len(found) == 0 {
		return nil, repo.ErrNotFound
	}
	sortMappings(found)
	return &found[0], nil
}

func (s *Store) CreateMapping(_ context.Context, m *domain.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[m.ID]; ok {
		return repo.ErrAlreadyExists
	}
	c := cloneMapping(m)
	s.mappings[m.ID] = &c
	return nil
}

func (s *Store) UpdateMapping(_ context.Context, m *domain.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mappings[m.ID]
	if !ok {
		return repo.ErrNotFound
	}
	c := cloneMapping(m)
	c.ProductLineCode = existing.ProductLineCode
	c.CreatedAt = existing.CreatedAt
	s.mappings[m.ID] = &c
	return nil
}

func (s *Store) DeleteMapping(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.mappings, id)
	return nil
}

func sortMappings(ms []domain.Mapping) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Direction != ms[j].Direction {
			return ms[i].Direction < ms[j].Direction
		}
		return ms[i].Name < ms[j].Name
	})
}

// --- Lookup tables ---

func (s *Store) ListLookupTables(_ context.Context) ([]domain.LookupTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.LookupTable{}
	for _, t := range s.lookups {
		out = append(out, cloneLookup(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) GetLookupTable(_ context.Context, key string) (*domain.LookupTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.lookups[strings.ToUpper(key)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := cloneLookup(t)
	return &c, nil
}

func (s *Store) PutLookupTable(_ context.Context, t *domain.LookupTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneLookup(t)
	s.lookups[strings.ToUpper(t.Key)] = &c
	return nil
}

func (s *Store) DeleteLookupTable(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := strings.ToUpper(key)
	if _, ok := s.lookups[k]; !ok {
		return repo.ErrNotFound
	}
	delete(s.lookups, k)
	return nil
}

// --- Transactions ---

func (s *Store) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[tx.ID]; ok {
		return repo.ErrAlreadyExists
	}
	c := cloneTransaction(tx)
	s.txs[tx.ID] = &c
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := cloneTransaction(tx)
	return &c, nil
}

func (s *Store) ListTransactions(_ context.Context, f domain.TransactionFilter) ([]domain.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Transaction
	for _, tx := range s.txs {
		if f.ProductLineCode != "" && tx.ProductLineCode != f.ProductLineCode {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.CorrelationID != "" && tx.CorrelationID != f.CorrelationID {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !tx.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		matched = append(matched, cloneTransaction(tx))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= total {
		return []domain.Transaction{}, total, nil
	}
	end := f.Offset + limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) UpdateTransaction(_ context.Context, id uuid.UUID, patch domain.TransactionPatch) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if tx.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: transaction %s is %s", repo.ErrInvalidState, id, tx.Status)
	}
	if patch.Status != nil && !tx.Status.CanTransitionTo(*patch.Status) {
		return nil, fmt.Errorf("%w: transaction %s cannot move from %s to %s", repo.ErrInvalidState, id, tx.Status, *patch.Status)
	}
	if patch.ResponsePayload != nil {
		patch.ResponsePayload = engine.Clone(patch.ResponsePayload)
	}
	if patch.Flags != nil {
		patch.Flags = cloneFlags(patch.Flags)
	}
	patch.Apply(tx, s.now())
	c := cloneTransaction(tx)
	return &c, nil
}

func (s *Store) AppendStepLog(_ context.Context, log *domain.StepLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[log.TransactionID]; !ok {
		return repo.ErrNotFound
	}
	s.logs[log.TransactionID] = append(s.logs[log.TransactionID], cloneLog(*log))
	return nil
}

func (s *Store) ListStepLogs(_ context.Context, transactionID uuid.UUID) ([]domain.StepLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.logs[transactionID]
	out := make([]domain.StepLog, len(logs))
	for i, l := range logs {
		out[i] = cloneLog(l)
	}
	return out, nil
}

// --- Copies ---

func cloneFlow(f *domain.Flow) *domain.Flow {
	c := *f
	c.Steps = cloneSteps(f.Steps)
	return &c
}

func cloneSteps(steps []domain.Step) []domain.Step {
	out := make([]domain.Step, len(steps))
	for i, st := range steps {
		out[i] = cloneStep(st)
	}
	return out
}

func cloneStep(st domain.Step) domain.Step {
	st.Config = engine.Clone(st.Config)
	return st
}

func cloneRule(r *domain.Rule) domain.Rule {
	c := *r
	c.Conditions = append([]domain.Condition(nil), r.Conditions...)
	for i := range c.Conditions {
		c.Conditions[i].Value = engine.CloneValue(c.Conditions[i].Value)
	}
	c.Actions = append([]domain.Action(nil), r.Actions...)
	for i := range c.Actions {
		c.Actions[i].Value = engine.CloneValue(c.Actions[i].Value)
	}
	c.ScopeTags = append([]domain.ScopeTag(nil), r.ScopeTags...)
	return c
}

func cloneMapping(m *domain.Mapping) domain.Mapping {
	c := *m
	c.Fields = append([]domain.FieldMapping(nil), m.Fields...)
	for i := range c.Fields {
		c.Fields[i].TransformConfig = engine.Clone(c.Fields[i].TransformConfig)
		c.Fields[i].DefaultValue = engine.CloneValue(c.Fields[i].DefaultValue)
	}
	return c
}

func cloneLookup(t *domain.LookupTable) domain.LookupTable {
	c := *t
	c.Entries = engine.Clone(t.Entries)
	return c
}

func cloneTransaction(tx *domain.Transaction) domain.Transaction {
	c := *tx
	c.Scope = engine.Clone(tx.Scope)
	c.RequestPayload = engine.Clone(tx.RequestPayload)
	c.ResponsePayload = engine.Clone(tx.ResponsePayload)
	c.Flags = cloneFlags(tx.Flags)
	if tx.FlowID != nil {
		id := *tx.FlowID
		c.FlowID = &id
	}
	if tx.PremiumResult != nil {
		p := *tx.PremiumResult
		c.PremiumResult = &p
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func cloneFlags(flags []domain.RuleFlag) []domain.RuleFlag {
	if flags == nil {
		return nil
	}
	out := make([]domain.RuleFlag, len(flags))
	for i, f := range flags {
		out[i] = f
		out[i].Value = engine.CloneValue(f.Value)
	}
	return out
}

func cloneLog(l domain.StepLog) domain.StepLog {
	l.InputSnapshot = engine.Clone(l.InputSnapshot)
	l.OutputSnapshot = engine.Clone(l.OutputSnapshot)
	if l.IterationIndex != nil {
		i := *l.IterationIndex
		l.IterationIndex = &i
	}
	if l.CompletedAt != nil {
		t := *l.CompletedAt
		l.CompletedAt = &t
	}
	return l
}
