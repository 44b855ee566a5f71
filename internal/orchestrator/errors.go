package orchestrator

import (
	"errors"
	"fmt"

	"github.com/shaiso/ratingflow/internal/domain"
)

// Ошибки оркестратора.
var (
	// ErrFlowNotFound — flow для продукта и endpoint не найден.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrFlowNotActive — flow в статусе draft.
	ErrFlowNotActive = errors.New("flow is not active")

	// ErrInvalidRequest — запрос на рейтинг без обязательных полей.
	ErrInvalidRequest = errors.New("invalid rate request")
)

// StepFailure — фатальная ошибка шага, прервавшая транзакцию.
type StepFailure struct {
	StepName string
	StepType domain.StepType
	Kind     domain.ErrorKind
	Err      error
}

// Error возвращает короткое описание без деталей ошибки.
// Детали хранятся в журнале шага.
func (e *StepFailure) Error() string {
	if e.StepName == "" {
		return fmt.Sprintf("%s: transaction aborted", e.Kind)
	}
	return fmt.Sprintf("%s: step %s failed", e.Kind, e.StepName)
}

// Unwrap возвращает исходную ошибку шага.
func (e *StepFailure) Unwrap() error {
	return e.Err
}
