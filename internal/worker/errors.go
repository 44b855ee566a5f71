package worker

import "errors"

// Ошибки воркера.
var (
	// ErrInvalidMessage — сообщение rate.requested не разбирается.
	ErrInvalidMessage = errors.New("invalid rate request message")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
