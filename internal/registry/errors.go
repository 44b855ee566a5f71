package registry

import "errors"

var (
	// ErrUnknownTemplate — нет встроенного шаблона для формата.
	ErrUnknownTemplate = errors.New("unknown flow template")

	// ErrInvalidFlow — flow или шаг не прошли проверку при сохранении.
	ErrInvalidFlow = errors.New("invalid flow")

	// ErrStepNotFound — шаг не принадлежит flow.
	ErrStepNotFound = errors.New("step not found")
)
