package domain

import "time"

// LookupTable — справочник ключ → значение (территории, тарифы, коды).
//
// Значение может быть скаляром или объектом: enrich сливает объекты
// в рабочий документ, lookup-трансформация подставляет значение целиком.
type LookupTable struct {
	Key       string         `json:"key" validate:"required"`
	Name      string         `json:"name,omitempty"`
	Entries   map[string]any `json:"entries"`
	UpdatedAt time.Time      `json:"updated_at"`
}
