// Package engine содержит общие механизмы работы с рабочим документом.
//
// Включает:
//   - path.go     — чтение и запись полей по пути (policy.drivers[0].age)
//   - coerce.go   — приведение типов JSON-значений
//   - expr.go     — ограниченная грамматика выражений (run_condition, expression, assignments)
//   - template.go — рендеринг Go templates в конфигурации внешних вызовов
//   - validate.go — валидация flow при сохранении
//
// Выражения не являются скриптовым языком: только арифметика, сравнения,
// ссылки на поля и набор чистых функций.
package engine
