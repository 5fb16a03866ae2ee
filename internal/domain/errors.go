package domain

import "errors"

// ErrNotFound — сентинел для запросных отказов (неизвестный id политики/прогона).
// Два стиля ошибок в системе разделены намеренно:
//   - lookup-отказы поднимаются как ошибки (ErrNotFound → 404), у вызывающего нет пути вперед;
//   - отказы операторских команд promote/cancel — штатный исход, они возвращаются
//     значением (CommandResult), чтобы дашборд рендерил причину без разбора исключений.
var ErrNotFound = errors.New("not found")
