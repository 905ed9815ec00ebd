// Package workflow описывает машину состояний согласования,
// общую для операций с баллами и участий в кампаниях.
package workflow

import (
	"fmt"

	"github.com/linkplace/points-system/internal/model"
)

// ErrInvalidTransition возвращается при недопустимом переходе статуса.
type ErrInvalidTransition struct {
	From model.Status
	To   model.Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// transitions перечисляет допустимые переходы. Промежуточные состояния
// пропускать нельзя, возврат в pending невозможен.
var transitions = map[model.Status][]model.Status{
	model.StatusPending:  {model.StatusApproved, model.StatusRejected},
	model.StatusApproved: {model.StatusRewardClaimed},
}

// CanTransition сообщает, допустим ли переход из состояния from в to.
func CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition проверяет переход и возвращает новое состояние.
func Transition(from, to model.Status) (model.Status, error) {
	if !CanTransition(from, to) {
		return from, &ErrInvalidTransition{From: from, To: to}
	}
	return to, nil
}

// terminal сообщает, что из состояния s нет исходящих переходов.
func terminal(s model.Status) bool {
	return len(transitions[s]) == 0
}
