package workflow

import (
	"errors"
	"testing"

	"github.com/linkplace/points-system/internal/model"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    model.Status
		to      model.Status
		allowed bool
	}{
		{"pending to approved", model.StatusPending, model.StatusApproved, true},
		{"pending to rejected", model.StatusPending, model.StatusRejected, true},
		{"approved to reward_claimed", model.StatusApproved, model.StatusRewardClaimed, true},
		{"pending to reward_claimed skips approval", model.StatusPending, model.StatusRewardClaimed, false},
		{"approved to rejected", model.StatusApproved, model.StatusRejected, false},
		{"approved back to pending", model.StatusApproved, model.StatusPending, false},
		{"rejected to approved", model.StatusRejected, model.StatusApproved, false},
		{"rejected to pending", model.StatusRejected, model.StatusPending, false},
		{"reward_claimed to approved", model.StatusRewardClaimed, model.StatusApproved, false},
		{"repeat approval", model.StatusApproved, model.StatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestTransitionKeepsStateOnError(t *testing.T) {
	got, err := Transition(model.StatusRejected, model.StatusApproved)
	if err == nil {
		t.Fatalf("expected error for rejected -> approved")
	}

	var invalid *ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidTransition, got %T", err)
	}
	if got != model.StatusRejected {
		t.Fatalf("state = %s, want unchanged %s", got, model.StatusRejected)
	}
}

func TestTerminalStates(t *testing.T) {
	if !terminal(model.StatusRejected) {
		t.Fatalf("rejected must be terminal")
	}
	if !terminal(model.StatusRewardClaimed) {
		t.Fatalf("reward_claimed must be terminal")
	}
	if terminal(model.StatusPending) {
		t.Fatalf("pending must not be terminal")
	}
	if terminal(model.StatusApproved) {
		t.Fatalf("approved must not be terminal")
	}
}
