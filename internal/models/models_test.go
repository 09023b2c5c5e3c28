package models

import "testing"

func TestStatusTransitions(t *testing.T) {
	allowed := [][2]RideStatus{
		{StatusSearching, StatusDriverFound},
		{StatusSearching, StatusPickingUp},
		{StatusDriverFound, StatusPickingUp},
		{StatusPickingUp, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusPickingUp, StatusCancelled},
		{StatusInProgress, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be allowed", tc[0], tc[1])
		}
	}

	// The flow is forward-only and terminal states are final.
	denied := [][2]RideStatus{
		{StatusInProgress, StatusPickingUp},
		{StatusPickingUp, StatusCompleted},
		{StatusCompleted, StatusInProgress},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusPickingUp},
	}
	for _, tc := range denied {
		if CanTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s must be rejected", tc[0], tc[1])
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []RideStatus{StatusCompleted, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RideStatus{StatusSearching, StatusDriverFound, StatusPickingUp, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRoleOther(t *testing.T) {
	if RoleDriver.Other() != RolePassenger || RolePassenger.Other() != RoleDriver {
		t.Fatal("role counterparts mismatched")
	}
	if Role("admin").Valid() {
		t.Fatal("unknown role accepted")
	}
}
