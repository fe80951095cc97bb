// Package occupancy defines the legal states of units and check-ins and
// performs their transitions as conditional (compare-and-set) updates.
package occupancy

import (
	"context"

	app_errors "stayflow/internal/errors"
	"stayflow/internal/models"

	"gorm.io/gorm"
)

// TransitionResult reports the outcome of a conditional update. Applied is
// false when the row's current status no longer matched the expected one at
// write time, which callers must treat as a benign no-op.
type TransitionResult struct {
	Applied bool `json:"applied"`
}

var unitTransitions = map[string]map[string]bool{
	models.UnitStatusAvailable: {
		models.UnitStatusOccupied:    true,
		models.UnitStatusMaintenance: true,
	},
	models.UnitStatusOccupied: {
		models.UnitStatusCleaning:    true,
		models.UnitStatusMaintenance: true,
	},
	models.UnitStatusCleaning: {
		models.UnitStatusAvailable:   true,
		models.UnitStatusMaintenance: true,
	},
	models.UnitStatusMaintenance: {
		models.UnitStatusAvailable: true,
		models.UnitStatusOccupied:  true,
		models.UnitStatusCleaning:  true,
	},
}

var checkinTransitions = map[string]map[string]bool{
	models.CheckinStatusActive: {
		models.CheckinStatusExtended:      true,
		models.CheckinStatusCompleted:     true,
		models.CheckinStatusEarlyCheckout: true,
	},
	models.CheckinStatusExtended: {
		models.CheckinStatusCompleted:     true,
		models.CheckinStatusEarlyCheckout: true,
	},
}

// CanTransitionUnit reports whether a unit may legally move from one status
// to another.
func CanTransitionUnit(from, to string) bool {
	return unitTransitions[from][to]
}

// CanTransitionCheckin reports whether a check-in may legally move from one
// status to another. Terminal statuses have no outgoing transitions.
func CanTransitionCheckin(from, to string) bool {
	return checkinTransitions[from][to]
}

// StateMachine performs occupancy transitions against the backing store. All
// writes are conditional on the expected prior status, so concurrent actors
// racing on the same row result in exactly one applied transition.
type StateMachine struct {
	db *gorm.DB
}

// NewStateMachine creates a state machine bound to a database handle.
func NewStateMachine(db *gorm.DB) *StateMachine {
	return &StateMachine{db: db}
}

// TransitionUnit moves a unit from fromExpected to to. A failed precondition
// (another actor already moved the row) yields Applied=false, not an error.
func (m *StateMachine) TransitionUnit(ctx context.Context, unitID uint, fromExpected, to string) (TransitionResult, error) {
	if !CanTransitionUnit(fromExpected, to) {
		return TransitionResult{}, app_errors.NewAPIError(app_errors.ErrIllegalTransition,
			"unit cannot move from "+fromExpected+" to "+to)
	}

	res := m.db.WithContext(ctx).
		Model(&models.Unit{}).
		Where("id = ? AND status = ?", unitID, fromExpected).
		Update("status", to)
	if res.Error != nil {
		return TransitionResult{}, res.Error
	}
	return TransitionResult{Applied: res.RowsAffected > 0}, nil
}

// TransitionCheckin moves a check-in from fromExpected to to with the same
// compare-and-set semantics as TransitionUnit.
func (m *StateMachine) TransitionCheckin(ctx context.Context, checkinID uint, fromExpected, to string) (TransitionResult, error) {
	if !CanTransitionCheckin(fromExpected, to) {
		return TransitionResult{}, app_errors.NewAPIError(app_errors.ErrIllegalTransition,
			"checkin cannot move from "+fromExpected+" to "+to)
	}

	res := m.db.WithContext(ctx).
		Model(&models.Checkin{}).
		Where("id = ? AND status = ?", checkinID, fromExpected).
		Update("status", to)
	if res.Error != nil {
		return TransitionResult{}, res.Error
	}
	return TransitionResult{Applied: res.RowsAffected > 0}, nil
}
