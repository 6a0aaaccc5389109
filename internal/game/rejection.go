// Package game holds the error vocabulary shared by the game engine packages.
package game

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a condition that can only arise from inconsistent content
// or state, such as a channel of an active raid that is missing from the
// catalog. It is never shown to players as game feedback.
var ErrInvariant = errors.New("invariant violation")

// Invariantf wraps ErrInvariant with a formatted description.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Code identifies why a command was rejected.
type Code string

const (
	CodeNotInRaid         Code = "not_in_raid"
	CodeWrongChannel      Code = "wrong_channel"
	CodeCooldown          Code = "cooldown"
	CodeNoWeapon          Code = "no_weapon"
	CodeNoAmmo            Code = "no_ammo"
	CodeTargetNotFound    Code = "target_not_found"
	CodeSelfTarget        Code = "self_target"
	CodeAlreadyInRaid     Code = "already_in_raid"
	CodeUnknownLocation   Code = "unknown_location"
	CodeLevelTooLow       Code = "level_too_low"
	CodeRaidFull          Code = "raid_full"
	CodeNotEvacChannel    Code = "not_evac_channel"
	CodeMissingKey        Code = "missing_key"
	CodeAlreadyEvacuating Code = "already_evacuating"
	CodeNotConfirmed      Code = "not_confirmed"
	CodeConflict          Code = "conflict"
)

// Rejection is a user-visible refusal of a command. A rejection never leaves a
// partial mutation behind.
//
// Retryable is set for race-lost rejections: the precondition held when checked
// but no longer held once the locks were taken.
type Rejection struct {
	Code      Code
	Message   string
	Retryable bool
}

func (r *Rejection) Error() string {
	if r.Retryable {
		return fmt.Sprintf("rejected (%s, retryable): %s", r.Code, r.Message)
	}
	return fmt.Sprintf("rejected (%s): %s", r.Code, r.Message)
}

// Reject returns a validation rejection.
func Reject(code Code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RaceLost returns a retryable rejection.
func RaceLost(code Code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
