package subject

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength  = 100
	MaxGroupLength = 60
)

// Subject types
const (
	TypePlayer = "player"
	TypeCoach  = "coach"
)

// Domain errors
var (
	ErrEmptyName      = errors.New("subject name cannot be empty")
	ErrNameTooLong    = errors.New("subject name cannot exceed 100 characters")
	ErrGroupTooLong   = errors.New("subject group cannot exceed 60 characters")
	ErrInvalidType    = errors.New("subject type must be 'player' or 'coach'")
	ErrNegativeAmount = errors.New("base amount cannot be negative")
)

// Subject is a player or coach eligible for monthly billing.
// Owned by the registry; the payment engine only reads it.
type Subject struct {
	ID         string
	Name       string
	Type       string
	Group      string // team group for players, specialization for coaches
	Email      string
	BaseAmount decimal.Decimal
}

// ValidType reports whether t is a known subject type.
func ValidType(t string) bool {
	return t == TypePlayer || t == TypeCoach
}

// Validate checks if the Subject has valid data.
// PRE: Subject struct is initialized
// POST: Returns error if validation fails, nil otherwise
func (s *Subject) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if len(s.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if len(s.Group) > MaxGroupLength {
		return ErrGroupTooLong
	}
	if !ValidType(s.Type) {
		return ErrInvalidType
	}
	if s.BaseAmount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
