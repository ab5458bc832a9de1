package entities

import "fmt"

// SettlementSide identifies which leg of the index a deposit settles
type SettlementSide string

const (
	SideMint SettlementSide = "mint"
	SideBurn SettlementSide = "burn"
)

func (s SettlementSide) IsValid() bool {
	return s == SideMint || s == SideBurn
}

// SettlementPhase represents the lifecycle phase of a settlement record
type SettlementPhase string

const (
	PhasePending SettlementPhase = "pending"
	PhasePaid    SettlementPhase = "paid"
	PhaseFailed  SettlementPhase = "failed"
)

var ValidSettlementPhases = map[SettlementPhase]bool{
	PhasePending: true,
	PhasePaid:    true,
	PhaseFailed:  true,
}

// ValidSettlementTransitions defines allowed phase transitions
var ValidSettlementTransitions = map[SettlementPhase][]SettlementPhase{
	PhasePending: {PhasePaid, PhaseFailed},
	PhasePaid:    {}, // Terminal state
	PhaseFailed:  {}, // Terminal state
}

func (p SettlementPhase) IsValid() bool {
	return ValidSettlementPhases[p]
}

// CanTransitionTo checks if transition to the new phase is allowed
func (p SettlementPhase) CanTransitionTo(next SettlementPhase) bool {
	for _, allowed := range ValidSettlementTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (p SettlementPhase) IsTerminal() bool {
	return p == PhasePaid || p == PhaseFailed
}

// ValidateTransition validates and returns error if transition is invalid
func (p SettlementPhase) ValidateTransition(next SettlementPhase) error {
	if !next.IsValid() {
		return fmt.Errorf("invalid settlement phase: %s", next)
	}
	if !p.CanTransitionTo(next) {
		return fmt.Errorf("invalid phase transition from %s to %s", p, next)
	}
	return nil
}
