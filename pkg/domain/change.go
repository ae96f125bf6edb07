package domain

// Target identifies what part of a run a change touched.
type Target string

// Change targets recorded in transactions and audit entries.
const (
	TargetRun       Target = "run"
	TargetLabware   Target = "labware"
	TargetSelection Target = "selection"
	TargetSubstep   Target = "substep"
	TargetStep      Target = "step"
)

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the audit trail.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a mutation applied during a transaction.
type Change struct {
	Target Target
	Action Action
	URI    string
	Before any
	After  any
}
