package domain

import (
	"context"
	"time"
)

// OffsetApplyRequest is one vector to persist.
type OffsetApplyRequest struct {
	DefinitionURI string         `json:"definitionUri"`
	Location      OffsetLocation `json:"-"`
	Vector        Vector3        `json:"vector"`
}

// PersistedOffset is a durably stored offset as reported by a repository.
type PersistedOffset struct {
	ID            string         `json:"id"`
	DefinitionURI string         `json:"definitionUri"`
	Location      OffsetLocation `json:"-"`
	Vector        Vector3        `json:"vector"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// OffsetChangeSet is everything an Apply needs to push to persistence.
type OffsetChangeSet struct {
	Upserts []OffsetApplyRequest
	// Deletes lists persisted offset IDs removed by reset-to-default.
	Deletes []string
	// Resets lists the locations being reset. Repositories that keep older
	// records per location must have all of them removed, not only Deletes.
	Resets []OffsetLocation
}

// Empty reports whether there is nothing to persist.
func (c OffsetChangeSet) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0 && len(c.Resets) == 0
}

// OffsetRepository durably stores offsets. Implementations live under
// internal/infra.
type OffsetRepository interface {
	ApplyOffsets(ctx context.Context, requests []OffsetApplyRequest) ([]PersistedOffset, error)
	DeleteOffsets(ctx context.Context, ids []string) error
	ListOffsets(ctx context.Context, definitionURI string) ([]PersistedOffset, error)
}

// Axis names a gantry axis a jog moves along.
type Axis string

// Jog axes.
const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// Valid reports whether a is a known axis.
func (a Axis) Valid() bool {
	return a == AxisX || a == AxisY || a == AxisZ
}

// Jog is one relative movement request: step millimetres along Axis in the
// direction of Direction's sign.
type Jog struct {
	Axis      Axis    `json:"axis"`
	Direction int     `json:"direction"`
	Step      float64 `json:"step"`
}

// Distance is the signed movement.
func (j Jog) Distance() float64 {
	switch {
	case j.Direction > 0:
		return j.Step
	case j.Direction < 0:
		return -j.Step
	default:
		return 0
	}
}

// Command is an opaque hardware command handed to the command-chain
// executor.
type Command struct {
	CommandType string         `json:"commandType" yaml:"commandType"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// CommandResult reports one executed command.
type CommandResult struct {
	ID          string         `json:"id"`
	CommandType string         `json:"commandType"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// Failed reports whether the command did not succeed.
func (r CommandResult) Failed() bool { return r.Status == "failed" }
