package core

import (
	"context"
	"errors"
	"fmt"

	"offsetcore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewUniqueLocationRule())
	engine.Register(NewDefaultResetRule())
	engine.Register(NewConfirmedPositionsRule())
	engine.Register(NewSelectionRule())
	return engine
}

// NewUniqueLocationRule blocks any labware whose structural invariants no
// longer hold: a URI mismatch or two location-specific entries at the same
// location.
func NewUniqueLocationRule() domain.Rule {
	return uniqueLocationRule{}
}

type uniqueLocationRule struct{}

func (uniqueLocationRule) Name() string { return "unique_location" }

func (uniqueLocationRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, lw := range view.ListLabware() {
		err := lw.Validate()
		if err == nil {
			continue
		}
		code := domain.CodeInvariant
		var dup *domain.DuplicateLocationError
		if errors.As(err, &dup) {
			code = domain.CodeDuplicateLocation
		}
		res.Add(domain.Violation{
			Rule:     "unique_location",
			Code:     code,
			Severity: domain.SeverityBlock,
			Message:  err.Error(),
			URI:      lw.DefinitionURI,
		})
	}
	return res, nil
}

// NewDefaultResetRule blocks a reset queued on a default offset.
func NewDefaultResetRule() domain.Rule {
	return defaultResetRule{}
}

type defaultResetRule struct{}

func (defaultResetRule) Name() string { return "default_reset" }

func (defaultResetRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, lw := range view.ListLabware() {
		if lw.Default.WorkingConfirmed().IsReset() {
			res.Add(domain.Violation{
				Rule:     "default_reset",
				Code:     domain.CodeResetUnsupported,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("default offset for %s carries a reset", lw.DefinitionURI),
				URI:      lw.DefinitionURI,
				Location: lw.Default.Location.Key(),
			})
		}
	}
	return res, nil
}

// NewConfirmedPositionsRule warns about confirmed vectors whose jog session
// was restarted and not finished. Such entries cannot be applied until a
// final position is recorded again.
func NewConfirmedPositionsRule() domain.Rule {
	return confirmedPositionsRule{}
}

type confirmedPositionsRule struct{}

func (confirmedPositionsRule) Name() string { return "confirmed_positions" }

func (confirmedPositionsRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		if change.Target == domain.TargetLabware {
			touched[change.URI] = struct{}{}
		}
	}
	res := domain.Result{}
	for uri := range touched {
		lw, ok := view.FindLabware(uri)
		if !ok {
			continue
		}
		check := func(d domain.OffsetDetails) {
			w := d.State().Working
			if w == nil {
				return
			}
			if _, ok := w.Confirmed.Vector(); !ok {
				return
			}
			if w.InitialPosition != nil && w.FinalPosition != nil {
				return
			}
			res.Add(domain.Violation{
				Rule:     "confirmed_positions",
				Code:     domain.CodeIncompleteCalibration,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("confirmed offset at %s awaits a final position", d.OffsetLocation()),
				URI:      uri,
				Location: d.OffsetLocation().Key(),
			})
		}
		check(lw.Default)
		for _, entry := range lw.LocationSpecific {
			check(entry)
		}
	}
	return res, nil
}

// NewSelectionRule keeps the selection consistent with the substep and the
// run's labware. Editing substeps need a selection; a selection pointing at
// labware or a location the run does not know is reported as stale.
func NewSelectionRule() domain.Rule {
	return selectionRule{}
}

type selectionRule struct{}

func (selectionRule) Name() string { return "selection" }

func (selectionRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	sel := view.Selection()
	switch view.Substep() {
	case domain.SubstepEditOffsetPrep, domain.SubstepEditOffsetCheck:
		if sel == nil {
			res.Add(domain.Violation{
				Rule:     "selection",
				Code:     domain.CodeNoSelectedLabware,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("substep %s requires selected labware", view.Substep()),
			})
			return res, nil
		}
	}
	if sel == nil {
		return res, nil
	}
	lw, ok := view.FindLabware(sel.URI)
	if !ok {
		res.Add(domain.Violation{
			Rule:     "selection",
			Code:     domain.CodeStaleLocation,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("selected labware %s is not part of run %s", sel.URI, view.RunID()),
			URI:      sel.URI,
		})
		return res, nil
	}
	if sel.Location != nil {
		if _, ok := lw.Lookup(sel.Location); !ok {
			res.Add(domain.Violation{
				Rule:     "selection",
				Code:     domain.CodeStaleLocation,
				Severity: domain.SeverityWarn,
				Message:  (&domain.StaleLocationError{Location: sel.Location}).Error(),
				URI:      sel.URI,
				Location: sel.Location.Key(),
			})
		}
	}
	return res, nil
}
