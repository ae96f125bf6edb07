package core

import "offsetcore/pkg/domain"

type (
	Vector3                       = domain.Vector3
	OffsetLocation                = domain.OffsetLocation
	DefaultLocation               = domain.DefaultLocation
	LocationSpecific              = domain.LocationSpecific
	WorkingOffset                 = domain.WorkingOffset
	ExistingOffset                = domain.ExistingOffset
	OffsetState                   = domain.OffsetState
	OffsetDetails                 = domain.OffsetDetails
	DefaultOffsetDetails          = domain.DefaultOffsetDetails
	LocationSpecificOffsetDetails = domain.LocationSpecificOffsetDetails
	LabwareGeometryDetails        = domain.LabwareGeometryDetails
	SelectedLabwareInfo           = domain.SelectedLabwareInfo
	Substep                       = domain.Substep
	Step                          = domain.Step
	Change                        = domain.Change
	Violation                     = domain.Violation
	Result                        = domain.Result
	RuleViolationError            = domain.RuleViolationError
)

// staleLocation records the soft diagnostic for an operation whose location
// has no entry. Callers return their input unchanged alongside it.
func staleLocation(rule string, uri string, loc OffsetLocation) Result {
	err := &domain.StaleLocationError{Location: loc}
	res := Result{}
	res.Add(Violation{
		Rule:     rule,
		Code:     domain.CodeStaleLocation,
		Severity: domain.SeverityWarn,
		Message:  err.Error(),
		URI:      uri,
		Location: locationKey(loc),
	})
	return res
}

func blocking(rule string, code domain.Code, uri string, loc OffsetLocation, err error) Result {
	res := Result{}
	res.Add(Violation{
		Rule:     rule,
		Code:     code,
		Severity: domain.SeverityBlock,
		Message:  err.Error(),
		URI:      uri,
		Location: locationKey(loc),
	})
	return res
}

func locationKey(loc OffsetLocation) string {
	if loc == nil {
		return ""
	}
	return loc.Key()
}
