package engine

import (
	"fmt"
	"math"
	"reflect"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// maxClampRecords caps the clamp history kept on a node.
const maxClampRecords = 32

// ConstraintError reports a constraint violation for one node. It unwraps to
// domain.ErrRequiredConstraint or domain.ErrEnumConstraint.
type ConstraintError struct {
	NodeID string
	Name   string
	Value  any
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("engine: node %s (%s): %v: value %v", e.NodeID, e.Name, e.Err, e.Value)
	}
	return fmt.Sprintf("engine: node %s (%s): %v", e.NodeID, e.Name, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// mergeValues combines a value closer to the leaf with an ancestor's value.
// Two records merge shallowly with the leaf's keys winning; otherwise a
// defined leaf value wins and an undefined one falls back to the ancestor.
func mergeValues(leaf, ancestor any) any {
	lm, leafIsRecord := leaf.(map[string]any)
	am, ancestorIsRecord := ancestor.(map[string]any)
	if leafIsRecord && ancestorIsRecord {
		out := make(map[string]any, len(am)+len(lm))
		for k, v := range am {
			out[k] = domain.CloneValue(v)
		}
		for k, v := range lm {
			out[k] = v
		}
		return out
	}
	if leaf != nil {
		return leaf
	}
	return domain.CloneValue(ancestor)
}

// clampResult describes a range correction made while applying constraints.
type clampResult struct {
	original any
	clamped  any
	bound    string
}

// applyConstraints runs a node's own constraints over its merged value:
// default, then required, then min/max clamp, then enum membership.
func applyConstraints(n *domain.PropertyNode, v any) (any, *clampResult, error) {
	c := n.Constraints
	if c == nil {
		return v, nil, nil
	}

	if v == nil && c.Default != nil {
		v = domain.CloneValue(c.Default)
	}
	if v == nil {
		if c.Required {
			return nil, nil, &ConstraintError{NodeID: n.ID, Name: n.Name, Err: domain.ErrRequiredConstraint}
		}
		return nil, nil, nil
	}

	var clamp *clampResult
	if f, ok := toFloat(v); ok && (c.MinValue != nil || c.MaxValue != nil) {
		bound := ""
		switch {
		case c.MinValue != nil && f < *c.MinValue:
			f, bound = *c.MinValue, "min"
		case c.MaxValue != nil && f > *c.MaxValue:
			f, bound = *c.MaxValue, "max"
		}
		if bound != "" {
			clamped := sameKind(v, f)
			clamp = &clampResult{original: v, clamped: clamped, bound: bound}
			v = clamped
		}
	}

	if len(c.Enum) > 0 && !inEnum(v, c.Enum) {
		return nil, nil, &ConstraintError{NodeID: n.ID, Name: n.Name, Value: v, Err: domain.ErrEnumConstraint}
	}
	return v, clamp, nil
}

// toFloat converts Go numeric kinds to float64. NaN is not treated as a
// number so it is never clamped.
func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// sameKind renders f in the numeric kind of orig.
func sameKind(orig any, f float64) any {
	switch orig.(type) {
	case int:
		return int(f)
	case int8:
		return int8(f)
	case int16:
		return int16(f)
	case int32:
		return int32(f)
	case int64:
		return int64(f)
	case uint:
		return uint(f)
	case uint8:
		return uint8(f)
	case uint16:
		return uint16(f)
	case uint32:
		return uint32(f)
	case uint64:
		return uint64(f)
	case float32:
		return float32(f)
	default:
		return f
	}
}

// inEnum compares numerically when both sides are numbers, so 1 matches 1.0.
func inEnum(v any, enum []any) bool {
	vf, vNum := toFloat(v)
	for _, e := range enum {
		if vNum {
			if ef, ok := toFloat(e); ok && ef == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(v, e) {
			return true
		}
	}
	return false
}
