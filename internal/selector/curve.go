package selector

import (
	"fmt"
	"math"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Curve turns a distance in [0, max] into a confidence in [0, 1]. Every
// curve gives 1 at distance 0, exactly 0 at max and beyond, and never rises
// as the distance grows.
type Curve interface {
	Name() string
	Confidence(distance, max float64) float64
}

// Linear falls off in proportion to the distance.
type Linear struct{}

func (Linear) Name() string { return types.CurveLinear }

func (Linear) Confidence(distance, max float64) float64 {
	if distance >= max {
		return 0
	}
	if distance <= 0 {
		return 1
	}
	return 1 - distance/max
}

// Cosine stays near 1 for close matches and drops steeply near max.
type Cosine struct{}

func (Cosine) Name() string { return types.CurveCosine }

func (Cosine) Confidence(distance, max float64) float64 {
	if distance >= max {
		return 0
	}
	if distance <= 0 {
		return 1
	}
	return math.Cos(distance / max * math.Pi / 2)
}

// CurveByName returns the curve registered under name.
func CurveByName(name string) (Curve, error) {
	switch name {
	case types.CurveLinear, "":
		return Linear{}, nil
	case types.CurveCosine:
		return Cosine{}, nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrCurveUnknown, name)
}
