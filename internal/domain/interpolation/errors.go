package interpolation

import (
	"errors"
	"fmt"

	"github.com/okian/normscope/internal/domain/model"
)

// Build errors.
var (
	ErrEmptyPoints = model.WrapKind("interpolation.build", model.ErrValidation, errors.New("no sample points"))
	ErrNonFinite   = model.WrapKind("interpolation.build", model.ErrValidation, errors.New("non-finite sample point"))
)

// Reasons a hyperbolic fit is replaced by the linear fallback.
const (
	ReasonZeroLoad = "zero_load"
	ReasonSingular = "singular_system"
	ReasonPoorFit  = "poor_fit"
)

// DegenerateError explains a fallback. It matches model.ErrDegenerate.
type DegenerateError struct {
	Reason   string
	Det      float64
	Residual float64
}

func (e *DegenerateError) Error() string {
	switch e.Reason {
	case ReasonPoorFit:
		return fmt.Sprintf("degenerate model: %s (max relative residual %.4g)", e.Reason, e.Residual)
	case ReasonSingular:
		return fmt.Sprintf("degenerate model: %s (det %.3g)", e.Reason, e.Det)
	default:
		return "degenerate model: " + e.Reason
	}
}

func (e *DegenerateError) Unwrap() error { return model.ErrDegenerate }
