package opt

import "fmt"

// DimensionError reports mismatched start and bound vectors.
type DimensionError struct {
	Start, Lower, Upper int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: start %d, lower %d, upper %d", e.Start, e.Lower, e.Upper)
}

// BoundsError reports an empty or NaN box in one coordinate.
type BoundsError struct {
	Index        int
	Lower, Upper float64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("invalid bounds at %d: [%g, %g]", e.Index, e.Lower, e.Upper)
}
