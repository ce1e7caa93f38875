package kinematics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/andresmejia3/barpath/internal/types"
)

// Summarize computes velocity statistics. The standard deviation is the
// population one. Success rate is points per frame seen, 0 when no frame was
// seen, and never above 1.
func Summarize(velocity []float64, framesSeen int) types.ResultSummary {
	s := types.ResultSummary{TotalPoints: len(velocity)}
	if len(velocity) == 0 {
		return s
	}

	s.PeakVelocity = floats.Max(velocity)
	s.MinVelocity = floats.Min(velocity)
	s.AvgVelocity, s.StdVelocity = stat.PopMeanStdDev(velocity, nil)

	if framesSeen > 0 {
		s.SuccessRate = min(float64(s.TotalPoints)/float64(framesSeen), 1)
	}
	return s
}
