package deface

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"voxface/internal/models"
)

// computeMetrics summarizes the intensity changes between the input and
// defaced volumes. Absolute and squared differences are gathered over
// the face bounding box; the changed-voxel count covers the whole
// volume, which by construction only differs inside the box.
func computeMetrics(in, out *models.Volume, box models.BoundingBox) Metrics {
	var m Metrics

	for i := range in.Data {
		if out.Data[i] != in.Data[i] {
			m.VoxelsChanged++
		}
	}
	m.FractionChanged = float64(m.VoxelsChanged) / float64(in.NumVoxels())

	absDiffs := make([]float64, 0, box.NumVoxels())
	sqDiffs := make([]float64, 0, box.NumVoxels())
	for z := box.Start[2]; z < box.End[2]; z++ {
		for y := box.Start[1]; y < box.End[1]; y++ {
			for x := box.Start[0]; x < box.End[0]; x++ {
				d := out.At(x, y, z) - in.At(x, y, z)
				absDiffs = append(absDiffs, math.Abs(d))
				sqDiffs = append(sqDiffs, d*d)
			}
		}
	}

	if len(absDiffs) > 0 {
		m.MeanAbsDiff = stat.Mean(absDiffs, nil)
		m.RMSE = math.Sqrt(stat.Mean(sqDiffs, nil))
	}

	return m
}
