// Package locator computes the facial bounding box and blend mask for a
// structural head volume. The facial region is taken as the anterior,
// inferior corner of the volume: the full left-right width, the
// anterior-most fraction of the anteroposterior axis and the
// inferior-most fraction of the superoinferior axis. Which voxel axes
// those are is read from the volume's affine transform.
package locator

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"voxface/internal/models"
)

// Config holds the face localization parameters.
type Config struct {
	// FractionAnterior is the fraction of the anteroposterior axis,
	// measured from the anterior edge, covered by the face box. In (0,1].
	FractionAnterior float64

	// FractionInferior is the fraction of the superoinferior axis,
	// measured from the inferior edge, covered by the face box. In (0,1].
	FractionInferior float64

	// BlendMarginVoxels is the width of the feathered band just inside
	// the box border. Zero disables feathering.
	BlendMarginVoxels int
}

// ClassifyAxes determines which voxel axis, and which direction along it,
// points anterior and inferior in world space. World coordinates follow
// the RAS convention: +x right, +y anterior, +z superior. The dominant
// voxel axis for a world direction is the column of the affine's 3x3
// block with the largest magnitude entry in that world row.
func ClassifyAxes(affine *mat.Dense) (models.AxisMap, error) {
	var am models.AxisMap

	r, c := affine.Dims()
	if r != 4 || c != 4 {
		return am, &models.GeometryError{Reason: "affine must be 4x4"}
	}

	// Rotation/scale block.
	rot := affine.Slice(0, 3, 0, 3)
	if math.Abs(mat.Det(rot)) < 1e-12 {
		return am, &models.GeometryError{Reason: "affine rotation block is singular"}
	}

	antAxis, antVal := dominantAxis(affine, 1)
	infAxis, infVal := dominantAxis(affine, 2)

	if antAxis == infAxis {
		return am, &models.GeometryError{Reason: "anterior and inferior map to the same voxel axis"}
	}

	am.AnteriorAxis = antAxis
	am.AnteriorPositive = antVal > 0
	am.InferiorAxis = infAxis
	// World +z is superior, so increasing index moves inferior when the
	// affine entry is negative.
	am.InferiorPositive = infVal < 0

	return am, nil
}

// dominantAxis returns the voxel axis whose affine column has the largest
// magnitude entry in the given world row, along with that entry's value.
func dominantAxis(affine *mat.Dense, worldRow int) (int, float64) {
	axis := 0
	val := affine.At(worldRow, 0)
	for j := 1; j < 3; j++ {
		if math.Abs(affine.At(worldRow, j)) > math.Abs(val) {
			axis = j
			val = affine.At(worldRow, j)
		}
	}
	return axis, val
}

// Locate computes the facial bounding box and edge mask for a volume with
// the given shape and affine. It is a pure function of its inputs.
func Locate(shape [3]int, affine *mat.Dense, cfg Config) (models.BoundingBox, *models.EdgeMask, error) {
	var box models.BoundingBox

	if cfg.FractionAnterior <= 0 || cfg.FractionAnterior > 1 {
		return box, nil, &models.ConfigError{
			Field:  "faceFractionAnterior",
			Reason: "must be in (0,1]",
		}
	}
	if cfg.FractionInferior <= 0 || cfg.FractionInferior > 1 {
		return box, nil, &models.ConfigError{
			Field:  "faceFractionInferior",
			Reason: "must be in (0,1]",
		}
	}
	if cfg.BlendMarginVoxels < 0 {
		return box, nil, &models.ConfigError{
			Field:  "blendMarginVoxels",
			Reason: "must be non-negative",
		}
	}

	for _, n := range shape {
		if n <= 0 {
			return box, nil, &models.GeometryError{Reason: "volume shape has a non-positive dimension"}
		}
	}

	am, err := ClassifyAxes(affine)
	if err != nil {
		return box, nil, err
	}

	// Start from the full cross-section, then cut down the anterior and
	// inferior axes to their configured fractions.
	box.End = shape

	cut := func(axis int, fraction float64, fromHigh bool) {
		n := shape[axis]
		count := int(math.Round(fraction * float64(n)))
		if count < 1 {
			count = 1
		}
		if count > n {
			count = n
		}
		if fromHigh {
			box.Start[axis] = n - count
		} else {
			box.End[axis] = count
		}
	}

	cut(am.AnteriorAxis, cfg.FractionAnterior, am.AnteriorPositive)
	cut(am.InferiorAxis, cfg.FractionInferior, am.InferiorPositive)

	if box.NumVoxels() == 0 {
		return box, nil, &models.GeometryError{Reason: "face bounding box has zero volume"}
	}

	mask := buildEdgeMask(box, shape, cfg.BlendMarginVoxels)

	return box, mask, nil
}

// buildEdgeMask builds a separable cosine-ramp weight field over the box.
// Each box face that lies strictly inside the volume gets a taper band of
// the given width; faces flush with the volume boundary stay at full
// weight, since there is no adjacent tissue to blend into there.
func buildEdgeMask(box models.BoundingBox, shape [3]int, margin int) *models.EdgeMask {
	s := box.Shape()

	// Per-axis weight profiles, computed once and combined as a product.
	profiles := make([][]float64, 3)
	for axis := 0; axis < 3; axis++ {
		p := make([]float64, s[axis])
		taperLow := box.Start[axis] > 0
		taperHigh := box.End[axis] < shape[axis]
		for i := range p {
			w := 1.0
			if taperLow {
				w = math.Min(w, ramp(i, margin))
			}
			if taperHigh {
				w = math.Min(w, ramp(s[axis]-1-i, margin))
			}
			p[i] = w
		}
		profiles[axis] = p
	}

	weights := make([]float64, box.NumVoxels())
	idx := 0
	for z := 0; z < s[2]; z++ {
		for y := 0; y < s[1]; y++ {
			for x := 0; x < s[0]; x++ {
				weights[idx] = profiles[0][x] * profiles[1][y] * profiles[2][z]
				idx++
			}
		}
	}

	return &models.EdgeMask{Box: box, Weights: weights}
}

// ramp is the taper profile: 0 at the border voxel, rising along a half
// cosine to 1 at distance margin and beyond.
func ramp(dist, margin int) float64 {
	if margin == 0 || dist >= margin {
		return 1
	}
	return 0.5 * (1 - math.Cos(math.Pi*float64(dist)/float64(margin)))
}
