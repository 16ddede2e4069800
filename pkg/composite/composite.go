// Package composite merges a voxelated facial sub-volume back into the
// full head volume. Inside the face box the result is a linear
// cross-dissolve weighted by the edge mask; everywhere else the original
// intensities pass through bit-identical.
package composite

import (
	"voxface/internal/models"
)

// Blend returns a new volume equal to vol outside the bounding box and a
// mask-weighted mix of vol and the transformed sub-volume inside it.
// The input volume is not modified.
func Blend(vol *models.Volume, box models.BoundingBox, sub []float64, mask *models.EdgeMask) (*models.Volume, error) {
	s := box.Shape()
	if len(sub) != box.NumVoxels() {
		return nil, &models.ShapeMismatchError{
			GotLen: len(sub),
			Want:   s,
		}
	}
	if mask.Box != box {
		return nil, &models.ShapeMismatchError{
			Got:  mask.Box.Shape(),
			Want: s,
		}
	}
	if len(mask.Weights) != box.NumVoxels() {
		return nil, &models.ShapeMismatchError{
			GotLen: len(mask.Weights),
			Want:   s,
		}
	}

	out := vol.Clone()

	idx := 0
	for z := box.Start[2]; z < box.End[2]; z++ {
		for y := box.Start[1]; y < box.End[1]; y++ {
			for x := box.Start[0]; x < box.End[0]; x++ {
				w := mask.Weights[idx]
				if w > 0 {
					orig := vol.At(x, y, z)
					out.Set(x, y, z, w*sub[idx]+(1-w)*orig)
				}
				idx++
			}
		}
	}

	return out, nil
}

// Extract copies the intensities inside the bounding box into a fresh
// box-shaped working array.
func Extract(vol *models.Volume, box models.BoundingBox) []float64 {
	sub := make([]float64, box.NumVoxels())
	idx := 0
	for z := box.Start[2]; z < box.End[2]; z++ {
		for y := box.Start[1]; y < box.End[1]; y++ {
			for x := box.Start[0]; x < box.End[0]; x++ {
				sub[idx] = vol.At(x, y, z)
				idx++
			}
		}
	}
	return sub
}
