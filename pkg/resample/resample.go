// Package resample implements the voxelation round trip that destroys
// fine facial geometry: a spline downsample to a coarse grid followed by
// a nearest-neighbor upsample back to the native grid. The downsample
// low-pass filters the signal so each coarse sample is a smooth local
// average; the upsample repeats those samples into visible blocks,
// discarding all sub-block spatial gradients.
package resample

import (
	"math"
	"runtime"
	"sync"

	"voxface/internal/models"
)

// MaxSplineOrder is the highest supported interpolation order for the
// downsample pass.
const MaxSplineOrder = 5

// Voxelate degrades the sub-volume's effective resolution by the given
// per-axis reduction factors. The output has the same shape as the
// input. A factor of 1 on every axis is the identity transform. The
// input is never modified.
func Voxelate(sub []float64, shape [3]int, factor [3]int, order int) ([]float64, error) {
	for _, n := range shape {
		if n <= 0 {
			return nil, &models.DegenerateInputError{Shape: shape}
		}
	}
	for _, f := range factor {
		if f < 1 {
			return nil, &models.ConfigError{Field: "reductionFactor", Reason: "must be >= 1"}
		}
	}
	if order < 0 || order > MaxSplineOrder {
		return nil, &models.ConfigError{Field: "splineOrder", Reason: "must be in [0,5]"}
	}
	if len(sub) != shape[0]*shape[1]*shape[2] {
		return nil, &models.ShapeMismatchError{
			GotLen: len(sub),
			Want:   shape,
		}
	}

	if factor[0] == 1 && factor[1] == 1 && factor[2] == 1 {
		out := make([]float64, len(sub))
		copy(out, sub)
		return out, nil
	}

	// Coarse grid dimensions: floor division of the native dims, never
	// below one sample per axis.
	coarse := [3]int{}
	for i := range coarse {
		coarse[i] = shape[i] / factor[i]
		if coarse[i] < 1 {
			coarse[i] = 1
		}
	}

	// Downsample with the smooth spline kernel, one axis at a time.
	data, dims := sub, shape
	for axis := 0; axis < 3; axis++ {
		data, dims = resampleAxis(data, dims, axis, coarse[axis], order)
	}

	// Upsample back to the native grid with nearest-neighbor (order 0).
	for axis := 0; axis < 3; axis++ {
		data, dims = resampleAxis(data, dims, axis, shape[axis], 0)
	}

	return data, nil
}

// resampleAxis resamples the array along one axis to a new length,
// leaving the other two axes untouched. Sample positions are
// center-aligned: destination sample i maps to source coordinate
// (i+0.5)*srcN/dstN - 0.5. Source samples outside the array are
// replicated from the nearest edge. Each output voxel accumulates its
// kernel taps in a fixed low-to-high order, so results are bit-identical
// run to run even when lines are processed in parallel.
func resampleAxis(src []float64, dims [3]int, axis, dstN, order int) ([]float64, [3]int) {
	srcN := dims[axis]
	dstDims := dims
	dstDims[axis] = dstN

	dst := make([]float64, dstDims[0]*dstDims[1]*dstDims[2])
	if srcN == dstN {
		copy(dst, src)
		return dst, dstDims
	}

	// Precompute tap indices and weights per destination coordinate;
	// they are identical for every line along the axis.
	taps := planTaps(srcN, dstN, order)

	srcStride := stride(dims, axis)
	dstStride := stride(dstDims, axis)

	// The lines along the axis are indexed by the two remaining axes.
	var a, b int
	switch axis {
	case 0:
		a, b = dims[1], dims[2]
	case 1:
		a, b = dims[0], dims[2]
	default:
		a, b = dims[0], dims[1]
	}

	lines := a * b
	workers := runtime.NumCPU()
	if workers > lines {
		workers = lines
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for line := w; line < lines; line += workers {
				la, lb := line%a, line/a
				srcBase := lineBase(dims, axis, la, lb)
				dstBase := lineBase(dstDims, axis, la, lb)
				for i := 0; i < dstN; i++ {
					t := taps[i]
					sum := 0.0
					for k := range t.index {
						sum += t.weight[k] * src[srcBase+t.index[k]*srcStride]
					}
					dst[dstBase+i*dstStride] = sum
				}
			}
		}(w)
	}
	wg.Wait()

	return dst, dstDims
}

// tapPlan is the set of source samples and weights contributing to one
// destination coordinate along an axis.
type tapPlan struct {
	index  []int
	weight []float64
}

// planTaps computes, for every destination coordinate, the clamped source
// indices and B-spline kernel weights. Order 0 degenerates to a single
// nearest-neighbor tap.
func planTaps(srcN, dstN, order int) []tapPlan {
	step := float64(srcN) / float64(dstN)
	taps := make([]tapPlan, dstN)

	for i := 0; i < dstN; i++ {
		p := (float64(i)+0.5)*step - 0.5

		if order == 0 {
			j := clampIndex(int(math.Round(p)), srcN)
			taps[i] = tapPlan{index: []int{j}, weight: []float64{1}}
			continue
		}

		// Kernel support is (order+1)/2 on each side of p.
		radius := float64(order+1) / 2
		lo := int(math.Ceil(p - radius))
		hi := int(math.Floor(p + radius))

		var idx []int
		var wts []float64
		for j := lo; j <= hi; j++ {
			w := bspline(order, p-float64(j))
			if w == 0 {
				continue
			}
			idx = append(idx, clampIndex(j, srcN))
			wts = append(wts, w)
		}
		taps[i] = tapPlan{index: idx, weight: wts}
	}

	return taps
}

// bspline evaluates the centered uniform B-spline basis of the given
// order via the Cox-de Boor recurrence. Order 1 is the linear tent,
// order 3 the cubic B-spline. Applied directly (without prefiltering)
// the kernel acts as a smoothing filter, which is exactly what the
// downsample pass needs. The basis is a partition of unity, so tap
// weights sum to one at any sample position.
func bspline(order int, x float64) float64 {
	if order == 0 {
		if x >= -0.5 && x < 0.5 {
			return 1
		}
		return 0
	}
	n := float64(order)
	c := (n + 1) / 2
	return (c+x)/n*bspline(order-1, x+0.5) + (c-x)/n*bspline(order-1, x-0.5)
}

// clampIndex clamps a source index to [0, n-1], the replicate edge policy.
func clampIndex(j, n int) int {
	if j < 0 {
		return 0
	}
	if j >= n {
		return n - 1
	}
	return j
}

// stride returns the linear-index stride of one step along the axis.
func stride(dims [3]int, axis int) int {
	switch axis {
	case 0:
		return 1
	case 1:
		return dims[0]
	default:
		return dims[0] * dims[1]
	}
}

// lineBase returns the linear index of coordinate 0 on the line along
// axis selected by the two remaining coordinates (la, lb), ordered by
// increasing axis number.
func lineBase(dims [3]int, axis, la, lb int) int {
	switch axis {
	case 0:
		return lb*dims[0]*dims[1] + la*dims[0]
	case 1:
		return lb*dims[0]*dims[1] + la
	default:
		return lb*dims[0] + la
	}
}
