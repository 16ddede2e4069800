// Package deface sequences the face-voxelation pipeline: locate the
// facial bounding box, voxelate the sub-volume inside it, and blend the
// result back into the head volume. It owns the run configuration and is
// the single entry point consumed by the I/O layer.
package deface

import (
	"fmt"

	"voxface/internal/models"
	"voxface/pkg/composite"
	"voxface/pkg/locator"
	"voxface/pkg/resample"
)

// IntermediateWriter receives named intermediate volumes (the blend mask
// and the pre-composite voxelated volume) when saving is enabled. The
// I/O layer supplies one that writes NIfTI files; the pipeline itself
// does no file I/O.
type IntermediateWriter func(name string, vol *models.Volume) error

// Params holds the defacing configuration for a single run. The zero
// value is not usable; start from DefaultParams.
type Params struct {
	// ReductionFactor is the per-axis block size of the voxelation:
	// how many native voxels map to one coarse sample. Each entry must
	// be >= 1. A factor of 1 on every axis leaves the face unchanged.
	ReductionFactor [3]int

	// SplineOrder is the interpolation order of the downsample pass,
	// 0 through 5. Order 3 (cubic) is the default.
	SplineOrder int

	// FaceFractionAnterior is the fraction of the anteroposterior axis
	// treated as facial, measured from the anterior edge. In (0,1].
	FaceFractionAnterior float64

	// FaceFractionInferior is the fraction of the superoinferior axis
	// treated as facial, measured from the inferior edge. In (0,1].
	FaceFractionInferior float64

	// BlendMarginVoxels is the width of the feathered transition band
	// just inside the face box border.
	BlendMarginVoxels int

	// SaveIntermediates enables reporting of the blend mask and the
	// voxelated volume through IntermediateWriter.
	SaveIntermediates bool

	// IntermediateWriter is called for each intermediate volume when
	// SaveIntermediates is set. Ignored when nil.
	IntermediateWriter IntermediateWriter
}

// DefaultParams returns the documented safe defaults: 8x8x8 voxelation
// blocks with cubic downsampling, a face box covering the anterior 45%
// and inferior 35% of the head, and a 4-voxel blend margin.
func DefaultParams() *Params {
	return &Params{
		ReductionFactor:      [3]int{8, 8, 8},
		SplineOrder:          3,
		FaceFractionAnterior: 0.45,
		FaceFractionInferior: 0.35,
		BlendMarginVoxels:    4,
	}
}

// Metrics summarizes how much of the volume the defacing changed. It is
// computed from the input and output volumes after a successful run.
type Metrics struct {
	// VoxelsChanged is the number of voxels whose intensity differs
	// between input and output.
	VoxelsChanged int

	// FractionChanged is VoxelsChanged over the total voxel count.
	FractionChanged float64

	// MeanAbsDiff is the mean absolute intensity change inside the
	// face bounding box.
	MeanAbsDiff float64

	// RMSE is the root mean square intensity change inside the face
	// bounding box.
	RMSE float64
}

// Defacer runs the voxelation pipeline on one volume at a time. A single
// Defacer may be reused across volumes; each Run is independent.
type Defacer struct {
	params  *Params
	metrics Metrics
	box     models.BoundingBox
}

// NewDefacer creates a defacer with the provided parameters.
func NewDefacer(params *Params) *Defacer {
	return &Defacer{params: params}
}

// Run executes the pipeline on a loaded volume and returns the defaced
// volume. The input is not modified; the output has identical shape,
// spacing and affine. The first stage error is propagated unchanged.
func (d *Defacer) Run(vol *models.Volume) (*models.Volume, error) {
	if err := d.validate(vol); err != nil {
		return nil, err
	}

	p := d.params

	// Stage 1: locate the facial region.
	box, mask, err := locator.Locate(vol.Shape(), vol.Affine, locator.Config{
		FractionAnterior:  p.FaceFractionAnterior,
		FractionInferior:  p.FaceFractionInferior,
		BlendMarginVoxels: p.BlendMarginVoxels,
	})
	if err != nil {
		return nil, err
	}
	d.box = box

	// Stage 2: voxelate the facial sub-volume.
	sub := composite.Extract(vol, box)
	voxed, err := resample.Voxelate(sub, box.Shape(), p.ReductionFactor, p.SplineOrder)
	if err != nil {
		return nil, err
	}

	if p.SaveIntermediates && p.IntermediateWriter != nil {
		if err := d.writeIntermediates(vol, box, mask, voxed); err != nil {
			return nil, fmt.Errorf("failed to save intermediates: %w", err)
		}
	}

	// Stage 3: blend back into the full volume.
	out, err := composite.Blend(vol, box, voxed, mask)
	if err != nil {
		return nil, err
	}

	d.metrics = computeMetrics(vol, out, box)

	return out, nil
}

// GetMetrics returns the change summary from the most recent Run.
func (d *Defacer) GetMetrics() Metrics {
	return d.metrics
}

// FaceBox returns the bounding box computed by the most recent Run.
func (d *Defacer) FaceBox() models.BoundingBox {
	return d.box
}

// validate checks the configuration and volume metadata eagerly, before
// any voxel data is touched.
func (d *Defacer) validate(vol *models.Volume) error {
	p := d.params
	if p == nil {
		return &models.ConfigError{Field: "params", Reason: "must not be nil"}
	}
	for _, f := range p.ReductionFactor {
		if f < 1 {
			return &models.ConfigError{Field: "reductionFactor", Reason: "must be >= 1"}
		}
	}
	if p.SplineOrder < 0 || p.SplineOrder > resample.MaxSplineOrder {
		return &models.ConfigError{Field: "splineOrder", Reason: "must be in [0,5]"}
	}
	if p.FaceFractionAnterior <= 0 || p.FaceFractionAnterior > 1 {
		return &models.ConfigError{Field: "faceFractionAnterior", Reason: "must be in (0,1]"}
	}
	if p.FaceFractionInferior <= 0 || p.FaceFractionInferior > 1 {
		return &models.ConfigError{Field: "faceFractionInferior", Reason: "must be in (0,1]"}
	}
	if p.BlendMarginVoxels < 0 {
		return &models.ConfigError{Field: "blendMarginVoxels", Reason: "must be non-negative"}
	}
	if vol == nil || len(vol.Data) == 0 {
		return &models.DegenerateInputError{}
	}
	if vol.Nx <= 0 || vol.Ny <= 0 || vol.Nz <= 0 {
		return &models.DegenerateInputError{Shape: vol.Shape()}
	}
	if len(vol.Data) != vol.NumVoxels() {
		return &models.ShapeMismatchError{
			GotLen: len(vol.Data),
			Want:   vol.Shape(),
		}
	}
	if vol.Affine == nil {
		return &models.GeometryError{Reason: "volume has no affine transform"}
	}
	return nil
}

// writeIntermediates emits the blend mask (as a volume of weights) and
// the volume with the face region fully voxelated, before blending.
func (d *Defacer) writeIntermediates(vol *models.Volume, box models.BoundingBox, mask *models.EdgeMask, voxed []float64) error {
	maskVol := &models.Volume{
		Data:    make([]float64, vol.NumVoxels()),
		Nx:      vol.Nx,
		Ny:      vol.Ny,
		Nz:      vol.Nz,
		Spacing: vol.Spacing,
		Affine:  vol.Affine,
	}
	voxedVol := vol.Clone()

	idx := 0
	for z := box.Start[2]; z < box.End[2]; z++ {
		for y := box.Start[1]; y < box.End[1]; y++ {
			for x := box.Start[0]; x < box.End[0]; x++ {
				maskVol.Set(x, y, z, mask.Weights[idx])
				voxedVol.Set(x, y, z, voxed[idx])
				idx++
			}
		}
	}

	if err := d.params.IntermediateWriter("facemask", maskVol); err != nil {
		return err
	}
	return d.params.IntermediateWriter("voxelated", voxedVol)
}
