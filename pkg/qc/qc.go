// Package qc renders grayscale snapshots of a defaced volume for visual
// review. A tri-planar set through the center of the face box is usually
// enough to confirm the face is gone and the brain untouched.
package qc

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"voxface/internal/models"
)

// Renderer extracts 2D slices from a volume and writes them as PNG
// images, scaling intensities to the volume's own min/max range.
type Renderer struct {
	vol      *models.Volume
	min, max float64
}

// NewRenderer creates a renderer for the given volume.
func NewRenderer(vol *models.Volume) *Renderer {
	r := &Renderer{vol: vol}
	if len(vol.Data) > 0 {
		r.min, r.max = vol.Data[0], vol.Data[0]
		for _, v := range vol.Data {
			if v < r.min {
				r.min = v
			}
			if v > r.max {
				r.max = v
			}
		}
	}
	return r
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
func (r *Renderer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	v := r.vol
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane (sagittal)
		if position >= v.Nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, v.Ny, v.Nz))
		for z := 0; z < v.Nz; z++ {
			for y := 0; y < v.Ny; y++ {
				img.SetGray16(y, z, color.Gray16{Y: r.gray(v.At(position, y, z))})
			}
		}

	case "y", "Y":
		// XZ plane (coronal)
		if position >= v.Ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, v.Nx, v.Nz))
		for z := 0; z < v.Nz; z++ {
			for x := 0; x < v.Nx; x++ {
				img.SetGray16(x, z, color.Gray16{Y: r.gray(v.At(x, position, z))})
			}
		}

	case "z", "Z":
		// XY plane (axial)
		if position >= v.Nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, v.Nx, v.Ny))
		for y := 0; y < v.Ny; y++ {
			for x := 0; x < v.Nx; x++ {
				img.SetGray16(x, y, color.Gray16{Y: r.gray(v.At(x, y, position))})
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// gray maps an intensity into the 16-bit grayscale range.
func (r *Renderer) gray(v float64) uint16 {
	span := r.max - r.min
	if span <= 0 {
		return 0
	}
	n := (v - r.min) / span
	if n < 0 {
		n = 0
	}
	if n > 1 {
		n = 1
	}
	return uint16(n * 65535)
}

// SaveSlice saves an extracted slice as a PNG image.
func (r *Renderer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveTriplanar writes one slice per axis through the center of the
// given region into the output directory.
func (r *Renderer) SaveTriplanar(outputDir string, box models.BoundingBox) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	centers := [3]int{
		(box.Start[0] + box.End[0]) / 2,
		(box.Start[1] + box.End[1]) / 2,
		(box.Start[2] + box.End[2]) / 2,
	}

	for i, axis := range []string{"x", "y", "z"} {
		img, err := r.ExtractSlice(axis, centers[i])
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("qc_%s_%03d.png", axis, centers[i]))
		if err := r.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
