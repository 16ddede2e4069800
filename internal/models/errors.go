package models

import (
	"fmt"
)

// ConfigError reports a configuration value outside its valid range.
// It is raised before any voxel data is touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// GeometryError reports unusable spatial metadata, such as a degenerate
// affine transform or a face box with zero volume.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("unusable geometry: %s", e.Reason)
}

// DegenerateInputError reports a working array with a zero dimension.
type DegenerateInputError struct {
	Shape [3]int
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input shape %dx%dx%d", e.Shape[0], e.Shape[1], e.Shape[2])
}

// ShapeMismatchError reports an internal contract violation between
// pipeline stages: an array whose shape does not match the region it is
// supposed to cover. When only a flat element count is known for the
// offending array, GotLen carries it and Got is left zero.
type ShapeMismatchError struct {
	Got    [3]int
	Want   [3]int
	GotLen int
}

func (e *ShapeMismatchError) Error() string {
	if e.GotLen > 0 {
		return fmt.Sprintf("shape mismatch: got %d elements, want %dx%dx%d (%d)",
			e.GotLen, e.Want[0], e.Want[1], e.Want[2],
			e.Want[0]*e.Want[1]*e.Want[2])
	}
	return fmt.Sprintf("shape mismatch: got %dx%dx%d, want %dx%dx%d",
		e.Got[0], e.Got[1], e.Got[2], e.Want[0], e.Want[1], e.Want[2])
}
