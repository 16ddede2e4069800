// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz). It covers the subset of the format a structural defacing
// pipeline needs: 3D scalar images with the common datatypes, intensity
// scaling, and the sform/qform voxel-to-world transforms.
//
// Field layout follows the official nifti1.h definition.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"voxface/internal/models"
)

// Header is the fixed 348-byte NIfTI-1 header.
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]byte // Unused
	UnusedDbName       [18]byte // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      byte     // Unused
	DimInfo            byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // Must be "ni1\0" or "n+1\0"
}

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

const (
	headerSize = 348
	// Single-file data offset: header plus the 4-byte extension flag.
	dataOffset = 352
)

// Read loads a single-file NIfTI-1 volume. Intensities are converted to
// float64 with scl_slope/scl_inter applied; the returned affine comes
// from the sform when present, the qform otherwise, or a diagonal
// pixdim transform as a last resort.
func Read(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%s: file shorter than a NIfTI-1 header", path)
	}

	var hdr Header
	order := binary.ByteOrder(binary.LittleEndian)
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, err
	}
	if hdr.SizeOfHdr != headerSize {
		// Try the other byte order before giving up.
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
			return nil, err
		}
		if hdr.SizeOfHdr != headerSize {
			return nil, fmt.Errorf("%s: not a NIfTI-1 file (sizeof_hdr=%d)", path, hdr.SizeOfHdr)
		}
	}

	if magic := string(hdr.Magic[:3]); magic != "n+1" {
		return nil, fmt.Errorf("%s: unsupported magic %q (two-file NIfTI is not supported)", path, magic)
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 7 {
		return nil, fmt.Errorf("%s: need a 3D volume, got dim[0]=%d", path, ndim)
	}
	for i := 4; i <= ndim; i++ {
		if hdr.Dim[i] > 1 {
			return nil, fmt.Errorf("%s: 4D+ volumes are not supported", path)
		}
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%s: non-positive dimension in header", path)
	}
	nvox := nx * ny * nz

	offset := int(hdr.VoxOffset)
	if offset < headerSize {
		offset = dataOffset
	}
	// Size the data from the datatype code, not bitpix: the two can
	// disagree in a corrupt header and the decoder reads by datatype.
	bytesPerVox, err := datatypeSize(hdr.DataType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(raw) < offset+nvox*bytesPerVox {
		return nil, fmt.Errorf("%s: truncated voxel data", path)
	}

	data, err := decodeVoxels(raw[offset:], hdr.DataType, nvox, order)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Apply intensity scaling. A zero slope means "no scaling stored".
	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	vol := &models.Volume{
		Data: data,
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
		Spacing: [3]float64{
			float64(hdr.PixDim[1]),
			float64(hdr.PixDim[2]),
			float64(hdr.PixDim[3]),
		},
		Affine: affineFromHeader(&hdr),
	}

	log.WithFields(log.Fields{
		"path":  path,
		"shape": fmt.Sprintf("%dx%dx%d", nx, ny, nz),
		"dtype": hdr.DataType,
	}).Debug("loaded NIfTI volume")

	return vol, nil
}

// Write stores the volume as a single-file NIfTI-1 image with float32
// samples. The affine is written as the sform. A .gz suffix selects
// gzip compression.
func Write(path string, vol *models.Volume) error {
	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  dtFloat32,
		BitPix:    32,
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: 2, // NIFTI_UNITS_MM
		SFormCode: 1, // NIFTI_XFORM_SCANNER_ANAT
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	hdr.Dim[1], hdr.Dim[2], hdr.Dim[3] = int16(vol.Nx), int16(vol.Ny), int16(vol.Nz)
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.PixDim[0] = 1
	hdr.PixDim[1] = float32(vol.Spacing[0])
	hdr.PixDim[2] = float32(vol.Spacing[1])
	hdr.PixDim[3] = float32(vol.Spacing[2])
	copy(hdr.Descrip[:], "voxface defaced")

	if vol.Affine != nil {
		for j := 0; j < 4; j++ {
			hdr.SRowX[j] = float32(vol.Affine.At(0, j))
			hdr.SRowY[j] = float32(vol.Affine.At(1, j))
			hdr.SRowZ[j] = float32(vol.Affine.At(2, j))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}

	buf := bytes.NewBuffer(make([]byte, 0, dataOffset+4*len(vol.Data)))
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	// Extension flag: four zero bytes, no extensions.
	buf.Write([]byte{0, 0, 0, 0})

	samples := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		samples[i] = float32(v)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return err
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"path":  path,
		"shape": fmt.Sprintf("%dx%dx%d", vol.Nx, vol.Ny, vol.Nz),
	}).Debug("wrote NIfTI volume")

	return nil
}

// datatypeSize returns the stored bytes per voxel for a datatype code.
func datatypeSize(datatype int16) (int, error) {
	switch datatype {
	case dtUint8:
		return 1, nil
	case dtInt16:
		return 2, nil
	case dtInt32, dtFloat32:
		return 4, nil
	case dtFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported datatype code %d", datatype)
	}
}

// decodeVoxels converts raw voxel bytes of the given datatype to float64.
func decodeVoxels(raw []byte, datatype int16, nvox int, order binary.ByteOrder) ([]float64, error) {
	data := make([]float64, nvox)
	switch datatype {
	case dtUint8:
		for i := 0; i < nvox; i++ {
			data[i] = float64(raw[i])
		}
	case dtInt16:
		for i := 0; i < nvox; i++ {
			data[i] = float64(int16(order.Uint16(raw[2*i:])))
		}
	case dtInt32:
		for i := 0; i < nvox; i++ {
			data[i] = float64(int32(order.Uint32(raw[4*i:])))
		}
	case dtFloat32:
		for i := 0; i < nvox; i++ {
			data[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		}
	case dtFloat64:
		for i := 0; i < nvox; i++ {
			data[i] = math.Float64frombits(order.Uint64(raw[8*i:]))
		}
	default:
		return nil, fmt.Errorf("unsupported datatype code %d", datatype)
	}
	return data, nil
}

// affineFromHeader builds the voxel-to-world transform, preferring the
// sform, falling back to the qform, then to a plain pixdim scaling.
func affineFromHeader(hdr *Header) *mat.Dense {
	if hdr.SFormCode > 0 {
		return mat.NewDense(4, 4, []float64{
			float64(hdr.SRowX[0]), float64(hdr.SRowX[1]), float64(hdr.SRowX[2]), float64(hdr.SRowX[3]),
			float64(hdr.SRowY[0]), float64(hdr.SRowY[1]), float64(hdr.SRowY[2]), float64(hdr.SRowY[3]),
			float64(hdr.SRowZ[0]), float64(hdr.SRowZ[1]), float64(hdr.SRowZ[2]), float64(hdr.SRowZ[3]),
			0, 0, 0, 1,
		})
	}
	if hdr.QFormCode > 0 {
		return affineFromQuaternion(hdr)
	}
	return mat.NewDense(4, 4, []float64{
		float64(hdr.PixDim[1]), 0, 0, 0,
		0, float64(hdr.PixDim[2]), 0, 0,
		0, 0, float64(hdr.PixDim[3]), 0,
		0, 0, 0, 1,
	})
}

// affineFromQuaternion expands the qform quaternion per the NIfTI-1
// standard (method 2 in nifti1.h).
func affineFromQuaternion(hdr *Header) *mat.Dense {
	b := float64(hdr.QuaternB)
	c := float64(hdr.QuaternC)
	d := float64(hdr.QuaternD)
	a := 1 - b*b - c*c - d*d
	if a < 0 {
		a = 0
	}
	a = math.Sqrt(a)

	qfac := 1.0
	if hdr.PixDim[0] < 0 {
		qfac = -1
	}
	dx := float64(hdr.PixDim[1])
	dy := float64(hdr.PixDim[2])
	dz := float64(hdr.PixDim[3]) * qfac

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, (2*b*c - 2*a*d) * dy, (2*b*d + 2*a*c) * dz, float64(hdr.QOffsetX),
		(2*b*c + 2*a*d) * dx, (a*a + c*c - b*b - d*d) * dy, (2*c*d - 2*a*b) * dz, float64(hdr.QOffsetY),
		(2*b*d - 2*a*c) * dx, (2*c*d + 2*a*b) * dy, (a*a + d*d - b*b - c*c) * dz, float64(hdr.QOffsetZ),
		0, 0, 0, 1,
	})
}
