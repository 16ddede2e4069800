package nifti

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"voxface/internal/models"
)

func newTestVolume() *models.Volume {
	vol := &models.Volume{
		Data:    make([]float64, 6*5*4),
		Nx:      6,
		Ny:      5,
		Nz:      4,
		Spacing: [3]float64{1, 1.5, 2},
		Affine: mat.NewDense(4, 4, []float64{
			1, 0, 0, -3,
			0, 1.5, 0, -4,
			0, 0, 2, -5,
			0, 0, 0, 1,
		}),
	}
	for i := range vol.Data {
		vol.Data[i] = float64(i % 100)
	}
	return vol
}

func assertVolumesMatch(t *testing.T, got, want *models.Volume, tol float64) {
	t.Helper()

	if got.Shape() != want.Shape() {
		t.Fatalf("Shape %v, want %v", got.Shape(), want.Shape())
	}
	for i := range want.Spacing {
		if math.Abs(got.Spacing[i]-want.Spacing[i]) > tol {
			t.Fatalf("Spacing[%d] = %f, want %f", i, got.Spacing[i], want.Spacing[i])
		}
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(got.Affine.At(i, j)-want.Affine.At(i, j)) > tol {
				t.Fatalf("Affine[%d,%d] = %f, want %f", i, j,
					got.Affine.At(i, j), want.Affine.At(i, j))
			}
		}
	}
	for i := range want.Data {
		if math.Abs(got.Data[i]-want.Data[i]) > tol {
			t.Fatalf("Voxel %d = %f, want %f", i, got.Data[i], want.Data[i])
		}
	}
}

// TestWriteReadRoundTrip verifies an uncompressed volume survives a
// write/read cycle with its grid and affine intact.
func TestWriteReadRoundTrip(t *testing.T) {
	vol := newTestVolume()
	path := filepath.Join(t.TempDir(), "head.nii")

	if err := Write(path, vol); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	assertVolumesMatch(t, got, vol, 1e-5)
}

// TestWriteReadGzipRoundTrip verifies the same cycle through gzip.
func TestWriteReadGzipRoundTrip(t *testing.T) {
	vol := newTestVolume()
	path := filepath.Join(t.TempDir(), "head.nii.gz")

	if err := Write(path, vol); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	assertVolumesMatch(t, got, vol, 1e-5)
}

// TestReadAppliesIntensityScaling verifies scl_slope and scl_inter are
// applied to stored int16 samples.
func TestReadAppliesIntensityScaling(t *testing.T) {
	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  dtInt16,
		BitPix:    16,
		VoxOffset: dataOffset,
		SclSlope:  2,
		SclInter:  1,
		SFormCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, 2, 2, 2, 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, 1, 1, 1, 0, 0, 0, 0}
	hdr.SRowX = [4]float32{1, 0, 0, 0}
	hdr.SRowY = [4]float32{0, 1, 0, 0}
	hdr.SRowZ = [4]float32{0, 0, 1, 0}

	samples := []int16{0, 1, 2, 3, 4, 5, 6, 7}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	if err := binary.Write(&buf, binary.LittleEndian, samples); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "scaled.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	vol, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, s := range samples {
		want := float64(s)*2 + 1
		if vol.Data[i] != want {
			t.Errorf("Voxel %d = %f, want %f", i, vol.Data[i], want)
		}
	}
}

// TestReadQFormFallback verifies the quaternion transform is used when
// no sform is present. An identity quaternion gives a pixdim-scaled
// diagonal affine.
func TestReadQFormFallback(t *testing.T) {
	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  dtUint8,
		BitPix:    8,
		VoxOffset: dataOffset,
		QFormCode: 1,
		QOffsetX:  -10,
		QOffsetY:  -20,
		QOffsetZ:  -30,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, 2, 2, 2, 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, 1, 2, 3, 0, 0, 0, 0}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(make([]byte, 8))

	path := filepath.Join(t.TempDir(), "qform.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	vol, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	want := mat.NewDense(4, 4, []float64{
		1, 0, 0, -10,
		0, 2, 0, -20,
		0, 0, 3, -30,
		0, 0, 0, 1,
	})
	if !mat.EqualApprox(vol.Affine, want, 1e-6) {
		t.Errorf("Affine from qform:\n%v\nwant:\n%v",
			mat.Formatted(vol.Affine), mat.Formatted(want))
	}
}

// TestReadRejectsGarbage verifies non-NIfTI input fails cleanly.
func TestReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.nii")
	if err := os.WriteFile(path, bytes.Repeat([]byte{7}, 1024), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("Expected an error reading garbage input")
	}
}

// TestReadRejectsBitPixDatatypeMismatch verifies a header whose bitpix
// understates the datatype's sample size is caught by the truncation
// check instead of reading past the voxel buffer.
func TestReadRejectsBitPixDatatypeMismatch(t *testing.T) {
	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  dtFloat64,
		BitPix:    8, // lies about the sample size
		VoxOffset: dataOffset,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, 2, 2, 2, 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, 1, 1, 1, 0, 0, 0, 0}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	// Only one byte per voxel, as bitpix claims.
	buf.Write(make([]byte, 8))

	path := filepath.Join(t.TempDir(), "bitpix.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("Expected an error for a bitpix/datatype mismatch")
	}
}

// TestReadRejectsBadDimCount verifies an out-of-range dim[0] is rejected
// rather than used to index the fixed dim array.
func TestReadRejectsBadDimCount(t *testing.T) {
	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  dtUint8,
		BitPix:    8,
		VoxOffset: dataOffset,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{100, 2, 2, 2, 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, 1, 1, 1, 0, 0, 0, 0}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(make([]byte, 8))

	path := filepath.Join(t.TempDir(), "baddim.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("Expected an error for dim[0] outside 3..7")
	}
}

// TestReadRejectsUnknownDatatype verifies an unrecognized datatype code
// fails before any voxel decoding.
func TestReadRejectsUnknownDatatype(t *testing.T) {
	hdr := Header{
		SizeOfHdr: headerSize,
		DataType:  1234,
		BitPix:    32,
		VoxOffset: dataOffset,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	hdr.Dim = [8]int16{3, 2, 2, 2, 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, 1, 1, 1, 0, 0, 0, 0}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(make([]byte, 64))

	path := filepath.Join(t.TempDir(), "unknown.nii")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("Expected an error for an unknown datatype code")
	}
}

// TestReadRejectsShortFile verifies truncated input fails cleanly.
func TestReadRejectsShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.nii")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); err == nil {
		t.Error("Expected an error reading a truncated header")
	}
}
