package parser

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/blang/semver"
	"github.com/golang/snappy"

	"github.com/voxelstream/voxelstream/voxel"
)

// rawgrid is the container format this server understands natively: a
// fixed 29-byte header (4-byte magic, 3x uint64 shape, 1 flag byte)
// followed by the payload, little-endian float64 samples in flat
// (k*X*Y + j*X + i) order, optionally snappy-compressed.
//
//	offset  size  field
//	0       4     magic "VGR1"
//	4       8     shape.X
//	12      8     shape.Y
//	20      8     shape.Z
//	28      1     flags (bit 0: snappy-compressed payload)
//	29      ...   payload
const (
	rawgridMagic      = "VGR1"
	rawgridHeaderSize = 29
	flagSnappy        = 1 << 0
)

func init() {
	ver := semver.MustParse("0.1.0")
	a := &rawgridAdapter{name: "rawgrid", ver: ver}
	Register(".vgrid", a)
	Register(".vgz", a) // same format; extension hints the file is pre-compressed
	voxel.Infof("registered field parser %s for .vgrid, .vgz", describe(a))
}

type rawgridAdapter struct {
	name string
	ver  semver.Version
}

func (a *rawgridAdapter) Name() string           { return a.name }
func (a *rawgridAdapter) SemVer() semver.Version { return a.ver }

// ShapeOnly reads just the fixed-size header, so preprocess can respond
// in milliseconds even on a multi-hundred-megabyte file.
func (a *rawgridAdapter) ShapeOnly(file string) (voxel.Shape, error) {
	f, err := os.Open(file)
	if err != nil {
		return voxel.Shape{}, voxel.UnknownFilef(file)
	}
	defer f.Close()

	header := make([]byte, rawgridHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return voxel.Shape{}, fmt.Errorf("reading rawgrid header of %s: %w", file, err)
	}
	return decodeShape(header)
}

// Full reads the header then streams and decodes the entire payload.
func (a *rawgridAdapter) Full(file string) (voxel.Shape, []float64, error) {
	f, err := os.Open(file)
	if err != nil {
		return voxel.Shape{}, nil, voxel.UnknownFilef(file)
	}
	defer f.Close()

	header := make([]byte, rawgridHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return voxel.Shape{}, nil, fmt.Errorf("reading rawgrid header of %s: %w", file, err)
	}
	shape, err := decodeShape(header)
	if err != nil {
		return voxel.Shape{}, nil, err
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return voxel.Shape{}, nil, fmt.Errorf("reading rawgrid payload of %s: %w", file, err)
	}
	if header[28]&flagSnappy != 0 {
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return voxel.Shape{}, nil, fmt.Errorf("decompressing rawgrid payload of %s: %w", file, err)
		}
	}

	dataLength := shape.DataLength()
	if uint64(len(payload)) != dataLength*8 {
		return voxel.Shape{}, nil, fmt.Errorf("rawgrid %s: payload is %d bytes, expected %d for shape %s",
			file, len(payload), dataLength*8, shape)
	}

	doubles := make([]float64, dataLength)
	for i := range doubles {
		bits := binary.LittleEndian.Uint64(payload[i*8 : i*8+8])
		doubles[i] = math.Float64frombits(bits)
	}
	return shape, doubles, nil
}

func decodeShape(header []byte) (voxel.Shape, error) {
	if string(header[:4]) != rawgridMagic {
		return voxel.Shape{}, fmt.Errorf("bad rawgrid magic %q", header[:4])
	}
	return voxel.Shape{
		X: binary.LittleEndian.Uint64(header[4:12]),
		Y: binary.LittleEndian.Uint64(header[12:20]),
		Z: binary.LittleEndian.Uint64(header[20:28]),
	}, nil
}

// EncodeRawgrid writes shape and doubles to w in the rawgrid container
// format. Exported for tests and for tooling that produces fixtures.
func EncodeRawgrid(w io.Writer, shape voxel.Shape, doubles []float64, compress bool) error {
	payload := make([]byte, len(doubles)*8)
	for i, d := range doubles {
		binary.LittleEndian.PutUint64(payload[i*8:i*8+8], math.Float64bits(d))
	}
	flags := byte(0)
	if compress {
		payload = snappy.Encode(nil, payload)
		flags = flagSnappy
	}

	header := make([]byte, rawgridHeaderSize)
	copy(header[:4], rawgridMagic)
	binary.LittleEndian.PutUint64(header[4:12], shape.X)
	binary.LittleEndian.PutUint64(header[12:20], shape.Y)
	binary.LittleEndian.PutUint64(header[20:28], shape.Z)
	header[28] = flags

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
