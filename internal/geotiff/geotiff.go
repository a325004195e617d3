/*
Copyright © 2024 the GHSL-Go authors.
This file is part of GHSL-Go.

GHSL-Go is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

GHSL-Go is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with GHSL-Go.  If not, see <http://www.gnu.org/licenses/>.*/

// Package geotiff decodes the subset of GeoTIFF that the GHSL archive
// publishes: single-band rasters in strip or tile layout, uncompressed
// or Deflate-compressed, with unsigned, signed or floating-point samples,
// georeferenced through the ModelPixelScale and ModelTiepoint tags and
// carrying their no-data sentinel in the GDAL_NODATA tag.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// TIFF tag IDs.
const (
	tImageWidth      = 256
	tImageLength     = 257
	tBitsPerSample   = 258
	tCompression     = 259
	tStripOffsets    = 273
	tSamplesPerPixel = 277
	tRowsPerStrip    = 278
	tStripByteCounts = 279
	tPredictor       = 317
	tTileWidth       = 322
	tTileLength      = 323
	tTileOffsets     = 324
	tTileByteCounts  = 325
	tSampleFormat    = 339
	tModelPixelScale = 33550
	tModelTiepoint   = 33922
	tGDALNoData      = 42113
)

// Compression schemes.
const (
	cNone       = 1
	cDeflate    = 8
	cDeflateOld = 32946
)

// Sample formats.
const (
	fUint  = 1
	fInt   = 2
	fFloat = 3
)

// Image is a decoded single-band georeferenced raster. Data is row-major
// from the top-left corner; cells equal to NoData are kept as read, not
// converted, so the caller decides the masking policy.
type Image struct {
	Width, Height int
	Data          []float64

	// PixelScaleX and PixelScaleY are the positive cell sizes in CRS
	// units; OriginX and OriginY locate the outer corner of the
	// top-left cell.
	PixelScaleX, PixelScaleY float64
	OriginX, OriginY         float64

	// NoData is the sentinel for cells without a measurement, NaN when
	// the file declares none.
	NoData float64
}

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	raw      [4]byte
}

type decoder struct {
	b     []byte
	order binary.ByteOrder
	tags  map[uint16]ifdEntry
}

// Decode parses a GeoTIFF byte stream.
func Decode(b []byte) (*Image, error) {
	d, err := newDecoder(b)
	if err != nil {
		return nil, err
	}
	return d.image()
}

func newDecoder(b []byte) (*decoder, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("geotiff: truncated header")
	}
	d := &decoder{b: b}
	switch string(b[0:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("geotiff: bad byte-order mark %q", b[0:2])
	}
	if d.order.Uint16(b[2:4]) != 42 {
		return nil, fmt.Errorf("geotiff: bad magic number (BigTIFF is not supported)")
	}
	off := d.order.Uint32(b[4:8])
	if err := d.readIFD(off); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *decoder) readIFD(off uint32) error {
	if int(off)+2 > len(d.b) {
		return fmt.Errorf("geotiff: IFD offset out of range")
	}
	n := int(d.order.Uint16(d.b[off : off+2]))
	base := int(off) + 2
	if base+n*12 > len(d.b) {
		return fmt.Errorf("geotiff: truncated IFD")
	}
	d.tags = make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		e := d.b[base+i*12 : base+(i+1)*12]
		entry := ifdEntry{
			tag:   d.order.Uint16(e[0:2]),
			typ:   d.order.Uint16(e[2:4]),
			count: d.order.Uint32(e[4:8]),
		}
		copy(entry.raw[:], e[8:12])
		d.tags[entry.tag] = entry
	}
	return nil
}

func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	}
	return 0
}

// payload returns the raw value bytes of an entry, following the offset
// indirection for values wider than four bytes.
func (d *decoder) payload(e ifdEntry) ([]byte, error) {
	size := typeSize(e.typ) * int(e.count)
	if size == 0 {
		return nil, fmt.Errorf("geotiff: unsupported field type %d for tag %d", e.typ, e.tag)
	}
	if size <= 4 {
		return e.raw[:size], nil
	}
	off := int(d.order.Uint32(e.raw[:]))
	if off+size > len(d.b) {
		return nil, fmt.Errorf("geotiff: tag %d value out of range", e.tag)
	}
	return d.b[off : off+size], nil
}

// uintVals reads an entry holding SHORT or LONG values.
func (d *decoder) uintVals(tag uint16) ([]uint32, error) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, nil
	}
	p, err := d.payload(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case 3:
			out[i] = uint32(d.order.Uint16(p[i*2 : i*2+2]))
		case 4:
			out[i] = d.order.Uint32(p[i*4 : i*4+4])
		default:
			return nil, fmt.Errorf("geotiff: tag %d has unexpected type %d", tag, e.typ)
		}
	}
	return out, nil
}

func (d *decoder) uintVal(tag uint16, def uint32) (uint32, error) {
	v, err := d.uintVals(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

// doubleVals reads an entry holding DOUBLE values.
func (d *decoder) doubleVals(tag uint16) ([]float64, error) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, nil
	}
	if e.typ != 12 {
		return nil, fmt.Errorf("geotiff: tag %d has unexpected type %d", tag, e.typ)
	}
	p, err := d.payload(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(p[i*8 : i*8+8]))
	}
	return out, nil
}

func (d *decoder) asciiVal(tag uint16) (string, error) {
	e, ok := d.tags[tag]
	if !ok {
		return "", nil
	}
	p, err := d.payload(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(p), "\x00"), nil
}

func (d *decoder) image() (*Image, error) {
	width, err := d.uintVal(tImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uintVal(tImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("geotiff: missing image dimensions")
	}
	samples, err := d.uintVal(tSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if samples != 1 {
		return nil, fmt.Errorf("geotiff: %d samples per pixel; only single-band rasters are supported", samples)
	}
	bits, err := d.uintVal(tBitsPerSample, 8)
	if err != nil {
		return nil, err
	}
	format, err := d.uintVal(tSampleFormat, fUint)
	if err != nil {
		return nil, err
	}
	compression, err := d.uintVal(tCompression, cNone)
	if err != nil {
		return nil, err
	}
	predictor, err := d.uintVal(tPredictor, 1)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Width:  int(width),
		Height: int(height),
		Data:   make([]float64, int(width)*int(height)),
		NoData: math.NaN(),
	}
	if err := d.readGeo(img); err != nil {
		return nil, err
	}

	if _, tiled := d.tags[tTileOffsets]; tiled {
		err = d.readTiles(img, int(bits), int(format), int(compression), int(predictor))
	} else {
		err = d.readStrips(img, int(bits), int(format), int(compression), int(predictor))
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (d *decoder) readGeo(img *Image) error {
	scale, err := d.doubleVals(tModelPixelScale)
	if err != nil {
		return err
	}
	if len(scale) < 2 {
		return fmt.Errorf("geotiff: missing ModelPixelScale tag")
	}
	tie, err := d.doubleVals(tModelTiepoint)
	if err != nil {
		return err
	}
	if len(tie) < 6 {
		return fmt.Errorf("geotiff: missing ModelTiepoint tag")
	}
	// Tiepoint (i, j, k) -> (x, y, z): shift back to the raster origin.
	img.PixelScaleX = scale[0]
	img.PixelScaleY = scale[1]
	img.OriginX = tie[3] - tie[0]*scale[0]
	img.OriginY = tie[4] + tie[1]*scale[1]

	nodata, err := d.asciiVal(tGDALNoData)
	if err != nil {
		return err
	}
	if nodata != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(nodata), 64)
		if err != nil {
			return fmt.Errorf("geotiff: parsing GDAL_NODATA %q: %v", nodata, err)
		}
		img.NoData = v
	}
	return nil
}

// segment returns the decompressed bytes of one strip or tile.
func (d *decoder) segment(off, count uint32, compression int) ([]byte, error) {
	if int(off)+int(count) > len(d.b) {
		return nil, fmt.Errorf("geotiff: data segment out of range")
	}
	raw := d.b[off : off+count]
	switch compression {
	case cNone:
		return raw, nil
	case cDeflate, cDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("geotiff: opening deflate segment: %v", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("geotiff: decompressing segment: %v", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("geotiff: unsupported compression scheme %d", compression)
}

// undiff reverses horizontal-differencing (predictor 2) in place for one
// segment of the given row width.
func undiff(seg []byte, width, bytesPerSample int) {
	rowBytes := width * bytesPerSample
	for row := 0; row+rowBytes <= len(seg); row += rowBytes {
		for i := bytesPerSample; i < rowBytes; i++ {
			seg[row+i] += seg[row+i-bytesPerSample]
		}
	}
}

func (d *decoder) sampleAt(seg []byte, i, bits, format int) (float64, error) {
	switch {
	case bits == 8 && format == fUint:
		return float64(seg[i]), nil
	case bits == 8 && format == fInt:
		return float64(int8(seg[i])), nil
	case bits == 16 && format == fUint:
		return float64(d.order.Uint16(seg[i*2 : i*2+2])), nil
	case bits == 16 && format == fInt:
		return float64(int16(d.order.Uint16(seg[i*2 : i*2+2]))), nil
	case bits == 32 && format == fUint:
		return float64(d.order.Uint32(seg[i*4 : i*4+4])), nil
	case bits == 32 && format == fInt:
		return float64(int32(d.order.Uint32(seg[i*4 : i*4+4]))), nil
	case bits == 32 && format == fFloat:
		return float64(math.Float32frombits(d.order.Uint32(seg[i*4 : i*4+4]))), nil
	case bits == 64 && format == fFloat:
		return math.Float64frombits(d.order.Uint64(seg[i*8 : i*8+8])), nil
	}
	return 0, fmt.Errorf("geotiff: unsupported sample type: %d bits, format %d", bits, format)
}

func (d *decoder) readStrips(img *Image, bits, format, compression, predictor int) error {
	offsets, err := d.uintVals(tStripOffsets)
	if err != nil {
		return err
	}
	counts, err := d.uintVals(tStripByteCounts)
	if err != nil {
		return err
	}
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("geotiff: inconsistent strip tags")
	}
	rps, err := d.uintVal(tRowsPerStrip, uint32(img.Height))
	if err != nil {
		return err
	}
	bps := bits / 8
	for s := range offsets {
		seg, err := d.segment(offsets[s], counts[s], compression)
		if err != nil {
			return err
		}
		if predictor == 2 {
			undiff(seg, img.Width, bps)
		}
		row0 := s * int(rps)
		nrows := min(int(rps), img.Height-row0)
		if len(seg) < nrows*img.Width*bps {
			return fmt.Errorf("geotiff: strip %d too short", s)
		}
		for i := 0; i < nrows*img.Width; i++ {
			v, err := d.sampleAt(seg, i, bits, format)
			if err != nil {
				return err
			}
			img.Data[row0*img.Width+i] = v
		}
	}
	return nil
}

func (d *decoder) readTiles(img *Image, bits, format, compression, predictor int) error {
	offsets, err := d.uintVals(tTileOffsets)
	if err != nil {
		return err
	}
	counts, err := d.uintVals(tTileByteCounts)
	if err != nil {
		return err
	}
	tw, err := d.uintVal(tTileWidth, 0)
	if err != nil {
		return err
	}
	th, err := d.uintVal(tTileLength, 0)
	if err != nil {
		return err
	}
	if tw == 0 || th == 0 || len(offsets) == 0 || len(offsets) != len(counts) {
		return fmt.Errorf("geotiff: inconsistent tile tags")
	}
	tilesAcross := (img.Width + int(tw) - 1) / int(tw)
	bps := bits / 8
	for s := range offsets {
		seg, err := d.segment(offsets[s], counts[s], compression)
		if err != nil {
			return err
		}
		if predictor == 2 {
			undiff(seg, int(tw), bps)
		}
		if len(seg) < int(tw)*int(th)*bps {
			return fmt.Errorf("geotiff: tile %d too short", s)
		}
		col0 := (s % tilesAcross) * int(tw)
		row0 := (s / tilesAcross) * int(th)
		for r := 0; r < int(th) && row0+r < img.Height; r++ {
			for c := 0; c < int(tw) && col0+c < img.Width; c++ {
				v, err := d.sampleAt(seg, r*int(tw)+c, bits, format)
				if err != nil {
					return err
				}
				img.Data[(row0+r)*img.Width+col0+c] = v
			}
		}
	}
	return nil
}
