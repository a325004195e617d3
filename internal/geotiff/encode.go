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

package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Encode writes img as a little-endian single-strip uncompressed GeoTIFF
// with float32 samples. It produces the georeferencing tags that Decode
// reads back and is primarily used to build test fixtures.
func Encode(img *Image) ([]byte, error) {
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height {
		return nil, fmt.Errorf("geotiff: image dimensions %dx%d do not match %d samples",
			img.Width, img.Height, len(img.Data))
	}
	order := binary.LittleEndian

	pix := make([]byte, 4*len(img.Data))
	for i, v := range img.Data {
		order.PutUint32(pix[i*4:], math.Float32bits(float32(v)))
	}

	var nodata []byte
	if !math.IsNaN(img.NoData) {
		s := strconv.FormatFloat(img.NoData, 'g', -1, 64)
		for len(s) < 4 { // keep the ASCII value out of the inline field
			s += " "
		}
		nodata = append([]byte(s), 0)
	}

	// Layout: header, pixel strip, pixel-scale doubles, tiepoint doubles,
	// nodata string, IFD.
	const headerLen = 8
	stripOff := uint32(headerLen)
	scaleOff := stripOff + uint32(len(pix))
	tieOff := scaleOff + 3*8
	nodataOff := tieOff + 6*8
	ifdOff := nodataOff + uint32(len(nodata))
	if ifdOff%2 == 1 { // IFD must be word-aligned
		ifdOff++
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	entries := []entry{
		{tImageWidth, 3, 1, uint32(img.Width)},
		{tImageLength, 3, 1, uint32(img.Height)},
		{tBitsPerSample, 3, 1, 32},
		{tCompression, 3, 1, cNone},
		{262, 3, 1, 1}, // PhotometricInterpretation: BlackIsZero
		{tStripOffsets, 4, 1, stripOff},
		{tSamplesPerPixel, 3, 1, 1},
		{tRowsPerStrip, 3, 1, uint32(img.Height)},
		{tStripByteCounts, 4, 1, uint32(len(pix))},
		{tSampleFormat, 3, 1, fFloat},
		{tModelPixelScale, 12, 3, scaleOff},
		{tModelTiepoint, 12, 6, tieOff},
	}
	if nodata != nil {
		entries = append(entries, entry{tGDALNoData, 2, uint32(len(nodata)), nodataOff})
	}

	buf := new(bytes.Buffer)
	buf.WriteString("II")
	binary.Write(buf, order, uint16(42))
	binary.Write(buf, order, ifdOff)
	buf.Write(pix)
	for _, v := range []float64{img.PixelScaleX, img.PixelScaleY, 0} {
		binary.Write(buf, order, math.Float64bits(v))
	}
	// Tiepoint: raster (0, 0) at the top-left model corner.
	for _, v := range []float64{0, 0, 0, img.OriginX, img.OriginY, 0} {
		binary.Write(buf, order, math.Float64bits(v))
	}
	buf.Write(nodata)
	for uint32(buf.Len()) < ifdOff {
		buf.WriteByte(0)
	}

	binary.Write(buf, order, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(buf, order, e.tag)
		binary.Write(buf, order, e.typ)
		binary.Write(buf, order, e.count)
		if e.typ == 3 && e.count == 1 {
			binary.Write(buf, order, uint16(e.value))
			binary.Write(buf, order, uint16(0))
		} else {
			binary.Write(buf, order, e.value)
		}
	}
	binary.Write(buf, order, uint32(0)) // no next IFD
	return buf.Bytes(), nil
}
