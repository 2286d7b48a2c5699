/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package imaging

import (
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"

	"github.com/screening-gateway/gateway/dimse"
)

// DefaultMaxDimension bounds the longest side of a resized image.
const DefaultMaxDimension = 512

var ErrEncapsulatedPixelData = errors.New("encapsulated pixel data cannot be resized")

// Resizer scales native single-sample images so that neither side exceeds
// MaxDimension, preserving the aspect ratio.
type Resizer struct {
	MaxDimension int
}

func NewResizer(maxDimension int) *Resizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Resizer{MaxDimension: maxDimension}
}

func (r *Resizer) Name() string { return "resize" }

// ThumbnailDimensions returns the target columns and rows for an image of
// cols x rows whose longest side becomes maxDim.
func ThumbnailDimensions(cols, rows, maxDim int) (int, int) {
	aspect := float64(cols) / float64(rows)
	if cols > rows {
		return maxDim, int(float64(maxDim) / aspect)
	}
	return int(float64(maxDim) * aspect), maxDim
}

// Apply resizes every native frame. Images already within bounds and objects
// without pixel data are returned unchanged.
func (r *Resizer) Apply(ds *dicom.Dataset) (*dicom.Dataset, error) {
	if !dimse.Has(ds, tag.PixelData) {
		return ds, nil
	}
	rows, okRows := dimse.Int(ds, tag.Rows)
	cols, okCols := dimse.Int(ds, tag.Columns)
	bits, okBits := dimse.Int(ds, tag.BitsAllocated)
	if !okRows || !okCols || !okBits || rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("image geometry is incomplete")
	}
	if rows <= r.MaxDimension && cols <= r.MaxDimension {
		logrus.Debugf("image %dx%d already within %d, skipping resize", cols, rows, r.MaxDimension)
		return ds, nil
	}
	if spp, ok := dimse.Int(ds, tag.SamplesPerPixel); ok && spp != 1 {
		return nil, fmt.Errorf("resize supports one sample per pixel, got %d", spp)
	}

	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, err
	}
	if elem.Value.ValueType() != dicom.PixelData {
		return nil, fmt.Errorf("pixel data element has unexpected value type")
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if info.IsEncapsulated {
		return nil, ErrEncapsulatedPixelData
	}

	newCols, newRows := ThumbnailDimensions(cols, rows, r.MaxDimension)
	logrus.Infof("resizing from %dx%d to %dx%d", cols, rows, newCols, newRows)

	// Frames are rebuilt so the input frames stay untouched if any one fails.
	frames := make([]*frame.Frame, len(info.Frames))
	for i, f := range info.Frames {
		if f == nil || f.Encapsulated {
			return nil, fmt.Errorf("frame %d is not native", i)
		}
		native := f.NativeData
		if len(native.Data) != rows*cols {
			return nil, fmt.Errorf("frame %d has %d pixels, expected %d", i, len(native.Data), rows*cols)
		}
		plane := make([]int, len(native.Data))
		for p, samples := range native.Data {
			if len(samples) > 0 {
				plane[p] = samples[0]
			}
		}

		resized := resizePlane(plane, cols, rows, bits, newCols, newRows)
		data := make([][]int, len(resized))
		for p, v := range resized {
			data[p] = []int{v}
		}
		frames[i] = &frame.Frame{
			NativeData: frame.NativeFrame{
				Data:          data,
				Rows:          newRows,
				Cols:          newCols,
				BitsPerSample: native.BitsPerSample,
			},
		}
	}

	resizedInfo := info
	resizedInfo.Frames = frames
	pixelElem, err := dicom.NewElement(tag.PixelData, resizedInfo)
	if err != nil {
		return nil, err
	}
	out := dimse.Clone(ds)
	dimse.Set(out, pixelElem)
	if err := dimse.SetInt(out, tag.Rows, newRows); err != nil {
		return nil, err
	}
	if err := dimse.SetInt(out, tag.Columns, newCols); err != nil {
		return nil, err
	}
	return out, nil
}

// resizePlane scales a row-major plane of cols x rows samples. Sixteen bit
// samples are windowed to 8 bits over their own range for resampling and
// scaled back afterwards; a uniform 16 bit plane resizes to zeros.
func resizePlane(plane []int, cols, rows, bitsAllocated, newCols, newRows int) []int {
	minV, maxV := 0, 0
	if len(plane) > 0 {
		minV, maxV = plane[0], plane[0]
	}
	for _, v := range plane {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	wide := bitsAllocated == 16

	src := image.NewGray(image.Rect(0, 0, cols, rows))
	for i, v := range plane {
		switch {
		case wide && maxV > minV:
			src.Pix[i] = uint8((v - minV) * 255 / (maxV - minV))
		case wide:
			src.Pix[i] = 0
		default:
			src.Pix[i] = clamp8(v)
		}
	}

	dst := image.NewGray(image.Rect(0, 0, newCols, newRows))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]int, len(dst.Pix))
	for i, p := range dst.Pix {
		if wide && maxV > minV {
			out[i] = int(float64(p)/255*float64(maxV-minV)) + minV
		} else {
			out[i] = int(p)
		}
	}
	return out
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
