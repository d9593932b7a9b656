// Copyright 2024 The Heliosphere Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package compositor implements the frame compositor (C5, spec.md
// §4.5): color grade both layers, feather the sun-disk layer onto a
// transparent canvas with a screen blend, crop, and JPEG-encode.
//
// Resize, crop, and the straightforward per-channel adjustments
// (saturation, brightness, gamma) are delegated to
// github.com/disintegration/imaging, grounded on the image-pipeline
// examples in other_examples/ (kthornbloom-photog, TyrEamon-tyr-blog-img).
// Hue rotation, tinting, the linear gain/bias contrast, the radial
// feather mask, and the screen blend are implemented here directly against
// image/color and image/draw, the way the pack's other hand-rolled
// per-pixel tools do (other_examples/ skia-buildbot diff-worker).
package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/watkajtys/heliosphere-sub001/internal/errkind"
)

// Params are the fixed compositing constants from spec.md §4.5. All
// fields are system constants, not per-run configuration; Default
// returns the values spec.md names.
type Params struct {
	CanvasWidth, CanvasHeight   int
	SunDiskCanvas               int
	CompositeRadius             int
	FeatherRadius               int
	CropWidth, CropHeight       int
	CropX, CropY                int
	JPEGQuality                 int

	CoronaSaturation, CoronaBrightness, CoronaHueDeg float64
	CoronaTint                                       color.Color
	CoronaContrastGain, CoronaContrastBias           float64
	CoronaGamma                                      float64

	SunSaturation, SunBrightness, SunHueDeg float64
	SunTint                                 color.Color
	SunContrastGain, SunContrastBias        float64
	SunGamma                                float64
}

// Default returns the fixed pipeline constants named in spec.md §4.5.
func Default() Params {
	return Params{
		CanvasWidth:     1920,
		CanvasHeight:    1435,
		SunDiskCanvas:   1435,
		CompositeRadius: 400,
		FeatherRadius:   40,
		CropWidth:       1460,
		CropHeight:      1200,
		CropX:           230,
		CropY:           117,
		JPEGQuality:     92,

		CoronaSaturation:   0.3,
		CoronaBrightness:   1.0,
		CoronaHueDeg:       -5,
		CoronaTint:         color.RGBA{220, 230, 240, 255},
		CoronaContrastGain: 1.2,
		CoronaContrastBias: -12,
		CoronaGamma:        1.2,

		SunSaturation:   1.2,
		SunBrightness:   1.4,
		SunHueDeg:       15,
		SunTint:         color.RGBA{255, 200, 120, 255},
		SunContrastGain: 1.7,
		SunContrastBias: -30,
		SunGamma:        1.15,
	}
}

// Composite implements the pipeline in spec.md §4.5: color-grade both
// inputs, feather the sun-disk layer onto a transparent canvas with the
// graded corona, screen-blend, crop, and JPEG-encode. Given identical
// inputs and p, Composite is deterministic: no randomness, no
// wall-clock or goroutine-order dependence.
func Composite(coronaRaw, sunRaw []byte, p Params) ([]byte, error) {
	corona, err := decode(coronaRaw)
	if err != nil {
		return nil, errors.Wrap(errkind.ErrCompositing, "decode corona: "+err.Error())
	}
	sun, err := decode(sunRaw)
	if err != nil {
		return nil, errors.Wrap(errkind.ErrCompositing, "decode sun disk: "+err.Error())
	}

	gradedCorona := colorGrade(corona, p.CoronaSaturation, p.CoronaBrightness, p.CoronaHueDeg, p.CoronaTint, p.CoronaContrastGain, p.CoronaContrastBias, p.CoronaGamma)
	gradedSun := colorGrade(sun, p.SunSaturation, p.SunBrightness, p.SunHueDeg, p.SunTint, p.SunContrastGain, p.SunContrastBias, p.SunGamma)

	feathered := featherRadial(gradedSun, p.SunDiskCanvas, p.CompositeRadius, p.FeatherRadius)

	canvas := image.NewRGBA(image.Rect(0, 0, p.CanvasWidth, p.CanvasHeight))
	coronaOrigin := centeredOrigin(canvas.Bounds(), gradedCorona.Bounds())
	draw.Draw(canvas, gradedCorona.Bounds().Add(coronaOrigin), gradedCorona, image.Point{}, draw.Src)

	sunOrigin := centeredOrigin(canvas.Bounds(), feathered.Bounds())
	screenBlend(canvas, feathered, sunOrigin)

	cropRect := image.Rect(p.CropX, p.CropY, p.CropX+p.CropWidth, p.CropY+p.CropHeight)
	cropped := imaging.Crop(canvas, cropRect)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: clampQuality(p.JPEGQuality)}); err != nil {
		return nil, errors.Wrap(errkind.ErrCompositing, "encode: "+err.Error())
	}
	return buf.Bytes(), nil
}

func decode(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	return img, err
}

// colorGrade applies saturation, brightness, hue rotation, tint,
// linear contrast, and gamma in the order given in spec.md §4.5 steps
// 1-2.
func colorGrade(img image.Image, saturation, brightness, hueDeg float64, tint color.Color, contrastGain, contrastBias, gamma float64) image.Image {
	out := imaging.AdjustSaturation(img, (saturation-1.0)*100)
	out = imaging.AdjustBrightness(out, (brightness-1.0)*100)
	out = rotateHue(out, hueDeg)
	out = applyTint(out, tint, 0.15)
	out = linearContrast(out, contrastGain, contrastBias)
	out = imaging.AdjustGamma(out, gamma)
	return out
}

// rotateHue rotates every pixel's hue by degrees, preserving
// saturation and lightness, via an HSL round trip.
func rotateHue(img image.Image, degrees float64) image.Image {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			h, s, l := rgbToHSL(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			h = math.Mod(h+degrees+360, 360)
			nr, ng, nb := hslToRGB(h, s, l)
			out.SetNRGBA(x, y, color.NRGBA{nr, ng, nb, uint8(a >> 8)})
		}
	}
	return out
}

// applyTint blends every pixel toward tint by weight (0..1), preserving
// alpha.
func applyTint(img image.Image, tint color.Color, weight float64) image.Image {
	tr, tg, tb, _ := tint.RGBA()
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			nr := blend8(uint8(r>>8), uint8(tr>>8), weight)
			ng := blend8(uint8(g>>8), uint8(tg>>8), weight)
			nb := blend8(uint8(bl>>8), uint8(tb>>8), weight)
			out.SetNRGBA(x, y, color.NRGBA{nr, ng, nb, uint8(a >> 8)})
		}
	}
	return out
}

// linearContrast applies out = in*gain + bias per channel, clamped to
// [0,255].
func linearContrast(img image.Image, gain, bias float64) image.Image {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			nr := clampF(float64(uint8(r>>8))*gain + bias)
			ng := clampF(float64(uint8(g>>8))*gain + bias)
			nb := clampF(float64(uint8(bl>>8))*gain + bias)
			out.SetNRGBA(x, y, color.NRGBA{nr, ng, nb, uint8(a >> 8)})
		}
	}
	return out
}

// featherRadial resizes src to an canvasSize×canvasSize square and
// applies a radial alpha mask (spec.md §4.5 step 3): fully opaque
// inside radius-feather, fully transparent outside radius, with a
// smooth transition between, via destination-in.
func featherRadial(src image.Image, canvasSize, radius, feather int) image.Image {
	resized := imaging.Resize(src, canvasSize, canvasSize, imaging.Lanczos)
	b := resized.Bounds()
	cx := float64(b.Min.X+b.Max.X) / 2
	cy := float64(b.Min.Y+b.Max.Y) / 2
	innerRadius := float64(radius - feather)
	outerRadius := float64(radius)

	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := resized.At(x, y).RGBA()
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			alpha := radialAlpha(d, innerRadius, outerRadius)
			origAlpha := float64(uint8(a >> 8))
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8(r >> 8),
				G: uint8(g >> 8),
				B: uint8(bl >> 8),
				A: uint8(clampF(origAlpha * alpha)),
			})
		}
	}
	return out
}

func radialAlpha(d, inner, outer float64) float64 {
	switch {
	case d <= inner:
		return 1.0
	case d >= outer:
		return 0.0
	default:
		return 1.0 - (d-inner)/(outer-inner)
	}
}

// screenBlend composites overlay onto dst at origin using the screen
// blend formula (out = 1-(1-a)*(1-b)) per channel, modulated by
// overlay's own alpha (spec.md §4.5 step 4).
func screenBlend(dst *image.RGBA, overlay image.Image, origin image.Point) {
	b := overlay.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sr, sg, sb, sa := overlay.At(x, y).RGBA()
			if sa == 0 {
				continue
			}
			dx, dy := x+origin.X, y+origin.Y
			if !image.Pt(dx, dy).In(dst.Bounds()) {
				continue
			}
			dr, dg, db, _ := dst.At(dx, dy).RGBA()

			screened := color.RGBA{
				R: screenChannel(uint8(dr>>8), uint8(sr>>8)),
				G: screenChannel(uint8(dg>>8), uint8(sg>>8)),
				B: screenChannel(uint8(db>>8), uint8(sb>>8)),
				A: 255,
			}
			alpha := float64(uint8(sa>>8)) / 255.0
			final := color.RGBA{
				R: blend8(uint8(dr>>8), screened.R, alpha),
				G: blend8(uint8(dg>>8), screened.G, alpha),
				B: blend8(uint8(db>>8), screened.B, alpha),
				A: 255,
			}
			dst.Set(dx, dy, final)
		}
	}
}

func screenChannel(a, b uint8) uint8 {
	af, bf := float64(a)/255, float64(b)/255
	return uint8(clampF((1 - (1-af)*(1-bf)) * 255))
}

func centeredOrigin(outer, inner image.Rectangle) image.Point {
	ow, oh := outer.Dx(), outer.Dy()
	iw, ih := inner.Dx(), inner.Dy()
	return image.Pt((ow-iw)/2, (oh-ih)/2)
}

func blend8(a, b uint8, weight float64) uint8 {
	return uint8(clampF(float64(a)*(1-weight) + float64(b)*weight))
}

func clampF(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// rgbToHSL converts 8-bit RGB to hue (degrees, [0,360)), saturation and
// lightness ([0,1]).
func rgbToHSL(r, g, b uint8) (h, s, l float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	l = (maxC + minC) / 2

	if maxC == minC {
		return 0, 0, l
	}

	d := maxC - minC
	if l > 0.5 {
		s = d / (2 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}

	switch maxC {
	case rf:
		h = math.Mod((gf-bf)/d, 6)
	case gf:
		h = (bf-rf)/d + 2
	case bf:
		h = (rf-gf)/d + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, l
}

// hslToRGB converts back to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(clampF(l * 255))
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	hk := h / 360

	r = uint8(clampF(hueToRGB(p, q, hk+1.0/3) * 255))
	g = uint8(clampF(hueToRGB(p, q, hk) * 255))
	b = uint8(clampF(hueToRGB(p, q, hk-1.0/3) * 255))
	return r, g, b
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}
