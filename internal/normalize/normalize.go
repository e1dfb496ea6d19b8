// Package normalize turns an arbitrary receipt capture into a binarized,
// deskewed image that a text recognizer can read.
//
// The pipeline is: upscale small captures, convert to inverted grayscale,
// binarize with an Otsu threshold, estimate the text block tilt from the
// minimum-area rectangle around all ink pixels, and rotate the image back to
// horizontal on a canvas large enough to hold the whole result.
//
// Ink is bright in the output: foreground pixels are 255, background is 0.
// Every function here is pure and deterministic, so it is safe to call from
// any goroutine
package normalize

import (
	"image"

	"github.com/disintegration/imaging"
)

// MinDimension is the smallest width or height that is binarized as-is.
// Captures below it in either dimension are doubled first
const MinDimension = 1000

const (
	background uint8 = 0
	foreground uint8 = 255
)

// Normalize returns a new single-channel, two-level image whose dominant
// text baseline is horizontal. It never fails: garbage in, garbage out
func Normalize(img image.Image) *image.Gray {
	bin, _ := Binarize(img)
	theta := SkewAngle(bin)
	if theta == 0 {
		return bin
	}
	return Rotate(bin, Correction(theta))
}

// Binarize upscales small captures, inverts the luminance and applies a
// global Otsu threshold. It returns the two-level image and the threshold
// that was chosen; a pixel is foreground when its inverted luminance is
// strictly above the threshold
func Binarize(img image.Image) (*image.Gray, uint8) {
	b := img.Bounds()
	if b.Dx() < MinDimension || b.Dy() < MinDimension {
		img = imaging.Resize(img, b.Dx()*2, b.Dy()*2, imaging.NearestNeighbor)
	}
	inverted := imaging.Invert(imaging.Grayscale(img))
	gray := luminance(inverted)

	var hist [256]int
	for _, v := range gray.Pix {
		hist[v]++
	}
	threshold := OtsuThreshold(hist)
	for i, v := range gray.Pix {
		if v > threshold {
			gray.Pix[i] = foreground
		} else {
			gray.Pix[i] = background
		}
	}
	return gray, threshold
}

// luminance copies the red channel of an already gray NRGBA image into a
// tightly packed *image.Gray anchored at the origin
func luminance(img *image.NRGBA) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			dst[x] = src[x*4]
		}
	}
	return out
}

// OtsuThreshold picks the cutoff that maximizes the between-class variance
// of a 256-bin luminance histogram. Ties keep the lowest cutoff; an empty or
// single-valued histogram yields 0
func OtsuThreshold(hist [256]int) uint8 {
	total := 0
	var sum float64
	for i, c := range hist {
		total += c
		sum += float64(i) * float64(c)
	}
	if total == 0 {
		return 0
	}

	var (
		sumBackground float64
		weightBack    int
		maxVariance   float64
		threshold     int
	)
	for t := 0; t < 256; t++ {
		weightBack += hist[t]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}
		sumBackground += float64(t) * float64(hist[t])
		meanBack := sumBackground / float64(weightBack)
		meanFore := (sum - sumBackground) / float64(weightFore)
		diff := meanBack - meanFore
		variance := float64(weightBack) * float64(weightFore) * diff * diff
		if variance > maxVariance {
			maxVariance = variance
			threshold = t
		}
	}
	return uint8(threshold)
}
