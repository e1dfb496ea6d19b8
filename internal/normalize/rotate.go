package normalize

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Rotate turns img counter-clockwise by degrees about its center. The
// canvas grows so no content is cropped, and pixels that fall outside the
// source replicate the nearest edge pixel. Nearest-neighbour sampling keeps
// a two-level input two-level
func Rotate(img *image.Gray, degrees float64) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if degrees == 0 || w == 0 || h == 0 {
		return img
	}

	rad := degrees * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	newW, newH := RotatedSize(w, h, degrees)

	cx, cy := float64(w)/2, float64(h)/2
	tx := (1-cos)*cx - sin*cy + float64(newW)/2 - cx
	ty := sin*cx + (1-cos)*cy + float64(newH)/2 - cy

	out := image.NewGray(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		dy := float64(y) - ty
		row := out.Pix[y*out.Stride : y*out.Stride+newW]
		for x := range row {
			dx := float64(x) - tx
			sx := clamp(int(math.Floor(cos*dx-sin*dy+0.5)), w-1)
			sy := clamp(int(math.Floor(sin*dx+cos*dy+0.5)), h-1)
			row[x] = img.Pix[img.PixOffset(b.Min.X+sx, b.Min.Y+sy)]
		}
	}
	return out
}

// RotatedSize is the canvas that holds a w×h image rotated by degrees,
// rounded up to whole pixels
func RotatedSize(w, h int, degrees float64) (int, int) {
	rad := degrees * math.Pi / 180
	cos, sin := math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad))
	fw, fh := float64(w), float64(h)
	newW := int(math.Ceil(fh*sin + fw*cos - angleEpsilon))
	newH := int(math.Ceil(fh*cos + fw*sin - angleEpsilon))
	return max(newW, 1), max(newH, 1)
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// RotateQuadrant applies a coarse recognizer orientation hint: the image is
// turned clockwise by degrees, which is folded to a multiple of 90. Other
// values leave the image untouched
func RotateQuadrant(img image.Image, degrees int) image.Image {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
