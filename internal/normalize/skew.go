package normalize

import (
	"cmp"
	"image"
	"math"
	"slices"
)

// angleEpsilon snaps float noise around axis-aligned rectangles to zero
const angleEpsilon = 1e-9

// Rect is a rotated rectangle. Angle is the tilt of its sides relative to
// the image axes, folded into [0, 90) degrees, measured in image space
// (y grows downwards)
type Rect struct {
	CenterX, CenterY float64
	Width, Height    float64
	Angle            float64
}

// SkewAngle estimates the tilt of the ink in a binarized image and reports
// it as θ ∈ [-90, 0), the convention Correction expects. It returns 0 when
// the ink is axis aligned or when there is no ink at all
func SkewAngle(bin *image.Gray) float64 {
	rect := MinAreaRect(inkExtremes(bin))
	if rect.Angle == 0 {
		return 0
	}
	return -rect.Angle
}

// Correction folds θ into the rotation that straightens the text without
// turning the page upside down. Positive results rotate counter-clockwise
func Correction(theta float64) float64 {
	switch {
	case theta == 0:
		return 0
	case theta < -45:
		return -(90 + theta)
	default:
		return -theta
	}
}

// inkExtremes returns the leftmost and rightmost foreground pixel of every
// row. Their convex hull equals the hull of all foreground pixels
func inkExtremes(bin *image.Gray) []image.Point {
	b := bin.Bounds()
	var points []image.Point
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := bin.Pix[(y-b.Min.Y)*bin.Stride : (y-b.Min.Y)*bin.Stride+b.Dx()]
		left := -1
		for x, v := range row {
			if v == foreground {
				left = x
				break
			}
		}
		if left < 0 {
			continue
		}
		right := left
		for x := len(row) - 1; x > left; x-- {
			if row[x] == foreground {
				right = x
				break
			}
		}
		points = append(points, image.Pt(b.Min.X+left, y))
		if right != left {
			points = append(points, image.Pt(b.Min.X+right, y))
		}
	}
	return points
}

// MinAreaRect returns the smallest-area rectangle, in any orientation,
// enclosing the points. One hull edge always lies on a side of the optimum,
// so every hull edge is tried; ties keep the first edge found
func MinAreaRect(points []image.Point) Rect {
	hull := convexHull(points)
	switch len(hull) {
	case 0:
		return Rect{}
	case 1:
		return Rect{CenterX: float64(hull[0].X), CenterY: float64(hull[0].Y)}
	}

	var best Rect
	bestArea := math.Inf(1)
	for i, p := range hull {
		q := hull[(i+1)%len(hull)]
		ex, ey := float64(q.X-p.X), float64(q.Y-p.Y)
		length := math.Hypot(ex, ey)
		ux, uy := ex/length, ey/length

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, h := range hull {
			dx, dy := float64(h.X-p.X), float64(h.Y-p.Y)
			u := dx*ux + dy*uy
			v := dy*ux - dx*uy
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}

		area := (maxU - minU) * (maxV - minV)
		if area >= bestArea {
			continue
		}
		bestArea = area
		midU, midV := (minU+maxU)/2, (minV+maxV)/2
		best = Rect{
			CenterX: float64(p.X) + midU*ux - midV*uy,
			CenterY: float64(p.Y) + midU*uy + midV*ux,
			Width:   maxU - minU,
			Height:  maxV - minV,
			Angle:   foldAngle(math.Atan2(uy, ux) * 180 / math.Pi),
		}
	}
	return best
}

// foldAngle maps an edge direction in degrees into [0, 90)
func foldAngle(deg float64) float64 {
	a := math.Mod(deg, 90)
	if a < 0 {
		a += 90
	}
	if a < angleEpsilon || 90-a < angleEpsilon {
		return 0
	}
	return a
}

// convexHull is Andrew's monotone chain. The hull is returned
// counter-clockwise without repeating the first point; collinear points
// are dropped
func convexHull(points []image.Point) []image.Point {
	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b image.Point) int {
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	pts = slices.Compact(pts)
	if len(pts) < 3 {
		return pts
	}

	cross := func(o, a, b image.Point) int64 {
		return int64(a.X-o.X)*int64(b.Y-o.Y) - int64(a.Y-o.Y)*int64(b.X-o.X)
	}
	hull := make([]image.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
