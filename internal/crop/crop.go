package crop

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/zombor/regionlens/internal/capture"
	"github.com/zombor/regionlens/internal/failure"
	"github.com/zombor/regionlens/internal/raster"
)

// Image is a cropped PNG
type Image struct {
	PNG    []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Geometry is the mapping from a viewport selection to raster pixels
type Geometry struct {
	ScaleX float64
	ScaleY float64
	// source rectangle in raster pixels, possibly fractional
	X, Y, W, H float64
	// output size
	OutW, OutH int
}

// Origin is the source origin rounded to whole pixels
func (g Geometry) Origin() image.Point {
	return image.Pt(int(math.Round(g.X)), int(math.Round(g.Y)))
}

// Size is the output size
func (g Geometry) Size() image.Point {
	return image.Pt(g.OutW, g.OutH)
}

// exact reports whether the crop is a whole-pixel copy with no resampling
func (g Geometry) exact() bool {
	return g.X == math.Trunc(g.X) && g.Y == math.Trunc(g.Y) &&
		g.W == float64(g.OutW) && g.H == float64(g.OutH)
}

// Plan computes where a selection lands in a raster of the given size. The
// scale factors come from the raster itself, which folds zoom and device
// pixel ratio into one correction.
func Plan(rasterSize image.Point, vp capture.Viewport, rect capture.Rect) (Geometry, error) {
	if !vp.Valid() {
		return Geometry{}, failure.New(failure.InvalidRegion, "viewport %vx%v is not usable", vp.Width, vp.Height)
	}
	if rasterSize.X <= 0 || rasterSize.Y <= 0 {
		return Geometry{}, failure.New(failure.InvalidRegion, "raster is empty")
	}

	g := Geometry{
		ScaleX: float64(rasterSize.X) / vp.Width,
		ScaleY: float64(rasterSize.Y) / vp.Height,
	}
	g.X = rect.Left * g.ScaleX
	g.Y = rect.Top * g.ScaleY
	g.W = rect.Width * g.ScaleX
	g.H = rect.Height * g.ScaleY
	g.OutW = int(math.Round(g.W))
	g.OutH = int(math.Round(g.H))

	if g.OutW < 1 || g.OutH < 1 {
		return Geometry{}, failure.New(failure.InvalidRegion, "crop of %vx%v rounds to nothing", g.W, g.H)
	}
	return g, nil
}

// Crop cuts the selection out of a full-viewport raster. It is pure: the
// same inputs always produce the same bytes.
func Crop(data []byte, vp capture.Viewport, rect capture.Rect) (Image, error) {
	src, err := raster.Decode(data, "image/png")
	if err != nil {
		return Image{}, failure.New(failure.CaptureFailed, "decoding capture: %v", err)
	}
	bounds := src.Bounds()

	g, err := Plan(bounds.Size(), vp, rect)
	if err != nil {
		return Image{}, err
	}

	// sr is the covered source area, clamped to the raster
	sr := image.Rect(
		int(math.Floor(g.X)), int(math.Floor(g.Y)),
		int(math.Ceil(g.X+g.W)), int(math.Ceil(g.Y+g.H)),
	).Add(bounds.Min).Intersect(bounds)
	if sr.Empty() {
		return Image{}, failure.New(failure.InvalidRegion, "selection lies outside the captured raster")
	}

	dst := image.NewRGBA(image.Rect(0, 0, g.OutW, g.OutH))
	if g.exact() {
		origin := image.Pt(int(g.X), int(g.Y)).Add(bounds.Min)
		draw.Copy(dst, image.Point{}, src, image.Rectangle{Min: origin, Max: origin.Add(g.Size())}.Intersect(bounds), draw.Src, nil)
	} else {
		sx := float64(g.OutW) / g.W
		sy := float64(g.OutH) / g.H
		ox := g.X + float64(bounds.Min.X)
		oy := g.Y + float64(bounds.Min.Y)
		s2d := f64.Aff3{
			sx, 0, -ox * sx,
			0, sy, -oy * sy,
		}
		draw.CatmullRom.Transform(dst, s2d, src, sr, draw.Src, nil)
	}

	png, err := raster.EncodePNG(dst)
	if err != nil {
		return Image{}, err
	}
	return Image{PNG: png, Width: g.OutW, Height: g.OutH}, nil
}
