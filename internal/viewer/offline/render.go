package offline

import (
	"bytes"
	"context"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/viewer"
)

var (
	objectFill  = color.RGBA{R: 200, G: 210, B: 230, A: 160}
	visibleFill = color.RGBA{R: 90, G: 160, B: 90, A: 200}
	cameraColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
)

// CaptureImage renders a plan view of the model with the camera and its
// line of sight. Objects visible from the camera are highlighted. The PNG is
// exactly width x height pixels.
func (v *Viewer) CaptureImage(ctx context.Context, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", width, height)
	}
	v.mu.Lock()
	if !v.cam.viewSet {
		v.mu.Unlock()
		return nil, errNoView
	}
	v.cam.Width, v.cam.Height = width, height
	cam := v.cam
	v.mu.Unlock()

	candidates, err := v.store.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	proj := newProjection(cam)
	full := fullRegion(cam)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("View from (%.2f, %.2f, %.2f)", cam.Position.X, cam.Position.Y, cam.Position.Z)
	p.X.Label.Text = "x (" + v.unit + ")"
	p.Y.Label.Text = "y (" + v.unit + ")"

	for _, c := range candidates {
		if c.Hidden {
			continue
		}
		poly, err := plotter.NewPolygon(footprint(c.Box))
		if err != nil {
			return nil, fmt.Errorf("outline object %d: %w", c.ID, err)
		}
		poly.Color = objectFill
		if c.Box.ContainsPoint(cam.Position) || proj.anyInside(c.Box, full) {
			poly.Color = visibleFill
		}
		poly.LineStyle.Width = vg.Points(0.5)
		p.Add(poly)
	}

	sight, err := plotter.NewLine(plotter.XYs{
		{X: cam.Position.X, Y: cam.Position.Y},
		{X: cam.Target.X, Y: cam.Target.Y},
	})
	if err != nil {
		return nil, fmt.Errorf("line of sight: %w", err)
	}
	sight.Color = cameraColor
	sight.Width = vg.Points(1)
	sight.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	eye, err := plotter.NewScatter(plotter.XYs{{X: cam.Position.X, Y: cam.Position.Y}})
	if err != nil {
		return nil, fmt.Errorf("camera marker: %w", err)
	}
	eye.GlyphStyle.Color = cameraColor
	eye.GlyphStyle.Radius = vg.Points(3)
	eye.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(sight, eye)

	// At 72 DPI one vg point is one pixel.
	canvas := vgimg.NewWith(
		vgimg.UseWH(vg.Length(width), vg.Length(height)),
		vgimg.UseDPI(72),
	)
	p.Draw(draw.New(canvas))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func fullRegion(cam Camera) viewer.Region {
	return viewer.Region{Right: cam.Width, Bottom: cam.Height}
}

func footprint(b geometry.Box) plotter.XYs {
	return plotter.XYs{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
	}
}
