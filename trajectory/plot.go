package trajectory

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const plotDPI = 96

// Plot draws the travel path of pts into an image of wPx by hPx pixels.
// The first visited points are drawn filled, the start point in red.
func Plot(pts []Point, visited, wPx, hPx int) (image.Image, error) {
	p := plot.New()
	p.Title.Text = "Scan trajectory"
	p.X.Label.Text = "x (µm)"
	p.Y.Label.Text = "y (µm)"
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		xys[i].X = pt.X
		xys[i].Y = pt.Y
	}
	if len(xys) > 0 {
		line, scatter, err := plotter.NewLinePoints(xys)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 0, G: 0, B: 255, A: 255}
		line.Width = vg.Points(1)
		scatter.Shape = draw.CircleGlyph{}
		scatter.Radius = vg.Points(2)
		scatter.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
		p.Add(line, scatter)

		if visited > len(xys) {
			visited = len(xys)
		}
		if visited > 0 {
			done, err := plotter.NewScatter(xys[:visited])
			if err != nil {
				return nil, err
			}
			done.Shape = draw.CircleGlyph{}
			done.Radius = vg.Points(3)
			done.Color = color.RGBA{R: 0, G: 160, B: 0, A: 255}
			p.Add(done)
		}

		start, err := plotter.NewScatter(xys[:1])
		if err != nil {
			return nil, err
		}
		start.Shape = draw.CircleGlyph{}
		start.Radius = vg.Points(4)
		start.Color = color.RGBA{R: 255, G: 0, B: 0, A: 255}
		p.Add(start)
	}

	width := vg.Length(wPx) * vg.Inch / plotDPI
	height := vg.Length(hPx) * vg.Inch / plotDPI
	c := vgimg.New(width, height)
	p.Draw(draw.New(c))
	return c.Image(), nil
}

// WritePNG renders Plot to w as a PNG
func WritePNG(w io.Writer, pts []Point, visited, wPx, hPx int) error {
	img, err := Plot(pts, visited, wPx, hPx)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
