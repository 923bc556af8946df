package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/fogleman/gg"
)

const (
	visibilityThreshold = 0.5
	presenceThreshold   = 0.5
)

// Compositor paints skeletons onto black canvases.
type Compositor struct {
	styles Styles
}

func NewCompositor(styles Styles) *Compositor {
	return &Compositor{styles: styles}
}

// NewCanvas returns an opaque black canvas with the given bounds.
func (c *Compositor) NewCanvas(bounds image.Rectangle) *image.RGBA {
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	return canvas
}

// Draw paints the right hand, then the left hand, then the pose, so the pose
// wins where strokes overlap near the wrists. Absent skeletons are skipped.
func (c *Compositor) Draw(canvas *image.RGBA, det entity.Detections) {
	dc := gg.NewContextForRGBA(canvas)
	dc.SetLineCap(gg.LineCapRound)

	b := canvas.Bounds()
	c.drawSkeleton(dc, b, det.RightHand, func(int) Style { return c.styles.RightHand })
	c.drawSkeleton(dc, b, det.LeftHand, func(int) Style { return c.styles.LeftHand })
	c.drawSkeleton(dc, b, det.Pose, c.styles.poseLandmark)
}

func (c *Compositor) drawSkeleton(dc *gg.Context, b image.Rectangle, s *entity.Skeleton, styleOf func(int) Style) {
	if s == nil || len(s.Landmarks) == 0 {
		return
	}

	points := make(map[int]gg.Point, len(s.Landmarks))
	for i, lm := range s.Landmarks {
		if lm.Visibility != nil && *lm.Visibility < visibilityThreshold {
			continue
		}
		if lm.Presence != nil && *lm.Presence < presenceThreshold {
			continue
		}
		if p, ok := toPixel(lm.X, lm.Y, b); ok {
			points[i] = p
		}
	}

	conn := c.styles.Connection
	dc.SetColor(conn.Color)
	dc.SetLineWidth(conn.Thickness)
	for _, e := range s.Connections() {
		from, ok1 := points[e.From]
		to, ok2 := points[e.To]
		if !ok1 || !ok2 {
			continue
		}
		dc.DrawLine(from.X, from.Y, to.X, to.Y)
		dc.Stroke()
	}

	for i := range s.Landmarks {
		p, ok := points[i]
		if !ok {
			continue
		}
		st := styleOf(i)
		border := math.Max(st.Radius+1, math.Floor(st.Radius*1.2))
		dc.SetColor(white)
		dc.SetLineWidth(st.Thickness)
		dc.DrawCircle(p.X, p.Y, border)
		dc.Stroke()

		// the dot is a ring of the same width as the border
		dc.SetColor(st.Color)
		dc.DrawCircle(p.X, p.Y, st.Radius)
		dc.Stroke()
	}
}

// toPixel maps normalized coordinates to the center of a pixel. Points outside
// [0,1] are dropped.
func toPixel(x, y float64, b image.Rectangle) (gg.Point, bool) {
	const eps = 1e-9
	if x < -eps || x > 1+eps || y < -eps || y > 1+eps {
		return gg.Point{}, false
	}
	w, h := b.Dx(), b.Dy()
	px := math.Min(math.Floor(x*float64(w)), float64(w-1))
	py := math.Min(math.Floor(y*float64(h)), float64(h-1))
	px = math.Max(px, 0)
	py = math.Max(py, 0)
	return gg.Point{X: float64(b.Min.X) + px + 0.5, Y: float64(b.Min.Y) + py + 0.5}, true
}

// PixelOf returns the integer pixel a landmark is drawn at.
func PixelOf(lm entity.Landmark, b image.Rectangle) (image.Point, bool) {
	p, ok := toPixel(lm.X, lm.Y, b)
	if !ok {
		return image.Point{}, false
	}
	return image.Pt(int(p.X), int(p.Y)), true
}
