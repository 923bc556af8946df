package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Style is the stroke style for one set of landmarks or bones.
type Style struct {
	Color     color.RGBA
	Thickness float64
	Radius    float64
}

// Styles groups the specs the compositor uses per skeleton kind.
type Styles struct {
	LeftHand   Style
	RightHand  Style
	Connection Style
	PoseLeft   Style
	PoseRight  Style
	PoseCenter Style
}

var (
	white = color.RGBA{R: 224, G: 224, B: 224, A: 255}

	// DefaultStyles mirrors the stock landmark palette: hands in two distinct
	// colors, pose sides in orange/cyan, bones in light grey.
	DefaultStyles = Styles{
		LeftHand:   Style{Color: color.RGBA{R: 235, G: 196, B: 0, A: 255}, Thickness: 2, Radius: 2},
		RightHand:  Style{Color: color.RGBA{R: 0, G: 142, B: 255, A: 255}, Thickness: 2, Radius: 2},
		Connection: Style{Color: white, Thickness: 2, Radius: 2},
		PoseLeft:   Style{Color: color.RGBA{R: 255, G: 138, B: 0, A: 255}, Thickness: 2, Radius: 2},
		PoseRight:  Style{Color: color.RGBA{R: 0, G: 217, B: 231, A: 255}, Thickness: 2, Radius: 2},
		PoseCenter: Style{Color: white, Thickness: 2, Radius: 2},
	}
)

// WithHands returns a copy of s with the hand colors and thicknesses replaced.
func (s Styles) WithHands(left, right color.RGBA, leftThickness, rightThickness float64) Styles {
	s.LeftHand.Color = left
	s.LeftHand.Thickness = leftThickness
	s.RightHand.Color = right
	s.RightHand.Thickness = rightThickness
	return s
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB".
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// pose landmarks on the subject's left side; index 0 (nose) is centered,
// everything else not listed here is on the right.
var poseLeft = map[int]bool{
	1: true, 2: true, 3: true, 7: true, 9: true, 11: true, 13: true, 15: true,
	17: true, 19: true, 21: true, 23: true, 25: true, 27: true, 29: true, 31: true,
}

func (s Styles) poseLandmark(idx int) Style {
	switch {
	case idx == 0:
		return s.PoseCenter
	case poseLeft[idx]:
		return s.PoseLeft
	default:
		return s.PoseRight
	}
}
