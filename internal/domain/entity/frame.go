package entity

import "image"

// Frame is one decoded picture in presentation order, starting at index 0.
// Consumers must not mutate Image.
type Frame struct {
	Index int
	Image *image.RGBA
}

func (f *Frame) Bounds() image.Rectangle {
	return f.Image.Bounds()
}

// FrameArtifact is a persisted composited canvas. Name sorts naturally in Index order.
type FrameArtifact struct {
	Index int
	Name  string
	Path  string
}

// VideoInfo is what the container metadata says about the input.
type VideoInfo struct {
	Width       int
	Height      int
	TotalFrames int // 0 when unknown
	FrameRate   float64
	Duration    float64
	HasAudio    bool
}
