package entity

import (
	"fmt"
	"math"
)

type SkeletonKind string

const (
	SkeletonPose      SkeletonKind = "pose"
	SkeletonLeftHand  SkeletonKind = "left_hand"
	SkeletonRightHand SkeletonKind = "right_hand"
)

// Landmark is one detected keypoint. X and Y are normalized to [0,1] relative
// to the frame width and height; Z is relative depth. Visibility and Presence
// are nil when the detector does not report them.
type Landmark struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          float64  `json:"z,omitempty"`
	Visibility *float64 `json:"visibility,omitempty"`
	Presence   *float64 `json:"presence,omitempty"`
}

// Connection is a bone between two landmark indices.
type Connection struct {
	From int
	To   int
}

// Skeleton is a read-only detector output for one skeleton kind.
type Skeleton struct {
	Kind      SkeletonKind `json:"kind"`
	Landmarks []Landmark   `json:"landmarks"`
}

// Connections returns the fixed connection graph for the skeleton's kind.
func (s *Skeleton) Connections() []Connection {
	switch s.Kind {
	case SkeletonPose:
		return PoseConnections
	case SkeletonLeftHand, SkeletonRightHand:
		return HandConnections
	default:
		return nil
	}
}

// Validate reports malformed detector output.
func (s *Skeleton) Validate() error {
	switch s.Kind {
	case SkeletonPose, SkeletonLeftHand, SkeletonRightHand:
	default:
		return fmt.Errorf("unknown skeleton kind %q", s.Kind)
	}
	for i, lm := range s.Landmarks {
		if !finite(lm.X) || !finite(lm.Y) || !finite(lm.Z) {
			return fmt.Errorf("%s landmark %d has non-finite coordinates", s.Kind, i)
		}
		if lm.Visibility != nil && !finite(*lm.Visibility) {
			return fmt.Errorf("%s landmark %d has non-finite visibility", s.Kind, i)
		}
		if lm.Presence != nil && !finite(*lm.Presence) {
			return fmt.Errorf("%s landmark %d has non-finite presence", s.Kind, i)
		}
	}
	return nil
}

// Detections holds at most one skeleton per kind for a single frame.
type Detections struct {
	Pose      *Skeleton
	LeftHand  *Skeleton
	RightHand *Skeleton
}

func (d Detections) Empty() bool {
	return d.Pose == nil && d.LeftHand == nil && d.RightHand == nil
}

// Validate checks every present skeleton and that each sits in the slot of its kind.
func (d Detections) Validate() error {
	slots := []struct {
		want SkeletonKind
		s    *Skeleton
	}{
		{SkeletonPose, d.Pose},
		{SkeletonLeftHand, d.LeftHand},
		{SkeletonRightHand, d.RightHand},
	}
	for _, slot := range slots {
		if slot.s == nil {
			continue
		}
		if slot.s.Kind != slot.want {
			return fmt.Errorf("skeleton of kind %q in %s slot", slot.s.Kind, slot.want)
		}
		if err := slot.s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// PoseConnections is the 33-landmark body topology.
var PoseConnections = []Connection{
	{0, 1}, {1, 2}, {2, 3}, {3, 7}, {0, 4}, {4, 5}, {5, 6}, {6, 8}, {9, 10},
	{11, 12}, {11, 13}, {13, 15}, {15, 17}, {15, 19}, {15, 21}, {17, 19},
	{12, 14}, {14, 16}, {16, 18}, {16, 20}, {16, 22}, {18, 20},
	{11, 23}, {12, 24}, {23, 24}, {23, 25}, {24, 26}, {25, 27}, {26, 28},
	{27, 29}, {28, 30}, {29, 31}, {30, 32}, {27, 31}, {28, 32},
}

// HandConnections is the 21-landmark hand topology.
var HandConnections = []Connection{
	// palm
	{0, 1}, {0, 5}, {9, 13}, {13, 17}, {5, 9}, {0, 17},
	// thumb
	{1, 2}, {2, 3}, {3, 4},
	// index
	{5, 6}, {6, 7}, {7, 8},
	// middle
	{9, 10}, {10, 11}, {11, 12},
	// ring
	{13, 14}, {14, 15}, {15, 16},
	// pinky
	{17, 18}, {18, 19}, {19, 20},
}
