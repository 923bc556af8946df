package pipeline

import "errors"

// State is a step of a run. A run moves forward only:
//
//	Idle -> Opened -> PerFrame -> (Reassembling | EmptyResult) -> Done | Failed
type State string

const (
	StateIdle         State = "idle"
	StateOpened       State = "opened"
	StatePerFrame     State = "per_frame"
	StateReassembling State = "reassembling"
	StateEmptyResult  State = "empty_result"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeEmpty means the source opened but no frame was stored. It is a
	// warning, not an error; no output video exists.
	OutcomeEmpty Outcome = "empty"
)

var (
	ErrSourceUnreadable = errors.New("source unreadable")
	ErrReassembly       = errors.New("reassembly failed")
)

// Result is the terminal value of a successful or empty run.
type Result struct {
	Outcome           Outcome
	State             State
	Video             []byte
	FrameCount        int
	DetectionFailures int
	DroppedFrames     int
	FPS               float64
	Duration          float64
}
