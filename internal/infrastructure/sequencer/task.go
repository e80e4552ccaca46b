package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRoom = errors.New("room id is required")
	ErrClosed      = errors.New("sequencer closed")
	ErrNotHalted   = errors.New("room is not halted")
)

// Task is the payload of a queued unit of work.
type Task interface {
	TaskName() string
}

type QueuedTask struct {
	RoomID     string
	Payload    Task
	EnqueuedAt time.Time
}

type Processor interface {
	Process(ctx context.Context, task QueuedTask) error
}

type ProcessorFunc func(ctx context.Context, task QueuedTask) error

func (f ProcessorFunc) Process(ctx context.Context, task QueuedTask) error {
	return f(ctx, task)
}

// RoomProcessingHalt describes a room whose queue stopped on a failing task.
// The failed task and everything behind it stay queued until Resume.
type RoomProcessingHalt struct {
	RoomID  string
	Task    QueuedTask
	Pending int
	Err     error
}

func (h *RoomProcessingHalt) Error() string {
	return fmt.Sprintf("room %s halted on %s with %d pending: %v", h.RoomID, h.Task.Payload.TaskName(), h.Pending, h.Err)
}

func (h *RoomProcessingHalt) Unwrap() error {
	return h.Err
}
