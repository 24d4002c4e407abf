// Package model defines the data structures for yomu's preload scheduling:
// tasks, priorities, tier configuration, and runtime state.
package model

import "time"

// Priority bands for decode tasks. Higher wins; ties resolve by insertion
// order (first in, first out).
const (
	PriorityCritical   = 100 // current page
	PriorityHigh       = 80
	PriorityNormal     = 50
	PriorityLow        = 20
	PriorityBackground = 10 // progressive extension
)

type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// Task is one pending decode request. At most one live task exists per
// (PageIndex, Epoch) pair; a duplicate request only raises Priority.
type Task struct {
	PageIndex int
	Priority  int
	Epoch     uint64
	Status    Status
	CreatedAt time.Time
}

// Frame is a decoded page ready for display.
type Frame struct {
	PageIndex int
	Name      string
	Data      []byte
	Width     int
	Height    int
	DecodeMs  int64
}

// Size returns the frame's memory footprint in bytes for cache accounting.
func (f *Frame) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}
