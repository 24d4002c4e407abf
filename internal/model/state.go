package model

import "time"

// RuntimeState is the scheduler's mutable navigation state. It is owned
// exclusively by the scheduler and reset, not destroyed, when a new document
// is opened.
type RuntimeState struct {
	CurrentPage  int // -1 = unset
	PreviousPage int
	Epoch        uint64
	Direction    Direction
	RapidMode    bool
	RapidCount   int
	LastTurn     time.Time
}

// NewRuntimeState returns the initial state for a freshly opened document.
func NewRuntimeState() RuntimeState {
	return RuntimeState{
		CurrentPage:  -1,
		PreviousPage: -1,
		Direction:    DirectionForward,
	}
}

// ProgressiveState is a snapshot of the background extension machinery.
type ProgressiveState struct {
	Running          bool `json:"running"`
	CountdownSeconds int  `json:"countdown_seconds"`
	TimerArmed       bool `json:"timer_armed"`
	FurthestLoaded   int  `json:"furthest_loaded"` // -1 = nothing loaded yet
}

// QueueStatus is the introspection report exposed to diagnostics/UI.
type QueueStatus struct {
	CurrentPage  int       `json:"current_page"`
	PendingCount int       `json:"pending_count"`
	CachedCount  int       `json:"cached_count"`
	Epoch        uint64    `json:"epoch"`
	Direction    Direction `json:"direction"`
	RapidMode    bool      `json:"rapid_mode"`
}
