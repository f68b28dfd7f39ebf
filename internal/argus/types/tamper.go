package types

import "time"

type TamperStatus string

const (
	TamperNormal  TamperStatus = "NORMAL"
	TamperCovered TamperStatus = "COVERED"
	TamperMoved   TamperStatus = "MOVED"
)

// TamperState is a snapshot of the tamper monitor.
type TamperState struct {
	Status             TamperStatus `json:"status"`
	BaselineBrightness float64      `json:"baseline_brightness"`
	BaselineReady      bool         `json:"baseline_ready"`
	LastCheck          time.Time    `json:"last_check"`
	Since              time.Time    `json:"since"`
}

// TamperEvent describes one status transition. PreviousSince is when the
// status being left was entered; At is when it was left.
type TamperEvent struct {
	From          TamperStatus `json:"from"`
	To            TamperStatus `json:"to"`
	At            time.Time    `json:"at"`
	PreviousSince time.Time    `json:"previous_since"`
	Brightness    float64      `json:"brightness"`
	Difference    float64      `json:"difference"`
}
