package types

import "time"

// ZoneDefinition is a named monitored region. Polygon is in pixel
// coordinates of the stream and is fixed for the life of the process.
type ZoneDefinition struct {
	Name        string  `json:"name"`
	Polygon     []Point `json:"polygon"`
	Sensitivity float64 `json:"sensitivity"`
	Enabled     bool    `json:"enabled"`
}

// ZoneViolation is a detection whose center fell inside an enabled zone
// with enough confidence for that zone.
type ZoneViolation struct {
	Zone      string    `json:"zone"`
	Detection Detection `json:"detection"`
	Timestamp time.Time `json:"timestamp"`
	FrameSeq  uint64    `json:"frame_seq"`
}
