// Package alert decides when a zone violation is worth telling someone
// about and hands the resulting alerts to an outward channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

type Alert struct {
	ID           string    `json:"id"`
	Level        Level     `json:"level"`
	Zone         string    `json:"zone,omitempty"`
	Label        string    `json:"label,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	RecordingRef string    `json:"recording_ref,omitempty"`
}

// FromViolation builds the warning-level alert for a zone violation.
func FromViolation(v types.ZoneViolation, recordingRef string) Alert {
	return Alert{
		ID:           uuid.NewString(),
		Level:        LevelWarning,
		Zone:         v.Zone,
		Label:        v.Detection.Label,
		Confidence:   v.Detection.Confidence,
		Message:      fmt.Sprintf("%s detected in zone %s (%.0f%%)", labelOrObject(v.Detection.Label), v.Zone, v.Detection.Confidence*100),
		Timestamp:    v.Timestamp,
		RecordingRef: recordingRef,
	}
}

func labelOrObject(label string) string {
	if label == "" {
		return "object"
	}
	return label
}

// Channel delivers an alert outward. Implementations may block for the
// duration of one delivery attempt; the dispatcher never retries.
type Channel interface {
	Notify(ctx context.Context, a Alert) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, a Alert) error

func (f ChannelFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogChannel writes alerts to a logger. It is the default channel when
// nothing else is configured.
type LogChannel struct {
	Logger *log.Logger
}

func (c LogChannel) Notify(_ context.Context, a Alert) error {
	if a.Zone != "" {
		c.Logger.Printf("ALERT [%s] zone=%s %s", a.Level, a.Zone, a.Message)
	} else {
		c.Logger.Printf("ALERT [%s] %s", a.Level, a.Message)
	}
	return nil
}

// Multi fans an alert out to every channel and joins their errors.
type Multi []Channel

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
