package config

import (
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/alert"
	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/motion"
	"github.com/BrandonDHaskell/Argus/internal/argus/pipeline"
	"github.com/BrandonDHaskell/Argus/internal/argus/recorder"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/internal/argus/tamper"
)

// The builders below translate a validated Config into component configs.
// Components read a zero field as "use the default", so a configured 0
// that means "none" is passed on as a negative value.

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// zeroMeansNone maps a configured 0 to the components' "disabled" value.
func zeroMeansNone(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func (c Config) MotionGateConfig() motion.Config {
	return motion.Config{
		Threshold:    c.Motion.Threshold,
		LearningRate: c.Motion.LearningRate,
		PixelDelta:   c.Motion.PixelDelta,
	}
}

func (c Config) TamperMonitorConfig() tamper.Config {
	return tamper.Config{
		BrightnessThreshold: c.Tamper.BrightnessThreshold,
		RelativeDrop:        c.Tamper.RelativeDrop,
		MovementThreshold:   c.Tamper.MovementThreshold,
		CheckInterval:       time.Duration(c.Tamper.CheckIntervalS * float64(time.Second)),
	}
}

func (c Config) LearnerConfig() behavior.Config {
	return behavior.Config{
		SlotMinutes:        c.Behavior.SlotMinutes,
		LearningPeriodDays: c.Behavior.LearningPeriodDays,
		MinSamples:         c.Behavior.MinSamples,
		ZThreshold:         c.Behavior.ZThreshold,
		ProfilePath:        c.Behavior.ProfilePath,
	}
}

// RecorderConfig disables the pre-event buffer when pre_buffer_s is 0.
func (c Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		OutputDir:   c.Recording.Dir,
		FPS:         c.Camera.FPS,
		PreBuffer:   zeroMeansNone(seconds(c.Recording.PreBufferS)),
		PostBuffer:  seconds(c.Recording.PostBufferS),
		MaxDuration: seconds(c.Recording.MaxDurationS),
	}
}

// ManagerConfig leaves every recording evictable when
// min_retention_hours is 0.
func (c Config) ManagerConfig() storage.Config {
	return storage.Config{
		Dir:            c.Recording.Dir,
		MaxBytes:       c.StorageMaxBytes(),
		RetainFraction: c.Storage.RetainFraction,
		MinRetention:   zeroMeansNone(time.Duration(c.Storage.MinRetentionHours) * time.Hour),
	}
}

func (c Config) SweeperConfig() storage.SweeperConfig {
	return storage.SweeperConfig{Interval: seconds(c.Storage.SweepIntervalS)}
}

// DispatcherConfig forwards every violation when cooldown_s is 0.
func (c Config) DispatcherConfig() alert.Config {
	return alert.Config{Cooldown: zeroMeansNone(seconds(c.Alerts.CooldownS))}
}

func (c Config) PipelineRunConfig() pipeline.Config {
	return pipeline.Config{
		FrameSkip:        c.Pipeline.FrameSkip,
		MaintenanceEvery: c.Pipeline.MaintenanceEvery,
		SourceTimeout:    seconds(c.Camera.SourceTimeoutS),
		DetectTimeout:    seconds(c.Detector.TimeoutS),
		TargetClasses:    c.Detector.Classes,
	}
}

func (c Config) PrunerConfig() service.PrunerConfig {
	return service.PrunerConfig{
		RetentionDays: c.Events.RetentionDays,
		IntervalHours: c.Events.PruneIntervalHours,
	}
}

func (c Config) AppendTimeout() time.Duration {
	return time.Duration(c.Events.AppendTimeoutMS) * time.Millisecond
}

func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutS)
}
