package pipeline

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/behavior"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// ResetTamper accepts the current camera view after an authorized
// adjustment. The tamper baseline and reference are rebuilt from the next
// frames and the status returns to NORMAL. It returns the status held
// before the reset.
func (p *Pipeline) ResetTamper(ctx context.Context) types.TamperStatus {
	prev := p.deps.Tamper.State().Status
	p.deps.Tamper.Reset()
	p.deps.Motion.Reset()

	p.logger.Printf("pipeline: tamper reset by operator (was %s)", prev)
	p.deps.Events.Record(ctx, store.SystemRecord(time.Now().UTC(), types.EventTamperReset, types.SeverityInfo,
		"tamper monitor reset for camera adjustment", map[string]string{"previous": string(prev)}))
	return prev
}

// ResetAlertCooldown clears the alert cooldown for zone, or for every zone
// when zone is empty.
func (p *Pipeline) ResetAlertCooldown(zone string) {
	p.deps.Alerts.ResetCooldown(zone)
	if zone == "" {
		zone = "*"
	}
	p.logger.Printf("pipeline: alert cooldown cleared for %s", zone)
}

// BehaviorBucket returns the learned statistics for zone in the slot that
// contains at.
func (p *Pipeline) BehaviorBucket(zone string, at time.Time) (behavior.Bucket, bool) {
	return p.deps.Learner.Bucket(zone, at)
}
