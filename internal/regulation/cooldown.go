package regulation

import (
	"context"
	"fmt"
	"time"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/types"
)

// CooldownGate enforces a minimum spacing between regulation attempts on a node.
// Spacing is measured from the node's most recent history entry, skipped attempts included.
type CooldownGate struct {
	history storage.HistoryStore
	now     func() time.Time
}

// NewCooldownGate creates a cooldown gate. A nil clock uses time.Now.
func NewCooldownGate(history storage.HistoryStore, now func() time.Time) *CooldownGate {
	if now == nil {
		now = time.Now
	}
	return &CooldownGate{history: history, now: now}
}

// Allow reports whether a correction may run now, plus the time left when it may not.
// A history read failure allows the correction (fail open).
func (g *CooldownGate) Allow(ctx context.Context, profile *types.CorrectionProfile) (bool, time.Duration) {
	latest, err := g.history.GetLatestHistory(ctx, profile.NodeID)
	if err != nil {
		fmt.Printf("Warning: cooldown check failed for node %s: %v (allowing correction)\n", profile.NodeID, err)
		return true, 0
	}
	if latest == nil {
		return true, 0
	}

	elapsed := g.now().Sub(latest.ExecutedAt)
	if elapsed >= profile.Cooldown() {
		return true, 0
	}
	return false, profile.Cooldown() - elapsed
}
