package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/storage/memory"
	"github.com/spiralos/guardian/internal/storage/storagetest"
	"github.com/spiralos/guardian/internal/types"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return memory.New()
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	a := &types.Anomaly{
		NodeID:      "node-1",
		AnomalyType: types.AnomalyAcheSpike,
		Severity:    types.SeverityHigh,
		Details:     map[string]interface{}{"latest": 0.95},
		DetectedAt:  time.Now(),
	}
	require.NoError(t, s.InsertAnomaly(ctx, a))
	assert.Equal(t, types.AnomalyActive, a.Status, "status should default to ACTIVE")

	got, err := s.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	got.Details["latest"] = 0.1
	got.Status = types.AnomalyResolved

	again, err := s.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.95, again.Details["latest"])
	assert.Equal(t, types.AnomalyActive, again.Status)
}
