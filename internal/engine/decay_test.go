package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/lazypower/hypermem/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUrgencyMonotonicInAge(t *testing.T) {
	for _, rate := range []float64{0.001, 0.05, 0.5, 3} {
		p := DecayParams{Rate: rate, AccessBoost: 0.1, Ceiling: 10}
		for _, importance := range []float64{0.5, 1, 5, 10} {
			prev := math.Inf(1)
			for age := 0.0; age <= 365; age += 0.5 {
				u := p.Urgency(importance, age, 3)
				if u > prev {
					t.Fatalf("rate=%v importance=%v: urgency rose from %v to %v at age %v", rate, importance, prev, u, age)
				}
				prev = u
			}
		}
	}
}

func TestUrgencyClamped(t *testing.T) {
	p := DecayParams{Rate: 0.1, AccessBoost: 1, Ceiling: 10}
	assert.Equal(t, 10.0, p.Urgency(5, 0, 100))
	assert.Equal(t, 0.0, p.Urgency(-5, 0, 0))
	assert.Equal(t, 2.0, p.Urgency(2, -3, 0), "negative age treated as zero")
	assert.InDelta(t, 2*math.Exp(-1)+0.5, DecayParams{Rate: 0.1, AccessBoost: 0.25, Ceiling: 10}.Urgency(2, 10, 2), 1e-12)
}

func backdate(t *testing.T, e *Engine, id string, age time.Duration) {
	t.Helper()
	_, err := e.DB.Exec(`UPDATE hyperedges SET created_at = ? WHERE id = ?`, time.Now().Add(-age).UnixMilli(), id)
	require.NoError(t, err)
}

func TestRunMaintenance(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.cfg.DecayRate = 0.5
	e.cfg.AccessBoost = 0
	e.cfg.PruneMinUrgency = 0.05
	e.cfg.PruneMinAgeDays = 7

	ancient, err := e.CreateMemory(ctx, "g1", "manual", store.HyperedgeInput{Summary: "ancient trivia"})
	require.NoError(t, err)
	backdate(t, e, ancient, 30*24*time.Hour)

	young, err := e.CreateMemory(ctx, "g1", "manual", store.HyperedgeInput{Summary: "young but faint"})
	require.NoError(t, err)
	backdate(t, e, young, 6*24*time.Hour) // exp(-3) ~ 0.05, under threshold but in grace

	res, err := e.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Decayed)
	assert.Equal(t, 1, res.Pruned)
	assert.Equal(t, SweepIdle, e.SweepState())

	_, err = e.DB.GetHyperedge(ctx, ancient)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.DB.GetHyperedge(ctx, young)
	assert.NoError(t, err)
}

func TestRunMaintenanceSkipsWhileRunning(t *testing.T) {
	e := testEngine(t)
	e.sweep.Store(int32(SweepRunning))

	_, err := e.RunMaintenance(context.Background())
	assert.ErrorIs(t, err, ErrSweepRunning)
	assert.Equal(t, SweepRunning, e.SweepState(), "a skipped trigger leaves the running sweep alone")
}

func TestDecaySweepPerCommunity(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	a, err := e.CreateMemory(ctx, "g1", "manual", store.HyperedgeInput{Summary: "a"})
	require.NoError(t, err)
	b, err := e.CreateMemory(ctx, "g2", "manual", store.HyperedgeInput{Summary: "b"})
	require.NoError(t, err)
	backdate(t, e, a, 10*24*time.Hour)
	backdate(t, e, b, 10*24*time.Hour)

	n, err := e.DecaySweep(ctx, "g1", 0.1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	edge, err := e.DB.GetHyperedge(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1.0, edge.Urgency)
}

func TestPruneSweepGraceWindow(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, err := e.CreateMemory(ctx, "g1", "manual", store.HyperedgeInput{Summary: "faint"})
	require.NoError(t, err)
	setUrgency(t, e, id, 0.01)

	n, err := e.PruneSweep(ctx, "g1", 0.05, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	backdate(t, e, id, 36*time.Hour)
	n, err = e.PruneSweep(ctx, "g1", 0.05, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
