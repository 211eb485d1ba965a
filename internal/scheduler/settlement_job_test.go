package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-rewards/internal/models"
	"tournament-rewards/internal/service"
	"tournament-rewards/pkg/errors"
)

type fakeSettler struct {
	pending  []models.Tournament
	listErr  error
	outcomes map[uint64]error
	partial  map[uint64]bool
	settled  []uint64
}

func (f *fakeSettler) PendingTournaments(context.Context, int) ([]models.Tournament, error) {
	return f.pending, f.listErr
}

func (f *fakeSettler) Settle(_ context.Context, id uint64) (*service.SettlementSummary, error) {
	f.settled = append(f.settled, id)
	if err := f.outcomes[id]; err != nil {
		return nil, err
	}
	return &service.SettlementSummary{TournamentID: id, Settled: !f.partial[id]}, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	settler := &fakeSettler{
		pending: []models.Tournament{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}, {ID: 6}},
		outcomes: map[uint64]error{
			2: errors.New(errors.ErrInsufficientCustodialFunds, "empty wallet", nil),
			5: errors.New(errors.ErrLedgerWrite, "disk full", nil),
			6: assert.AnError,
		},
		partial: map[uint64]bool{3: true},
	}

	result := NewSettlementScheduler(settler, "@every 1m").Sweep(context.Background())

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, settler.settled)
	assert.Equal(t, SweepResult{Settled: 2, Incomplete: 1, Aborted: 1, Failed: 2}, result)
}

func TestSweepListFailure(t *testing.T) {
	settler := &fakeSettler{listErr: assert.AnError}
	result := NewSettlementScheduler(settler, "@every 1m").Sweep(context.Background())
	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, settler.settled)
}

func TestSweepStopsWhenCancelled(t *testing.T) {
	settler := &fakeSettler{pending: []models.Tournament{{ID: 1}, {ID: 2}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewSettlementScheduler(settler, "@every 1m").Sweep(ctx)
	assert.Empty(t, settler.settled)
}

func TestStartRejectsBadExpression(t *testing.T) {
	s := NewSettlementScheduler(&fakeSettler{}, "not a cron")
	require.Error(t, s.Start())

	s = NewSettlementScheduler(&fakeSettler{}, "0 */5 * * * *")
	require.NoError(t, s.Start())
	s.Stop()
}
