package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"tournament-rewards/internal/models"
	"tournament-rewards/internal/service"
	"tournament-rewards/pkg/errors"
	"tournament-rewards/pkg/logger"
)

// sweepBatch caps how many tournaments one sweep settles.
const sweepBatch = 20

// Settler is the part of the settlement service the sweep drives.
type Settler interface {
	PendingTournaments(ctx context.Context, limit int) ([]models.Tournament, error)
	Settle(ctx context.Context, tournamentID uint64) (*service.SettlementSummary, error)
}

// SweepResult counts the outcome of one sweep. Aborted runs stopped before
// touching the chain; Failed runs may have left work for the next sweep.
type SweepResult struct {
	Settled    int
	Incomplete int
	Aborted    int
	Failed     int
}

type SettlementScheduler struct {
	cron     *cron.Cron
	settler  Settler
	cronExpr string
}

func NewSettlementScheduler(settler Settler, cronExpr string) *SettlementScheduler {
	return &SettlementScheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger))),
		settler:  settler,
		cronExpr: cronExpr,
	}
}

func (s *SettlementScheduler) Start() error {
	_, err := s.cron.AddFunc(s.cronExpr, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	logger.WithFields(map[string]interface{}{
		"cron": s.cronExpr,
	}).Info("Auto-settlement scheduler started")
	return nil
}

func (s *SettlementScheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Auto-settlement scheduler stopped")
}

// Sweep settles every completed tournament still awaiting rewards. A failure
// on one tournament is logged and the sweep moves on.
func (s *SettlementScheduler) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	tournaments, err := s.settler.PendingTournaments(ctx, sweepBatch)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Failed to list tournaments awaiting settlement")
		return result
	}
	if len(tournaments) == 0 {
		return result
	}

	logger.WithFields(map[string]interface{}{
		"tournaments": len(tournaments),
	}).Info("Starting settlement sweep")

	for _, t := range tournaments {
		if ctx.Err() != nil {
			break
		}

		summary, err := s.settler.Settle(ctx, t.ID)
		if err != nil {
			entry := logger.WithTournament(t.ID).WithFields(map[string]interface{}{
				"code":  errors.CodeOf(err),
				"error": err.Error(),
			})
			if errors.IsFatal(err) {
				result.Aborted++
				entry.Warn("Auto-settlement aborted")
			} else {
				result.Failed++
				entry.Error("Auto-settlement failed")
			}
			continue
		}
		if summary.Settled {
			result.Settled++
		} else {
			result.Incomplete++
		}
	}

	logger.WithFields(map[string]interface{}{
		"settled":    result.Settled,
		"incomplete": result.Incomplete,
		"aborted":    result.Aborted,
		"failed":     result.Failed,
	}).Info("Settlement sweep completed")
	return result
}
