package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kkjha00007/resigate/pkg/observability"
	"github.com/kkjha00007/resigate/pkg/rbac"
)

// PromotionResult summarizes one sweep
type PromotionResult struct {
	Scanned  int `json:"scanned"`
	Promoted int `json:"promoted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Promoter sweeps legacy records and stores their implied association
type Promoter struct {
	service   *Service
	store     Store
	logger    *observability.Logger
	metrics   *observability.Metrics
	batchSize int
	timeout   time.Duration

	running sync.Mutex
}

// NewPromoter creates a promoter. batchSize bounds each ListLegacy call.
func NewPromoter(service *Service, logger *observability.Logger, metrics *observability.Metrics, batchSize int) *Promoter {
	if batchSize <= 0 {
		batchSize = DefaultListLimit
	}
	return &Promoter{
		service:   service,
		store:     service.store,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
		timeout:   10 * time.Minute,
	}
}

// RunOnce visits every legacy record once, in ID order. A record that fails
// is left for the next sweep.
func (p *Promoter) RunOnce(ctx context.Context) (PromotionResult, error) {
	var result PromotionResult
	cursor := ""

	for {
		batch, err := p.store.ListLegacy(ctx, cursor, p.batchSize)
		if err != nil {
			return result, fmt.Errorf("failed to list legacy users: %w", err)
		}

		for _, user := range batch {
			cursor = user.ID
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++

			_, promoted, err := p.service.PromoteLegacy(ctx, user.ID, rbac.MigrationGrantor)
			switch {
			case err != nil:
				result.Failed++
				p.metrics.RecordPromotion("failed")
				p.logger.WithError(err).WithField("user_id", user.ID).Warn("legacy promotion failed")
			case promoted:
				result.Promoted++
				p.metrics.RecordPromotion("promoted")
			default:
				result.Skipped++
				p.metrics.RecordPromotion("skipped")
			}
		}

		if len(batch) < p.batchSize {
			return result, nil
		}
	}
}

// Schedule registers the sweep on c. Overlapping runs are skipped.
func (p *Promoter) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, p.scheduledRun)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule legacy promotion: %w", err)
	}
	return id, nil
}

func (p *Promoter) scheduledRun() {
	defer observability.RecoverPanic(p.logger, "legacy promotion")

	if !p.running.TryLock() {
		p.logger.Warn("legacy promotion still running, skipping")
		return
	}
	defer p.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, p.logger)

	start := time.Now()
	result, err := p.RunOnce(ctx)
	logger := p.logger.WithFields(map[string]interface{}{
		"scanned":  result.Scanned,
		"promoted": result.Promoted,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		logger.WithError(err).Error("legacy promotion sweep failed")
		return
	}
	logger.Info("legacy promotion sweep finished")
}
