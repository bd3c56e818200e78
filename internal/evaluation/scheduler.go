package evaluation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/pkg/logger"
	"github.com/portfolio-assistant/backend/pkg/retry"
)

// Scheduler runs evaluations as detached background tasks so the caller
// never waits on scoring. Each task gets a bounded retry budget; exhausting
// it writes a terminal failure record.
type Scheduler struct {
	evaluator   *Evaluator
	retryConfig retry.Config
	taskTimeout time.Duration
	wg          sync.WaitGroup
}

func NewScheduler(evaluator *Evaluator, maxAttempts int, backoffBase time.Duration) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}

	return &Scheduler{
		evaluator: evaluator,
		retryConfig: retry.Config{
			MaxAttempts: maxAttempts,
			BaseDelay:   backoffBase,
			MaxDelay:    time.Minute,
			Logger:      logger.GetLogger(),
		},
		taskTimeout: 5 * time.Minute,
	}
}

// Schedule dispatches a background evaluation for a just-answered turn and
// returns immediately.
func (s *Scheduler) Schedule(turnID, question, answer, contextText string) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
		defer cancel()

		err := retry.Do(ctx, s.retryConfig, func() error {
			_, err := s.evaluator.Evaluate(ctx, turnID, question, answer, contextText)
			return err
		})

		if err != nil {
			logger.Error("Evaluation abandoned",
				zap.String("turn_id", turnID),
				zap.Error(err),
			)
			s.evaluator.RecordFailure(turnID, err)
		}
	}()
}

// Wait blocks until all in-flight evaluations finish. Used on shutdown and
// in tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
