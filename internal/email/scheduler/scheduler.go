package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/CafeIT25/pmo-agent/internal/email/domain"
)

// SyncEnqueuer schedules a sync run for an account.
type SyncEnqueuer interface {
	Enqueue(payload string) (string, error)
}

// accountLister is the slice of the account repository the scheduler needs.
type accountLister interface {
	FindAllActive() ([]*domain.MailAccount, error)
}

// SyncScheduler periodically enqueues a sync for every active account.
// Push notifications cover Gmail only; Outlook and IMAP accounts rely on
// this poll, and it also backstops dropped push messages.
type SyncScheduler struct {
	accountRepo accountLister
	queue       SyncEnqueuer
	logger      *zap.Logger
	interval    time.Duration
	stopChan    chan struct{}
}

func NewSyncScheduler(accountRepo accountLister, queue SyncEnqueuer, logger *zap.Logger, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SyncScheduler{
		accountRepo: accountRepo,
		queue:       queue,
		logger:      logger,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *SyncScheduler) Start() {
	s.logger.Info("starting sync scheduler", zap.Duration("interval", s.interval))

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.enqueueAll()
			case <-s.stopChan:
				s.logger.Info("sync scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
}

func (s *SyncScheduler) enqueueAll() {
	accounts, err := s.accountRepo.FindAllActive()
	if err != nil {
		s.logger.Error("failed to list accounts for scheduled sync", zap.Error(err))
		return
	}

	for _, account := range accounts {
		if _, err := s.queue.Enqueue(account.ID); err != nil {
			// A full queue means syncs are already backed up; the next
			// tick will pick this account up again.
			s.logger.Warn("could not enqueue scheduled sync",
				zap.String("account_id", account.ID),
				zap.Error(err))
		}
	}
	s.logger.Debug("scheduled sync round enqueued", zap.Int("accounts", len(accounts)))
}
