package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/CafeIT25/pmo-agent/internal/email/domain"
)

// GmailNotification is the payload Gmail publishes to the watch topic.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// AccountResolver maps a mailbox address to its connected account.
type AccountResolver interface {
	AccountByEmail(address string) (*domain.MailAccount, error)
}

// SyncEnqueuer schedules a sync run for an account.
type SyncEnqueuer interface {
	Enqueue(payload string) (string, error)
}

// Service listens on the Gmail push topic and turns mailbox notifications
// into queued sync jobs. Push is a hint, not a delivery channel: the actual
// mail fetch always goes through the provider, so a dropped message only
// delays a sync until the next trigger.
type Service struct {
	pubsubClient *pubsub.Client
	accounts     AccountResolver
	queue        SyncEnqueuer
	logger       *zap.Logger
	topicName    string
	subName      string

	// Dedup: Gmail re-delivers aggressively around bursts of mail.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(projectID, topicName, subName, credentialsFile string, accounts AccountResolver, queue SyncEnqueuer, logger *zap.Logger) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	if subName == "" {
		subName = topicName + "-sub"
	}
	return &Service{
		pubsubClient:  client,
		accounts:      accounts,
		queue:         queue,
		logger:        logger,
		topicName:     topicName,
		subName:       subName,
		lastHistoryID: make(map[string]uint64),
	}, nil
}

// Start subscribes and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("check topic: %w", err)
		}
		if !topicExists {
			return fmt.Errorf("pubsub topic %s does not exist", s.topicName)
		}
		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		s.logger.Info("created pubsub subscription", zap.String("subscription", s.subName))
	}

	s.logger.Info("listening for gmail push notifications",
		zap.String("topic", s.topicName),
		zap.String("subscription", s.subName))

	return sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
		s.handleMessage(msg)
		msg.Ack()
	})
}

func (s *Service) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		s.logger.Warn("malformed gmail notification", zap.Error(err))
		return
	}

	account, err := s.accounts.AccountByEmail(notification.EmailAddress)
	if err != nil {
		s.logger.Error("failed to resolve account for notification",
			zap.String("email", notification.EmailAddress),
			zap.Error(err))
		return
	}
	if account == nil {
		s.logger.Debug("notification for unconnected mailbox",
			zap.String("email", notification.EmailAddress))
		return
	}

	if s.isDuplicate(account.ID, notification.HistoryID) {
		return
	}

	jobID, err := s.queue.Enqueue(account.ID)
	if err != nil {
		s.logger.Warn("failed to enqueue sync for notification",
			zap.String("account_id", account.ID),
			zap.Error(err))
		return
	}
	s.logger.Info("queued sync from gmail push",
		zap.String("account_id", account.ID),
		zap.String("job_id", jobID),
		zap.Uint64("history_id", notification.HistoryID))
}

func (s *Service) isDuplicate(accountID string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[accountID]; ok && historyID <= last {
		return true
	}
	s.lastHistoryID[accountID] = historyID
	return false
}

// Close releases the pubsub client.
func (s *Service) Close() error {
	return s.pubsubClient.Close()
}
