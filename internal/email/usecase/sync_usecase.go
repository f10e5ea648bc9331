package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CafeIT25/pmo-agent/internal/email/domain"
	"github.com/CafeIT25/pmo-agent/internal/email/repository"
	recusecase "github.com/CafeIT25/pmo-agent/internal/reconcile/usecase"
	"github.com/CafeIT25/pmo-agent/pkg/crypto"
)

// reconcileRunner is the downstream reconciliation pass triggered after new
// mail lands.
type reconcileRunner interface {
	Run(ctx context.Context, userID string) (*recusecase.PassResult, error)
}

// SyncUsecase pulls new mail from a connected account, persists it with
// derived thread keys and hands the user's inbox to the reconciler.
type SyncUsecase struct {
	accountRepo   repository.AccountRepository
	emailRepo     repository.EmailRepository
	syncJobRepo   repository.SyncJobRepository
	excludeRepo   repository.ExcludeDomainRepository
	providers     map[domain.MailProviderType]domain.MailProvider
	reconciler    reconcileRunner
	encryptionKey string
	logger        *zap.Logger
}

func NewSyncUsecase(
	accountRepo repository.AccountRepository,
	emailRepo repository.EmailRepository,
	syncJobRepo repository.SyncJobRepository,
	excludeRepo repository.ExcludeDomainRepository,
	providers map[domain.MailProviderType]domain.MailProvider,
	reconciler reconcileRunner,
	encryptionKey string,
	logger *zap.Logger,
) *SyncUsecase {
	return &SyncUsecase{
		accountRepo:   accountRepo,
		emailRepo:     emailRepo,
		syncJobRepo:   syncJobRepo,
		excludeRepo:   excludeRepo,
		providers:     providers,
		reconciler:    reconciler,
		encryptionKey: encryptionKey,
		logger:        logger,
	}
}

// SyncAccount runs one fetch+reconcile round for an account and records it
// as a SyncJob. The job row is written up front so a crash mid-sync leaves
// a visible processing record instead of silence.
func (u *SyncUsecase) SyncAccount(ctx context.Context, accountID string) (*domain.SyncJob, error) {
	account, err := u.accountRepo.FindByID(accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	if !account.IsActive {
		return nil, fmt.Errorf("account %s is inactive", accountID)
	}

	job := &domain.SyncJob{
		ID:        uuid.New().String(),
		AccountID: account.ID,
		UserID:    account.UserID,
		Status:    domain.SyncJobProcessing,
		StartedAt: time.Now(),
	}
	if err := u.syncJobRepo.Create(job); err != nil {
		return nil, fmt.Errorf("create sync job: %w", err)
	}

	if err := u.runSync(ctx, account, job); err != nil {
		u.failJob(job, err)
		return job, err
	}

	now := time.Now()
	job.Status = domain.SyncJobCompleted
	job.CompletedAt = &now
	if err := u.syncJobRepo.Update(job); err != nil {
		u.logger.Warn("failed to finalize sync job", zap.String("job_id", job.ID), zap.Error(err))
	}
	return job, nil
}

func (u *SyncUsecase) runSync(ctx context.Context, account *domain.MailAccount, job *domain.SyncJob) error {
	provider, ok := u.providers[account.Provider]
	if !ok {
		return fmt.Errorf("no provider registered for %s", account.Provider)
	}

	credentials, err := crypto.Decrypt(account.EncryptedTokens, u.encryptionKey)
	if err != nil {
		return fmt.Errorf("decrypt account credentials: %w", err)
	}

	fetched, err := provider.FetchNewMessages(ctx, account, credentials, account.SyncToken)
	if err != nil {
		return err
	}

	excluded, err := u.excludeRepo.FindDomainsByUserID(account.UserID)
	if err != nil {
		return fmt.Errorf("load excluded domains: %w", err)
	}

	stored, err := u.storeMessages(account, fetched.Messages, excluded)
	if err != nil {
		return err
	}
	job.ProcessedEmails = stored

	if fetched.NextToken != "" && fetched.NextToken != account.SyncToken {
		if err := u.accountRepo.UpdateSyncToken(account.ID, fetched.NextToken); err != nil {
			return fmt.Errorf("update sync token: %w", err)
		}
	}

	pass, err := u.reconciler.Run(ctx, account.UserID)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	job.ProcessedThreads = pass.Threads

	u.logger.Info("account synced",
		zap.String("account_id", account.ID),
		zap.Int("new_emails", stored),
		zap.Int("threads", pass.Threads),
		zap.Int("created", pass.Created),
		zap.Int("updated", pass.Updated))
	return nil
}

// storeMessages persists fetched messages, skipping ones already ingested.
// Emails from excluded sender domains are stored pre-marked analyzed so they
// never reach the LLM.
func (u *SyncUsecase) storeMessages(account *domain.MailAccount, messages []domain.RawMessage, excludedDomains []string) (int, error) {
	stored := 0
	for _, raw := range messages {
		exists, err := u.emailRepo.ExistsByProviderID(raw.ProviderID)
		if err != nil {
			return stored, fmt.Errorf("check duplicate: %w", err)
		}
		if exists {
			continue
		}

		email := &domain.Email{
			ID:         uuid.New().String(),
			AccountID:  account.ID,
			UserID:     account.UserID,
			ProviderID: raw.ProviderID,
			Sender:     raw.Sender,
			Subject:    raw.Subject,
			Body:       raw.Body,
			Snippet:    raw.Snippet,
			MessageID:  raw.MessageID,
			InReplyTo:  raw.InReplyTo,
			References: raw.References,
			SentAt:     raw.SentAt,
			CreatedAt:  time.Now(),
		}
		email.ThreadKey = domain.DeriveThreadKey(domain.Headers{
			MessageID:  raw.MessageID,
			InReplyTo:  raw.InReplyTo,
			References: raw.References,
			Subject:    raw.Subject,
		})
		if isExcludedSender(raw.Sender, excludedDomains) {
			email.Analyzed = true
		}

		if err := u.emailRepo.Create(email); err != nil {
			return stored, fmt.Errorf("store email: %w", err)
		}
		stored++
	}
	return stored, nil
}

func (u *SyncUsecase) failJob(job *domain.SyncJob, cause error) {
	now := time.Now()
	job.Status = domain.SyncJobFailed
	job.Error = cause.Error()
	job.CompletedAt = &now
	if err := u.syncJobRepo.Update(job); err != nil {
		u.logger.Warn("failed to record sync job failure", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ConnectAccount encrypts provider credentials and registers the account.
func (u *SyncUsecase) ConnectAccount(userID string, providerType domain.MailProviderType, address, credentials string) (*domain.MailAccount, error) {
	if _, ok := u.providers[providerType]; !ok {
		return nil, fmt.Errorf("unsupported provider %s", providerType)
	}

	encrypted, err := crypto.Encrypt(credentials, u.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	account := &domain.MailAccount{
		ID:              uuid.New().String(),
		UserID:          userID,
		Provider:        providerType,
		Email:           address,
		EncryptedTokens: encrypted,
		IsActive:        true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := u.accountRepo.Create(account); err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns a user's active accounts.
func (u *SyncUsecase) ListAccounts(userID string) ([]*domain.MailAccount, error) {
	return u.accountRepo.FindByUserID(userID)
}

// ListSyncJobs returns a user's recent sync runs, newest first.
func (u *SyncUsecase) ListSyncJobs(userID string, limit int) ([]*domain.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	return u.syncJobRepo.FindByUserID(userID, limit)
}

// Account loads an account by id, (nil, nil) when absent.
func (u *SyncUsecase) Account(id string) (*domain.MailAccount, error) {
	return u.accountRepo.FindByID(id)
}

// AccountByEmail resolves a mailbox address to its account. Gmail push
// notifications identify the mailbox by address only.
func (u *SyncUsecase) AccountByEmail(address string) (*domain.MailAccount, error) {
	return u.accountRepo.FindByEmail(address)
}

func isExcludedSender(sender string, domains []string) bool {
	addr := sender
	if i := strings.LastIndex(sender, "<"); i >= 0 {
		addr = strings.Trim(sender[i:], "<>")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return false
	}
	senderDomain := strings.ToLower(strings.TrimSpace(addr[at+1:]))
	for _, d := range domains {
		if senderDomain == strings.ToLower(d) {
			return true
		}
	}
	return false
}
