package repository

import (
	"github.com/CafeIT25/pmo-agent/internal/email/domain"
)

// EmailRepository defines email data access. Emails are immutable after
// insert except for the analyzed/task-linked marks.
type EmailRepository interface {
	// Create inserts a fetched email
	Create(email *domain.Email) error

	// ExistsByProviderID reports whether a provider message was already
	// ingested (duplicate-ingestion guard)
	ExistsByProviderID(providerID string) (bool, error)

	// FindByID finds an email by ID, (nil, nil) when absent
	FindByID(id string) (*domain.Email, error)

	// FindUnanalyzedByUser returns stored emails not yet run through the
	// reconciliation pass, oldest first
	FindUnanalyzedByUser(userID string) ([]*domain.Email, error)

	// MarkAnalyzed flags emails as having completed analysis
	MarkAnalyzed(ids []string) error

	// MarkTaskLinked flags emails as associated with a task (implies analyzed)
	MarkTaskLinked(ids []string) error
}

// AccountRepository manages connected mail accounts.
type AccountRepository interface {
	Create(account *domain.MailAccount) error
	FindByID(id string) (*domain.MailAccount, error)
	FindByEmail(address string) (*domain.MailAccount, error)
	FindByUserID(userID string) ([]*domain.MailAccount, error)
	FindAllActive() ([]*domain.MailAccount, error)
	UpdateSyncToken(id, token string) error
	Update(account *domain.MailAccount) error
}

// SyncJobRepository records sync pass executions.
type SyncJobRepository interface {
	Create(job *domain.SyncJob) error
	Update(job *domain.SyncJob) error
	FindByID(id string) (*domain.SyncJob, error)
	FindByUserID(userID string, limit int) ([]*domain.SyncJob, error)
}

// ExcludeDomainRepository reads a user's suppressed sender domains.
type ExcludeDomainRepository interface {
	FindDomainsByUserID(userID string) ([]string, error)
}
