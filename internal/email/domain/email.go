package domain

import "time"

// MailProviderType identifies which backend an account syncs from.
type MailProviderType string

const (
	ProviderGoogle    MailProviderType = "google"
	ProviderMicrosoft MailProviderType = "microsoft"
	ProviderIMAP      MailProviderType = "imap"
)

// MailAccount is a connected mailbox. Credentials are encrypted at rest;
// SyncToken is the opaque provider-specific incremental cursor.
type MailAccount struct {
	ID              string           `json:"id" gorm:"primaryKey"`
	UserID          string           `json:"user_id" gorm:"index;not null"`
	Provider        MailProviderType `json:"provider" gorm:"not null"`
	Email           string           `json:"email" gorm:"not null"`
	EncryptedTokens string           `json:"-"`
	SyncToken       string           `json:"-"`
	IsActive        bool             `json:"is_active" gorm:"default:true"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Email is one fetched message. Immutable once stored except for the
// Analyzed/TaskLinked marks set by the reconciliation pass.
type Email struct {
	ID         string `json:"id" gorm:"primaryKey"`
	AccountID  string `json:"account_id" gorm:"index;not null"`
	UserID     string `json:"user_id" gorm:"index;not null"`
	ProviderID string `json:"provider_id" gorm:"uniqueIndex;not null"` // provider-side message id
	ThreadKey  string `json:"thread_key" gorm:"index"`

	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Snippet string `json:"snippet"`

	// Reply-chain headers kept verbatim so the thread key can be recomputed.
	MessageID  string `json:"message_id" gorm:"index"`
	InReplyTo  string `json:"in_reply_to"`
	References string `json:"references"`

	SentAt     time.Time `json:"sent_at"`
	Analyzed   bool      `json:"analyzed" gorm:"default:false"`
	TaskLinked bool      `json:"task_linked" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsReply reports whether this message is part of an existing chain.
func (e *Email) IsReply() bool {
	return e.InReplyTo != ""
}

// SyncJobStatus tracks one sync pass through the job queue.
type SyncJobStatus string

const (
	SyncJobPending    SyncJobStatus = "pending"
	SyncJobProcessing SyncJobStatus = "processing"
	SyncJobCompleted  SyncJobStatus = "completed"
	SyncJobFailed     SyncJobStatus = "failed"
)

// SyncJob records one execution of the sync+reconcile pipeline for an account.
type SyncJob struct {
	ID               string        `json:"id" gorm:"primaryKey"`
	AccountID        string        `json:"account_id" gorm:"index;not null"`
	UserID           string        `json:"user_id" gorm:"index;not null"`
	Status           SyncJobStatus `json:"status" gorm:"default:pending"`
	ProcessedEmails  int           `json:"processed_email_count"`
	ProcessedThreads int           `json:"processed_thread_count"`
	Error            string        `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// ExcludeDomain suppresses AI analysis for senders from a domain the user
// opted out of (newsletters, automated notifications). Emails are still
// stored, just never sent to the analyzer.
type ExcludeDomain struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Domain    string    `json:"domain" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}
