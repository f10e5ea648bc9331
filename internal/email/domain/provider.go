package domain

import (
	"context"
	"fmt"
	"time"
)

// RawMessage is a provider-agnostic fetched message before persistence.
type RawMessage struct {
	ProviderID string // provider-side message id, used for dedup
	MessageID  string
	InReplyTo  string
	References string
	Sender     string
	Subject    string
	Body       string
	Snippet    string
	SentAt     time.Time
}

// FetchResult is one page of new messages plus the cursor for the next
// incremental fetch.
type FetchResult struct {
	Messages  []RawMessage
	NextToken string
}

// MailProvider fetches new messages for an account. sinceToken is the opaque
// cursor from the previous fetch; implementations fall back to a bounded
// full fetch when the token has been invalidated by the provider.
type MailProvider interface {
	FetchNewMessages(ctx context.Context, account *MailAccount, credentials, sinceToken string) (*FetchResult, error)
}

// FetchError wraps provider failures. Recoverable: the job layer retries
// these with backoff.
type FetchError struct {
	Provider MailProviderType
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
