package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
)

// Credentials is the decrypted token payload stored on a mail account.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenUpdateFunc persists a refreshed token.
type TokenUpdateFunc func(token *oauth2.Token) error

// Service fetches mail through the Gmail API. The sync token is the Gmail
// history id; a stale one degrades to a bounded full fetch instead of
// failing the sync.
type Service struct {
	clientID     string
	clientSecret string
	fetchLimit   int
	logger       *zap.Logger

	onTokenRefresh TokenUpdateFunc
}

func NewService(clientID, clientSecret string, fetchLimit int, logger *zap.Logger) *Service {
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		fetchLimit:   fetchLimit,
		logger:       logger,
	}
}

// SetTokenUpdateFunc wires the refreshed-token persistence callback.
func (s *Service) SetTokenUpdateFunc(fn TokenUpdateFunc) {
	s.onTokenRefresh = fn
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
	logger   *zap.Logger
}

func (n *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := n.src.Token()
	if err != nil {
		return nil, err
	}
	if n.callback != nil && n.current.AccessToken != t.AccessToken {
		n.current = t
		if err := n.callback(t); err != nil {
			n.logger.Warn("failed to persist refreshed token", zap.Error(err))
		}
	}
	return t, nil
}

func (s *Service) gmailService(ctx context.Context, creds Credentials) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if creds.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	cfg := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrapped := &notifyTokenSource{
		src:      cfg.TokenSource(ctx, token),
		current:  token,
		callback: s.onTokenRefresh,
		logger:   s.logger,
	}

	client := oauth2.NewClient(ctx, wrapped)
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return srv, nil
}

// FetchNewMessages returns messages added since sinceToken (a history id)
// plus the cursor for the next fetch. An empty or invalidated token triggers
// the bounded full fetch.
func (s *Service) FetchNewMessages(ctx context.Context, account *emaildomain.MailAccount, credentials, sinceToken string) (*emaildomain.FetchResult, error) {
	var creds Credentials
	if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderGoogle, Err: fmt.Errorf("decode credentials: %w", err)}
	}

	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderGoogle, Err: err}
	}

	if sinceToken != "" {
		result, err := s.fetchHistory(srv, sinceToken)
		if err == nil {
			return result, nil
		}
		if !isStaleHistoryToken(err) {
			return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderGoogle, Err: err}
		}
		// Gmail expires history ids after about a week of inactivity.
		s.logger.Warn("stale gmail history token, falling back to full fetch",
			zap.String("account_id", account.ID))
	}

	result, err := s.fetchRecent(srv)
	if err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderGoogle, Err: err}
	}
	return result, nil
}

func (s *Service) fetchHistory(srv *gmail.Service, sinceToken string) (*emaildomain.FetchResult, error) {
	startID, err := strconv.ParseUint(sinceToken, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad history token %q: %w", sinceToken, err)
	}

	var messageIDs []string
	lastHistoryID := startID
	pageToken := ""
	for {
		call := srv.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			LabelId("INBOX")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, h := range resp.History {
			if h.Id > lastHistoryID {
				lastHistoryID = h.Id
			}
			for _, added := range h.MessagesAdded {
				messageIDs = append(messageIDs, added.Message.Id)
			}
		}
		if resp.HistoryId > lastHistoryID {
			lastHistoryID = resp.HistoryId
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	messages, err := s.fetchFull(srv, messageIDs)
	if err != nil {
		return nil, err
	}
	return &emaildomain.FetchResult{
		Messages:  messages,
		NextToken: strconv.FormatUint(lastHistoryID, 10),
	}, nil
}

func (s *Service) fetchRecent(srv *gmail.Service) (*emaildomain.FetchResult, error) {
	resp, err := srv.Users.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(int64(s.fetchLimit)).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	messages, err := s.fetchFull(srv, ids)
	if err != nil {
		return nil, err
	}

	profile, err := srv.Users.GetProfile("me").Do()
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &emaildomain.FetchResult{
		Messages:  messages,
		NextToken: strconv.FormatUint(profile.HistoryId, 10),
	}, nil
}

// fetchFull hydrates message ids in parallel, capped at 10 in flight.
func (s *Service) fetchFull(srv *gmail.Service, ids []string) ([]emaildomain.RawMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	type fetchResult struct {
		msg emaildomain.RawMessage
		ok  bool
	}

	results := make(chan fetchResult, len(ids))
	semaphore := make(chan struct{}, 10)

	for _, id := range ids {
		go func(msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			full, err := srv.Users.Messages.Get("me", msgID).Format("full").Do()
			if err != nil {
				s.logger.Warn("failed to fetch message", zap.String("message_id", msgID), zap.Error(err))
				results <- fetchResult{}
				return
			}
			results <- fetchResult{msg: convertMessage(full), ok: true}
		}(id)
	}

	messages := make([]emaildomain.RawMessage, 0, len(ids))
	for range ids {
		r := <-results
		if r.ok {
			messages = append(messages, r.msg)
		}
	}
	return messages, nil
}

// Watch registers the INBOX for Pub/Sub push notifications.
func (s *Service) Watch(ctx context.Context, credentials, topicName string) error {
	var creds Credentials
	if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return err
	}

	// Only one push client is allowed per user; clear any previous watch.
	_ = srv.Users.Stop("me").Do()

	resp, err := srv.Users.Watch("me", &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Do()
	if err != nil {
		return fmt.Errorf("watch mailbox: %w", err)
	}
	s.logger.Info("gmail watch registered",
		zap.Uint64("history_id", resp.HistoryId),
		zap.Int64("expiration", resp.Expiration))
	return nil
}

// Stop cancels push notifications for the mailbox.
func (s *Service) Stop(ctx context.Context, credentials string) error {
	var creds Credentials
	if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	srv, err := s.gmailService(ctx, creds)
	if err != nil {
		return err
	}
	if err := srv.Users.Stop("me").Do(); err != nil {
		return fmt.Errorf("stop mailbox watch: %w", err)
	}
	return nil
}

func isStaleHistoryToken(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404 || apiErr.Code == 400
	}
	return false
}

func convertMessage(msg *gmail.Message) emaildomain.RawMessage {
	headers := msg.Payload.Headers
	return emaildomain.RawMessage{
		ProviderID: msg.Id,
		MessageID:  getHeader(headers, "Message-ID"),
		InReplyTo:  getHeader(headers, "In-Reply-To"),
		References: getHeader(headers, "References"),
		Sender:     getHeader(headers, "From"),
		Subject:    getHeader(headers, "Subject"),
		Body:       getBody(msg.Payload),
		Snippet:    msg.Snippet,
		SentAt:     time.Unix(msg.InternalDate/1000, 0),
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// getBody prefers text/plain over text/html; the analyzer works on plain
// text and the html variant doubles the token cost for nothing.
func getBody(payload *gmail.MessagePart) string {
	if payload.Body != nil && payload.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(data)
		}
	}

	var plainBody, htmlBody string
	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/plain":
						if plainBody == "" {
							plainBody = string(data)
						}
					case "text/html":
						if htmlBody == "" {
							htmlBody = string(data)
						}
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)

	if plainBody != "" {
		return plainBody
	}
	return htmlBody
}
