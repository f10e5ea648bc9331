package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Credentials is the decrypted token payload stored on a mail account.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Service fetches mail through the Microsoft Graph delta API. The sync token
// is the deltaLink returned by the previous fetch; a rejected one degrades to
// a bounded full fetch.
type Service struct {
	clientID     string
	clientSecret string
	fetchLimit   int
	logger       *zap.Logger
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

type graphMessage struct {
	ID                         string `json:"id"`
	InternetMessageID          string `json:"internetMessageId"`
	Subject                    string `json:"subject"`
	BodyPreview                string `json:"bodyPreview"`
	ReceivedDateTime           string `json:"receivedDateTime"`
	InternetMessageHeadersList []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

type deltaResponse struct {
	Value     []graphMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

// FetchNewMessages returns messages changed since sinceToken (a deltaLink)
// plus the next deltaLink. An empty or expired token triggers a fresh delta
// round bounded by the fetch limit.
func (s *Service) FetchNewMessages(ctx context.Context, account *emaildomain.MailAccount, credentials, sinceToken string) (*emaildomain.FetchResult, error) {
	var creds Credentials
	if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderMicrosoft, Err: fmt.Errorf("decode credentials: %w", err)}
	}
	client := s.httpClient(ctx, creds)

	url := sinceToken
	if url == "" {
		url = s.initialDeltaURL()
	}

	result, err := s.fetchDelta(ctx, client, url)
	if err != nil && sinceToken != "" && isGoneDelta(err) {
		// Graph invalidates delta tokens after a retention window; restart
		// the delta series rather than failing the sync.
		s.logger.Warn("stale graph delta token, restarting delta series",
			zap.String("account_id", account.ID))
		result, err = s.fetchDelta(ctx, client, s.initialDeltaURL())
	}
	if err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderMicrosoft, Err: err}
	}
	return result, nil
}

func (s *Service) initialDeltaURL() string {
	return fmt.Sprintf("%s/me/mailFolders/inbox/messages/delta?$top=%d", graphBaseURL, s.fetchLimit)
}

func (s *Service) httpClient(ctx context.Context, creds Credentials) *http.Client {
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
		Endpoint:     microsoft.AzureADEndpoint("common"),
	}
	return oauth2.NewClient(ctx, cfg.TokenSource(ctx, token))
}

func (s *Service) fetchDelta(ctx context.Context, client *http.Client, url string) (*emaildomain.FetchResult, error) {
	var messages []emaildomain.RawMessage
	deltaLink := ""

	for url != "" {
		resp, err := s.getDeltaPage(ctx, client, url)
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Value {
			messages = append(messages, convertMessage(m))
		}
		if resp.DeltaLink != "" {
			deltaLink = resp.DeltaLink
			break
		}
		url = resp.NextLink
	}

	return &emaildomain.FetchResult{Messages: messages, NextToken: deltaLink}, nil
}

func (s *Service) getDeltaPage(ctx context.Context, client *http.Client, url string) (*deltaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read graph response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &graphError{Status: resp.StatusCode, Body: string(body)}
	}

	var page deltaResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode graph response: %w", err)
	}
	return &page, nil
}

type graphError struct {
	Status int
	Body   string
}

func (e *graphError) Error() string {
	return fmt.Sprintf("graph api status %d: %s", e.Status, e.Body)
}

func isGoneDelta(err error) bool {
	gErr, ok := err.(*graphError)
	return ok && (gErr.Status == http.StatusGone || gErr.Status == http.StatusBadRequest)
}

func convertMessage(m graphMessage) emaildomain.RawMessage {
	raw := emaildomain.RawMessage{
		ProviderID: m.ID,
		MessageID:  m.InternetMessageID,
		Sender:     m.From.EmailAddress.Address,
		Subject:    m.Subject,
		Body:       m.Body.Content,
		Snippet:    m.BodyPreview,
	}
	if m.From.EmailAddress.Name != "" {
		raw.Sender = fmt.Sprintf("%s <%s>", m.From.EmailAddress.Name, m.From.EmailAddress.Address)
	}
	for _, h := range m.InternetMessageHeadersList {
		switch h.Name {
		case "In-Reply-To":
			raw.InReplyTo = h.Value
		case "References":
			raw.References = h.Value
		}
	}
	if t, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
		raw.SentAt = t
	}
	return raw
}
