package imap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	emaildomain "github.com/CafeIT25/pmo-agent/internal/email/domain"
)

// Credentials is the decrypted connection payload stored on a mail account.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service fetches mail over IMAP. The sync token is "uidvalidity:lastuid";
// when the server resets UIDVALIDITY the token is useless and the fetch
// degrades to the bounded recent window.
type Service struct {
	fetchLimit int
	logger     *zap.Logger
}

func NewService(fetchLimit int, logger *zap.Logger) *Service {
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	return &Service{fetchLimit: fetchLimit, logger: logger}
}

// FetchNewMessages returns INBOX messages with UID above the token's cursor.
func (s *Service) FetchNewMessages(ctx context.Context, account *emaildomain.MailAccount, credentials, sinceToken string) (*emaildomain.FetchResult, error) {
	var creds Credentials
	if err := json.Unmarshal([]byte(credentials), &creds); err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderIMAP, Err: fmt.Errorf("decode credentials: %w", err)}
	}

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", creds.Host, creds.Port), nil)
	if err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderIMAP, Err: fmt.Errorf("dial: %w", err)}
	}
	defer c.Logout()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderIMAP, Err: fmt.Errorf("login: %w", err)}
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderIMAP, Err: fmt.Errorf("select inbox: %w", err)}
	}

	fromUID := uint32(0)
	if validity, lastUID, ok := parseToken(sinceToken); ok {
		if validity == mbox.UidValidity {
			fromUID = lastUID
		} else {
			s.logger.Warn("imap uidvalidity changed, falling back to full fetch",
				zap.String("account_id", account.ID))
		}
	}

	messages, lastUID, err := s.fetchSince(c, mbox, fromUID)
	if err != nil {
		return nil, &emaildomain.FetchError{Provider: emaildomain.ProviderIMAP, Err: err}
	}

	return &emaildomain.FetchResult{
		Messages:  messages,
		NextToken: fmt.Sprintf("%d:%d", mbox.UidValidity, lastUID),
	}, nil
}

func (s *Service) fetchSince(c *client.Client, mbox *imap.MailboxStatus, fromUID uint32) ([]emaildomain.RawMessage, uint32, error) {
	if mbox.Messages == 0 {
		return nil, fromUID, nil
	}

	seqset := new(imap.SeqSet)
	if fromUID > 0 {
		seqset.AddRange(fromUID+1, mbox.UidNext)
	} else {
		// No cursor: take the most recent window by sequence number.
		from := uint32(1)
		if mbox.Messages > uint32(s.fetchLimit) {
			from = mbox.Messages - uint32(s.fetchLimit) + 1
		}
		seqset.AddRange(from, mbox.Messages)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}

	msgChan := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	if fromUID > 0 {
		go func() { done <- c.UidFetch(seqset, items, msgChan) }()
	} else {
		go func() { done <- c.Fetch(seqset, items, msgChan) }()
	}

	var messages []emaildomain.RawMessage
	lastUID := fromUID
	for msg := range msgChan {
		if msg.Uid > lastUID {
			lastUID = msg.Uid
		}
		raw, err := s.convertMessage(msg, section)
		if err != nil {
			s.logger.Warn("failed to parse imap message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		messages = append(messages, raw)
	}
	if err := <-done; err != nil {
		return nil, lastUID, fmt.Errorf("fetch messages: %w", err)
	}
	return messages, lastUID, nil
}

func (s *Service) convertMessage(msg *imap.Message, section *imap.BodySectionName) (emaildomain.RawMessage, error) {
	raw := emaildomain.RawMessage{
		ProviderID: strconv.FormatUint(uint64(msg.Uid), 10),
	}

	if env := msg.Envelope; env != nil {
		raw.Subject = env.Subject
		raw.MessageID = env.MessageId
		raw.InReplyTo = env.InReplyTo
		raw.SentAt = env.Date
		if len(env.From) > 0 {
			raw.Sender = env.From[0].Address()
			if env.From[0].PersonalName != "" {
				raw.Sender = fmt.Sprintf("%s <%s>", env.From[0].PersonalName, env.From[0].Address())
			}
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return raw, nil
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		return raw, err
	}
	if refs, err := mr.Header.Text("References"); err == nil {
		raw.References = refs
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if raw.Body == "" {
				raw.Body = string(content)
			}
		}
	}

	raw.Snippet = buildSnippet(raw.Body)
	return raw, nil
}

func buildSnippet(body string) string {
	snippet := strings.Join(strings.Fields(body), " ")
	if runes := []rune(snippet); len(runes) > 200 {
		snippet = string(runes[:200])
	}
	return snippet
}

func parseToken(token string) (validity, lastUID uint32, ok bool) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	v, err1 := strconv.ParseUint(parts[0], 10, 32)
	u, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(v), uint32(u), true
}
