package domain

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Headers is the subset of RFC 5322 headers the thread key is derived from.
// Any field may be empty for malformed or provider-mangled messages.
type Headers struct {
	MessageID  string
	InReplyTo  string
	References string
	Subject    string
}

// DeriveThreadKey maps a message's headers to a stable conversation key.
// All emails of one human conversation collapse to the same key regardless
// of arrival order:
//
//  1. In-Reply-To: the parent Message-ID identifies the thread.
//  2. References: the first token is the chain's original message.
//  3. Own Message-ID: this message starts a new thread.
//  4. No headers at all: hash of the normalized subject. Two unrelated
//     emails with the same cleaned subject collide here; that is an accepted
//     approximation so header-less mail can still thread, not a bug.
func DeriveThreadKey(h Headers) string {
	if h.InReplyTo != "" {
		return stripAngleBrackets(h.InReplyTo)
	}

	if h.References != "" {
		if refs := strings.Fields(h.References); len(refs) > 0 {
			return stripAngleBrackets(refs[0])
		}
	}

	if h.MessageID != "" {
		return stripAngleBrackets(h.MessageID)
	}

	sum := md5.Sum([]byte(NormalizeSubject(h.Subject)))
	return hex.EncodeToString(sum[:])
}

// NormalizeSubject strips leading Re:/Fwd:/FW: prefixes (case-insensitive,
// repeated) and trims whitespace. Idempotent.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := false
		for _, prefix := range []string{"re:", "fwd:", "fw:"} {
			if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

func stripAngleBrackets(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

// Thread is an ephemeral grouping of emails sharing one thread key. It is
// derived at reconciliation time and never persisted.
type Thread struct {
	Key    string
	Emails []*Email // sorted by SentAt ascending
}

// Subject returns the normalized subject of the thread's first email.
func (t *Thread) Subject() string {
	if len(t.Emails) == 0 {
		return ""
	}
	return NormalizeSubject(t.Emails[0].Subject)
}

// PrimaryEmail is the thread's originating message: the earliest non-reply,
// or the most recent email when every message is a reply.
func (t *Thread) PrimaryEmail() *Email {
	for _, e := range t.Emails {
		if !e.IsReply() {
			return e
		}
	}
	if len(t.Emails) == 0 {
		return nil
	}
	return t.Emails[len(t.Emails)-1]
}

// ContainsEmailID reports whether the thread holds an email with the given id.
func (t *Thread) ContainsEmailID(id string) bool {
	for _, e := range t.Emails {
		if e.ID == id {
			return true
		}
	}
	return false
}

// GroupByThread buckets emails by thread key, sorting each thread by send
// time. Output order follows first appearance so a pass is deterministic.
func GroupByThread(emails []*Email) []*Thread {
	byKey := make(map[string]*Thread)
	var order []string

	for _, e := range emails {
		key := e.ThreadKey
		if key == "" {
			key = DeriveThreadKey(Headers{
				MessageID:  e.MessageID,
				InReplyTo:  e.InReplyTo,
				References: e.References,
				Subject:    e.Subject,
			})
		}

		t, ok := byKey[key]
		if !ok {
			t = &Thread{Key: key}
			byKey[key] = t
			order = append(order, key)
		}
		t.Emails = append(t.Emails, e)
	}

	threads := make([]*Thread, 0, len(order))
	for _, key := range order {
		t := byKey[key]
		sort.SliceStable(t.Emails, func(i, j int) bool {
			return t.Emails[i].SentAt.Before(t.Emails[j].SentAt)
		})
		threads = append(threads, t)
	}
	return threads
}
