// Package outbox defines the durable write-queue entry recorded for every
// mutation composed while the TimeTracker API is unreachable.
//
// An entry is a frozen HTTP request: the JSON payload, the target URL, the
// method, and the auth token captured at enqueue time. Entries keep their
// enqueue order and carry a retry count so the reconciler can give up after
// a fixed number of failed delivery attempts.
package outbox

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MaxAttempts is the total number of delivery attempts an entry gets before
// it is evicted from the queue.
const MaxAttempts = 3

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Entry is one queued mutation awaiting delivery.
type Entry struct {
	ID            string          `json:"id" yaml:"id"`
	Payload       json.RawMessage `json:"payload" yaml:"payload"`
	AuthToken     string          `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	TargetURL     string          `json:"target_url" yaml:"target_url"`
	Method        string          `json:"method" yaml:"method"`
	Timestamp     time.Time       `json:"timestamp" yaml:"timestamp"`
	RetryCount    int             `json:"retry_count" yaml:"retry_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
}

// New builds a queue entry for payload addressed to targetURL. The method
// defaults to POST; authToken may be empty for unauthenticated endpoints.
func New(payload []byte, authToken, targetURL string) (*Entry, error) {
	now := time.Now().UTC()
	e := &Entry{
		ID:        NewID(now),
		Payload:   json.RawMessage(payload),
		AuthToken: authToken,
		TargetURL: targetURL,
		Method:    http.MethodPost,
		Timestamp: now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewID generates a queue entry identifier: the millisecond timestamp plus
// a random base36 suffix. Lexicographic order within a millisecond is
// arbitrary; enqueue order is preserved by the timestamp column, not the ID.
func NewID(now time.Time) string {
	var buf [9]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Entropy source failure: fall back to the nanosecond clock.
		return fmt.Sprintf("%d-%09d", now.UnixMilli(), now.Nanosecond())
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), buf[:])
}

// Validate checks if the Entry has valid field values
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("entry payload is required")
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("entry payload is not valid JSON")
	}
	if e.TargetURL == "" {
		return fmt.Errorf("entry target url is required")
	}
	u, err := url.Parse(e.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid entry target url: %s", e.TargetURL)
	}
	switch e.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("invalid entry method: %s", e.Method)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("entry timestamp is required")
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("entry retry count cannot be negative")
	}
	return nil
}

// Exhausted reports whether the entry has used up its delivery attempts
func (e *Entry) Exhausted() bool {
	return e.RetryCount >= MaxAttempts
}
