package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken marks a page token that is empty, undecodable, or whose
// signature does not verify. The API maps it to 403: tokens are
// capability-bearing, not resource ids.
var ErrInvalidToken = errors.New("invalid page token")

// pageCursor is the state a continuation token carries. Tokens are opaque
// to clients: base64(json(cursor)) + "." + base64(hmac).
type pageCursor struct {
	Filter   Filter    `json:"filter"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
	Total    int       `json:"total"`
	IssuedAt time.Time `json:"issued_at"`
}

func encodePageToken(key []byte, cursor pageCursor) (string, error) {
	payload, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.URLEncoding.EncodeToString(payload) + "." +
		base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func decodePageToken(key []byte, token string) (pageCursor, error) {
	var cursor pageCursor
	payloadPart, sigPart, ok := strings.Cut(token, ".")
	if !ok || payloadPart == "" || sigPart == "" {
		return cursor, ErrInvalidToken
	}
	payload, err := base64.URLEncoding.DecodeString(payloadPart)
	if err != nil {
		return cursor, ErrInvalidToken
	}
	sig, err := base64.URLEncoding.DecodeString(sigPart)
	if err != nil {
		return cursor, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return cursor, ErrInvalidToken
	}
	if err := json.Unmarshal(payload, &cursor); err != nil {
		return cursor, ErrInvalidToken
	}
	if cursor.Limit < 1 || cursor.Offset < 0 {
		return cursor, ErrInvalidToken
	}
	return cursor, nil
}
