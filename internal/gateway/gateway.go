package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/pushbeam/pushbeam/internal/models"
)

// ErrorCode classifies a failed send attempt.
type ErrorCode string

const (
	// Permanent codes: the token is dead and must be deactivated.
	CodeTokenNotRegistered ErrorCode = "token-not-registered"
	CodeInvalidToken       ErrorCode = "invalid-token"

	// Transient codes: the device stays eligible for future dispatch.
	CodeUnavailable   ErrorCode = "unavailable"
	CodeInternal      ErrorCode = "internal"
	CodeQuotaExceeded ErrorCode = "quota-exceeded"
	CodeTimeout       ErrorCode = "timeout"
	CodeUnknown       ErrorCode = "unknown"
)

// Permanent reports whether the code denotes a permanently invalid token.
func (c ErrorCode) Permanent() bool {
	return c == CodeTokenNotRegistered || c == CodeInvalidToken
}

// SendError is the failure half of a send outcome.
type SendError struct {
	Code    ErrorCode
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// Permanent reports whether the underlying token should be deactivated.
func (e *SendError) Permanent() bool {
	return e != nil && e.Code.Permanent()
}

// Message is one push notification addressed to one device token. Payload
// values are already coerced to strings because gateways only accept
// string-typed custom data.
type Message struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	Priority models.Priority
	TTL      time.Duration
}

// Gateway sends one message to one device token. A send yields exactly one of
// success (gateway message id) or failure (*SendError).
type Gateway interface {
	Send(ctx context.Context, msg Message) (string, error)
}
