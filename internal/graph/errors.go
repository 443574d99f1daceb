package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind tags where in the call a Graph API failure originated.
type ErrorKind string

const (
	KindTransport    ErrorKind = "transport"     // network failure, timeout
	KindProvider     ErrorKind = "provider"      // provider answered with an error envelope or non-2xx
	KindDecode       ErrorKind = "decode"        // 2xx with a body we could not parse
	KindAuthExchange ErrorKind = "auth_exchange" // provider rejected a code or token exchange
)

const genericMessage = "The Instagram/Facebook API is unavailable right now. Please try again."

// Error is the single error shape returned by Client. Provider-specific
// payloads never leak past this type.
type Error struct {
	Err             error
	ProviderCode    *int
	ProviderSubcode *int
	HTTPStatus      *int
	Kind            ErrorKind
	Op              string
	Message         string
	Type            string
	TraceID         string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ProviderCode != nil {
		return fmt.Sprintf("graph %s: %s: %s (code %d)", e.Op, e.Kind, msg, *e.ProviderCode)
	}
	return fmt.Sprintf("graph %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// IsTokenInvalid reports whether the provider rejected the access token itself
// (expired, revoked, password changed, app removed).
func IsTokenInvalid(err error) bool {
	gerr, ok := AsError(err)
	if !ok || gerr.ProviderCode == nil {
		return false
	}
	switch *gerr.ProviderCode {
	case 190, 102:
		return true
	}
	return false
}

// IsAuthExchange reports whether err is a rejected code or token exchange.
func IsAuthExchange(err error) bool {
	gerr, ok := AsError(err)
	return ok && gerr.Kind == KindAuthExchange
}

// UserMessage returns a human-readable message for err, preferring the
// provider's own wording when one was supplied.
func UserMessage(err error) string {
	if gerr, ok := AsError(err); ok && gerr.Message != "" && gerr.Kind != KindTransport {
		return gerr.Message
	}
	return genericMessage
}

type errorEnvelope struct {
	Error *providerError `json:"error"`
}

type providerError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         *int   `json:"code"`
	ErrorSubcode *int   `json:"error_subcode"`
	FbtraceID    string `json:"fbtrace_id"`
}

// decodeProviderError builds an Error from a response body. When the body is
// not a Graph error envelope the message falls back to the HTTP status text.
func decodeProviderError(op string, kind ErrorKind, status int, body []byte) *Error {
	gerr := &Error{
		Kind:       kind,
		Op:         op,
		HTTPStatus: &status,
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		gerr.Message = env.Error.Message
		gerr.Type = env.Error.Type
		gerr.ProviderCode = env.Error.Code
		gerr.ProviderSubcode = env.Error.ErrorSubcode
		gerr.TraceID = env.Error.FbtraceID
		return gerr
	}

	gerr.Message = fmt.Sprintf("unexpected response (%d %s)", status, http.StatusText(status))
	return gerr
}
