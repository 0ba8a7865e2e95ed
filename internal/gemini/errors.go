package gemini

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/genai"
)

// Kind categorizes a Gemini API failure.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidKey
	KindQuota
	KindNetwork
	KindServer
	KindBadRequest
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "success"
	case KindInvalidKey:
		return "invalid_key"
	case KindQuota:
		return "quota"
	case KindNetwork:
		return "network_error"
	case KindServer:
		return "server_error"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// Retryable reports whether a call failing with this kind may succeed later.
func (k Kind) Retryable() bool {
	return k == KindQuota || k == KindNetwork || k == KindServer
}

// Classify inspects an error from the genai SDK.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyCode(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyCode(apiErrPtr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid"),
		strings.Contains(msg, "api_key_invalid"),
		strings.Contains(msg, "permission denied"):
		return KindInvalidKey
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "rate limit"):
		return KindQuota
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "timeout"):
		return KindNetwork
	}
	return KindUnknown
}

func classifyCode(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindInvalidKey
	case code == 429:
		return KindQuota
	case code == 400 || code == 404:
		return KindBadRequest
	case code >= 500:
		return KindServer
	}
	return KindUnknown
}
