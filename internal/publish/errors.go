package publish

import (
	"errors"
	"os"

	"github.com/aws/smithy-go"
)

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue dead-letters the job instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// permanentCodes are remote error codes that mean the content or request was
// rejected rather than that the service was unavailable.
var permanentCodes = map[string]bool{
	"AccessDenied":                    true,
	"AccessDeniedException":           true,
	"ValidationException":             true,
	"InvalidRequest":                  true,
	"InvalidArgument":                 true,
	"EntityTooLarge":                  true,
	"NoSuchBucket":                    true,
	"ResourceNotFoundException":       true,
	"ConditionalCheckFailedException": true,
}

// IsPermanent reports whether err should dead-letter the job.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if permanentCodes[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultClient && !retryableClientCode(apiErr.ErrorCode())
	}
	return false
}

func retryableClientCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "SlowDown", "RequestTimeout",
		"RequestTimeoutException", "ProvisionedThroughputExceededException",
		"RequestLimitExceeded", "TooManyRequestsException", "ExpiredToken",
		"RequestExpired", "TransactionConflictException":
		return true
	}
	return false
}
