package gmail

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrReauthRequired means the stored grant is expired or revoked. The
	// user has to reconnect the account; retrying cannot help.
	ErrReauthRequired = errors.New("gmail: reauthentication required")
	// ErrRateLimited means the provider asked us to slow down.
	ErrRateLimited = errors.New("gmail: rate limited")
	// ErrHistoryExpired means the history id is older than the provider keeps.
	ErrHistoryExpired = errors.New("gmail: history id expired")
	// ErrNotFound means the message no longer exists.
	ErrNotFound = errors.New("gmail: not found")
)

// wrapError maps provider failures onto the typed errors callers branch on.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" ||
			(retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized) {
			return fmt.Errorf("%s: %w: %v", op, ErrReauthRequired, err)
		}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %v", op, ErrReauthRequired, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
		case http.StatusForbidden:
			if isRateLimitReason(apiErr) {
				return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
			}
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
