// Package apperror maps internal errors to a closed set of kinds, each one
// with a fixed message that is safe to show to users. The raw error is never
// part of the user facing message.
package apperror

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
)

// Kind is the category of an error.
type Kind string

const (
	KindAuthentication Kind = "auth_error"
	KindAuthorization  Kind = "authorization_error"
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found_error"
	KindServer         Kind = "server_error"
	KindDatabase       Kind = "database_error"
	KindAPI            Kind = "api_error"
	KindNetwork        Kind = "network_error"
	KindRateLimit      Kind = "rate_limit_error"
)

var friendlyMessages = map[Kind]string{
	KindAuthentication: "Authentication failed. Please sign in again.",
	KindAuthorization:  "You don't have permission to perform this action.",
	KindValidation:     "The provided information is invalid.",
	KindNotFound:       "The requested resource was not found.",
	KindServer:         "Something went wrong on our end. Please try again later.",
	KindDatabase:       "Unable to access the database. Please try again later.",
	KindAPI:            "Error connecting to the service. Please try again.",
	KindNetwork:        "Network connection issue. Please check your internet connection.",
	KindRateLimit:      "Too many requests. Please try again later.",
}

// Message returns the fixed user facing message of the kind.
func (k Kind) Message() string {
	msg, ok := friendlyMessages[k]
	if !ok {
		return friendlyMessages[KindServer]
	}
	return msg
}

// Status returns the HTTP status code that represents the kind.
func (k Kind) Status() int {
	switch k {
	case KindAuthentication:
		return 401
	case KindAuthorization:
		return 403
	case KindValidation, KindDatabase:
		return 400
	case KindNotFound:
		return 404
	case KindRateLimit:
		return 429
	case KindNetwork, KindAPI:
		return 503
	}
	return 500
}

// Classify returns the kind of the error.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrNotValid):
		return KindValidation
	case errors.Is(err, model.ErrUnauthenticated):
		return KindAuthentication
	case errors.Is(err, model.ErrForbidden):
		return KindAuthorization
	case errors.Is(err, model.ErrNotFound):
		return KindNotFound
	case errors.Is(err, model.ErrRateLimited):
		return KindRateLimit
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		// Data exception and integrity constraint violation classes.
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return KindDatabase
		// Raised exceptions from auth guarded functions.
		case strings.HasPrefix(pgErr.Code, "P0001"):
			return KindAuthentication
		case strings.HasPrefix(pgErr.Code, "42501"):
			return KindAuthorization
		}
		return KindDatabase
	}

	if isNetworkError(err) {
		return KindNetwork
	}

	return KindServer
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Friendly returns the user facing message for the error.
func Friendly(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err).Message()
}

// Handle logs the raw error with its context and returns the classified kind, the
// caller should only expose the kind message to users.
func Handle(logger log.Logger, where string, err error) Kind {
	kind := Classify(err)
	if logger == nil {
		logger = log.Noop
	}
	logger.WithValues(log.Kv{"kind": string(kind)}).Errorf("error in %s: %s", where, err)
	return kind
}
