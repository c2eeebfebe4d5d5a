package errors

import (
	stderrors "errors"

	"github.com/mughalz/investordefend/internal/platform/errors/i18n"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultLocale is the default locale for error messages.
const DefaultLocale = "en-US"

// HandleError converts domain errors to gRPC status for client responses.
// Errors without a domain code become Internal with a generic message.
func HandleError(err error, locale string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		catalog := i18n.GetCatalog(orDefaultLocale(locale))
		userMsg := catalog.Format(string(appErr.Code), appErr.Metadata)
		return appErr.ToGRPCStatus(catalog.Locale(), userMsg)
	}
	return status.Error(codes.Internal, "an unexpected error occurred")
}

// UserMessage renders the localized, user-facing message for err.
func UserMessage(err error, locale string) string {
	if err == nil {
		return ""
	}
	catalog := i18n.GetCatalog(orDefaultLocale(locale))
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return catalog.Format(string(appErr.Code), appErr.Metadata)
	}
	return catalog.Format(string(CodeUnknown), nil)
}

func orDefaultLocale(locale string) string {
	if locale == "" {
		return DefaultLocale
	}
	return locale
}
