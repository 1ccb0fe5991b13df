package token

import (
	"errors"

	"golang.org/x/oauth2"
)

// ProviderErrorDescription extracts the most useful message from a token endpoint failure,
// preferring error_description over the error code and raw status.
func ProviderErrorDescription(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case retrieveErr.ErrorDescription != "":
			return retrieveErr.ErrorDescription
		case retrieveErr.ErrorCode != "":
			return retrieveErr.ErrorCode
		case retrieveErr.Response != nil:
			return retrieveErr.Response.Status
		}
	}
	return err.Error()
}
