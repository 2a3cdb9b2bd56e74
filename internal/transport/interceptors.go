package transport

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/diodelink/diodelink/internal/casing"
)

// authenticatedUserHeader carries the username the gateway resolved for the
// request, on success and error responses alike.
const authenticatedUserHeader = "Authenticated-User"

// remoteUserHeader simulates the reverse proxy's authentication header in
// development setups.
const remoteUserHeader = "X-Remote-User"

// classifiedStatuses are surfaced with a status-specific notification before
// the error propagates. Everything else propagates silently: the caller is
// expected to present it inline.
var classifiedStatuses = map[int]bool{
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusInternalServerError: true,
	http.StatusServiceUnavailable:  true,
}

// normalizeQueryParams converts query parameter keys from the UI convention
// to the wire convention. The expand parameter's values name wire fields, so
// they are converted as well.
func normalizeQueryParams(params url.Values) url.Values {
	if params == nil {
		return nil
	}
	out := make(url.Values, len(params))
	for key, values := range params {
		wireKey := casing.ToSnake(key)
		if wireKey == "expand" {
			out[wireKey] = casing.ExpandToSnake(values)
			continue
		}
		out[wireKey] = values
	}
	return out
}

// injectRemoteUserHeader sets the development-only authentication header on
// login requests. In production the reverse proxy owns this header and the
// interceptor is disabled by leaving the configured user empty.
func injectRemoteUserHeader(req *http.Request, path, loginPath, devRemoteUser string) {
	if devRemoteUser == "" || path != loginPath {
		return
	}
	req.Header.Set(remoteUserHeader, devRemoteUser)
}

// extractAuthenticatedUser updates the shared identity state from a response
// header. An empty header value never clears existing state; explicit logout
// goes through the identity store's Reset.
func (c *Client) extractAuthenticatedUser(header http.Header) {
	if c.identity == nil {
		return
	}
	c.identity.Set(header.Get(authenticatedUserHeader))
}

// normalizeResponseBody converts the keys of a successful JSON response body
// from the wire convention to the UI convention. Non-JSON bodies pass through
// untouched.
func normalizeResponseBody(header http.Header, body []byte) ([]byte, error) {
	if len(body) == 0 || !isJSONContent(header) {
		return body, nil
	}
	return casing.JSONKeysToCamel(body)
}

func isJSONContent(header http.Header) bool {
	return strings.Contains(header.Get("Content-Type"), "application/json")
}

// hasBasicChallenge reports whether the response demands HTTP basic
// authentication. A 401 carrying this challenge is not recoverable by a
// session refresh.
func hasBasicChallenge(header http.Header) bool {
	return strings.Contains(header.Get("Www-Authenticate"), "Basic")
}
