package openeo

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BackendError is the openEO error document returned with non-2xx responses.
type BackendError struct {
	Status  int    `json:"-"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BackendError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("openeo status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("openeo status %d: %s: %s", e.Status, e.Code, e.Message)
}

var authCodes = map[string]bool{
	"AuthenticationRequired":      true,
	"AuthenticationSchemeInvalid": true,
	"TokenInvalid":                true,
	"CredentialsInvalid":          true,
	"PermissionsInsufficient":     true,
}

func (e *BackendError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || authCodes[e.Code]
}

// IsNoData reports an empty result set. Some backends only carry the code
// inside the message of a generic internal error.
func (e *BackendError) IsNoData() bool {
	return e.Code == "NoDataAvailable" || strings.Contains(e.Message, "NoDataAvailable")
}

func readBackendError(resp *http.Response) *BackendError {
	be := &BackendError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err := json.Unmarshal(b, be); err != nil || (be.Code == "" && be.Message == "") {
		be.Code = ""
		be.Message = strings.TrimSpace(string(b))
		if be.Message == "" {
			be.Message = http.StatusText(resp.StatusCode)
		}
	}
	be.Status = resp.StatusCode
	return be
}
