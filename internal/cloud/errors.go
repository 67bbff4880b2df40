package cloud

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// ErrCertificateVerify is returned when the TLS peer could not be verified against the local trust store.
// It is never retried.
var ErrCertificateVerify = errors.New("certificate verify failed")

// StatusError is a 4xx/5xx response. Body holds the raw response payload.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// AsStatusError unwraps a *StatusError from err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func isCertificateError(err error) bool {
	var unknown x509.UnknownAuthorityError
	if errors.As(err, &unknown) {
		return true
	}
	var verify *tls.CertificateVerificationError
	if errors.As(err, &verify) {
		return true
	}
	return strings.Contains(err.Error(), "certificate verify failed")
}
