package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"
)

// ExpiryWarningDays is how close to expiry a certificate must be before
// ExpiryWarning reports it.
const ExpiryWarningDays = 30

// ValidateCertificate checks that the leaf of cert is valid at now.
func ValidateCertificate(cert *tls.Certificate, now time.Time) error {
	if cert == nil || len(cert.Certificate) == 0 {
		return fmt.Errorf("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// ExpiryWarning returns the whole days left before cert expires and a
// warning when fewer than ExpiryWarningDays remain.
func ExpiryWarning(cert *x509.Certificate, now time.Time) (days int, warning string) {
	days = int(cert.NotAfter.Sub(now).Hours() / 24)
	if days < ExpiryWarningDays {
		warning = fmt.Sprintf("certificate expires in %d days (on %s)", days, cert.NotAfter.Format("2006-01-02"))
	}
	return days, warning
}

// ClientIdentity returns the common name of the verified client
// certificate on r, or "" when the connection carries none.
func ClientIdentity(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return ""
	}
	return r.TLS.VerifiedChains[0][0].Subject.CommonName
}
