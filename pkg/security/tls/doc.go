// Package tls builds the server's *tls.Config from configuration.
//
// The serving certificate is read through a CertificateReloader, so a
// renewed certificate written over the old files is picked up without a
// restart. When client authentication is enabled, ClientIdentity reports
// the common name of the verified client certificate; the API server uses
// it to identify callers for rate limiting.
package tls
