package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"monay-hq/authz/pkg/config"
)

type testCert struct {
	cert     *x509.Certificate
	key      *ecdsa.PrivateKey
	certFile string
	keyFile  string
}

var serial int64

// issue creates a certificate signed by parent, or self-signed when parent
// is nil, and writes it to dir as <name>.pem and <name>-key.pem.
func issue(t *testing.T, dir, name string, tmpl *x509.Certificate, parent *testCert) *testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	serial++
	tmpl.SerialNumber = big.NewInt(serial)
	if tmpl.Subject.CommonName == "" {
		tmpl.Subject = pkix.Name{CommonName: name}
	}
	if tmpl.NotBefore.IsZero() {
		tmpl.NotBefore = time.Now().Add(-time.Hour)
	}
	if tmpl.NotAfter.IsZero() {
		tmpl.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey failed: %v", err)
	}

	tc := &testCert{
		cert:     cert,
		key:      key,
		certFile: filepath.Join(dir, name+".pem"),
		keyFile:  filepath.Join(dir, name+"-key.pem"),
	}
	writePEM(t, tc.certFile, "CERTIFICATE", der)
	writePEM(t, tc.keyFile, "EC PRIVATE KEY", keyDER)
	return tc
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func newCA(t *testing.T, dir string) *testCert {
	return issue(t, dir, "ca", &x509.Certificate{
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}, nil)
}

func newServerCert(t *testing.T, dir, name string, ca *testCert) *testCert {
	return issue(t, dir, name, &x509.Certificate{
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
	}, ca)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServerConfig(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t, dir)
	server := newServerCert(t, dir, "server", ca)

	tests := []struct {
		name       string
		cfg        config.TLSConfig
		wantErr    bool
		minVersion uint16
		clientAuth tls.ClientAuthType
	}{
		{
			name:       "server only",
			cfg:        config.TLSConfig{CertFile: server.certFile, KeyFile: server.keyFile},
			minVersion: tls.VersionTLS13,
			clientAuth: tls.NoClientCert,
		},
		{
			name: "mutual tls",
			cfg: config.TLSConfig{CertFile: server.certFile, KeyFile: server.keyFile,
				MinVersion: "1.2", ClientAuth: "require", ClientCAFile: ca.certFile},
			minVersion: tls.VersionTLS12,
			clientAuth: tls.RequireAndVerifyClientCert,
		},
		{
			name:    "require without ca",
			cfg:     config.TLSConfig{CertFile: server.certFile, KeyFile: server.keyFile, ClientAuth: "require"},
			wantErr: true,
		},
		{
			name:    "unknown version",
			cfg:     config.TLSConfig{CertFile: server.certFile, KeyFile: server.keyFile, MinVersion: "1.0"},
			wantErr: true,
		},
		{
			name:    "unknown client auth",
			cfg:     config.TLSConfig{CertFile: server.certFile, KeyFile: server.keyFile, ClientAuth: "always"},
			wantErr: true,
		},
		{
			name:    "missing key",
			cfg:     config.TLSConfig{CertFile: server.certFile},
			wantErr: true,
		},
		{
			name:    "ca file is not pem",
			cfg:     config.TLSConfig{CertFile: server.certFile, KeyFile: server.keyFile, ClientAuth: "require", ClientCAFile: server.keyFile},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlsConfig, reloader, err := NewServerConfig(tt.cfg, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewServerConfig failed: %v", err)
			}
			if tlsConfig.MinVersion != tt.minVersion {
				t.Errorf("Expected min version %x, got %x", tt.minVersion, tlsConfig.MinVersion)
			}
			if tlsConfig.ClientAuth != tt.clientAuth {
				t.Errorf("Expected client auth %v, got %v", tt.clientAuth, tlsConfig.ClientAuth)
			}
			cert, err := tlsConfig.GetCertificate(&tls.ClientHelloInfo{})
			if err != nil || cert != reloader.GetCertificate() {
				t.Errorf("Expected reloader certificate, got %v (%v)", cert, err)
			}
		})
	}
}

func TestNewServerConfig_ExpiredCertificate(t *testing.T) {
	dir := t.TempDir()
	expired := issue(t, dir, "expired", &x509.Certificate{
		NotBefore: time.Now().Add(-48 * time.Hour),
		NotAfter:  time.Now().Add(-24 * time.Hour),
	}, nil)

	_, _, err := NewServerConfig(config.TLSConfig{CertFile: expired.certFile, KeyFile: expired.keyFile}, discardLogger())
	if err == nil {
		t.Fatal("Expected error for expired certificate")
	}
}

func TestCertificateReloader_Check(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t, dir)
	first := newServerCert(t, dir, "server", ca)

	r := NewCertificateReloader(first.certFile, first.keyFile, 0, discardLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if r.check() {
		t.Error("Expected no reload for unchanged files")
	}

	// Renew in place; bump the mtime so the change is visible on coarse
	// filesystem clocks.
	second := newServerCert(t, t.TempDir(), "server", ca)
	copyFile(t, second.certFile, first.certFile)
	copyFile(t, second.keyFile, first.keyFile)
	future := time.Now().Add(time.Minute)
	touch(t, first.certFile, future)
	touch(t, first.keyFile, future)

	if !r.check() {
		t.Fatal("Expected renewed certificate to be loaded")
	}
	if got := leafSerial(t, r.GetCertificate()); got.Cmp(second.cert.SerialNumber) != 0 {
		t.Errorf("Expected serial %v, got %v", second.cert.SerialNumber, got)
	}

	// A broken write keeps the current certificate.
	if err := os.WriteFile(first.certFile, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	touch(t, first.certFile, future.Add(time.Minute))
	if r.check() {
		t.Error("Expected broken certificate to be rejected")
	}
	if got := leafSerial(t, r.GetCertificate()); got.Cmp(second.cert.SerialNumber) != 0 {
		t.Errorf("Expected previous certificate to be kept, got serial %v", got)
	}
}

func copyFile(t *testing.T, from, to string) {
	t.Helper()
	data, err := os.ReadFile(from)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(to, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
}

func leafSerial(t *testing.T, cert *tls.Certificate) *big.Int {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate failed: %v", err)
	}
	return leaf.SerialNumber
}

func TestExpiryWarning(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		notAfter time.Time
		days     int
		warn     bool
	}{
		{"far", now.Add(90 * 24 * time.Hour), 90, false},
		{"soon", now.Add(10*24*time.Hour + time.Hour), 10, true},
		{"boundary", now.Add(30 * 24 * time.Hour), 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, warning := ExpiryWarning(&x509.Certificate{NotAfter: tt.notAfter}, now)
			if days != tt.days {
				t.Errorf("Expected %d days, got %d", tt.days, days)
			}
			if (warning != "") != tt.warn {
				t.Errorf("Expected warning=%v, got %q", tt.warn, warning)
			}
		})
	}
}

func TestMutualTLS_ClientIdentity(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t, dir)
	server := newServerCert(t, dir, "server", ca)
	client := issue(t, dir, "payments-api", &x509.Certificate{
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, ca)

	tlsConfig, _, err := NewServerConfig(config.TLSConfig{
		CertFile:     server.certFile,
		KeyFile:      server.keyFile,
		ClientAuth:   "verify_if_given",
		ClientCAFile: ca.certFile,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewServerConfig failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, ClientIdentity(r))
		}),
		TLSConfig: tlsConfig,
	}
	go srv.ServeTLS(ln, "", "")
	defer srv.Close()

	roots := x509.NewCertPool()
	roots.AddCert(ca.cert)
	clientPair, err := tls.LoadX509KeyPair(client.certFile, client.keyFile)
	if err != nil {
		t.Fatalf("LoadX509KeyPair failed: %v", err)
	}

	tests := []struct {
		name  string
		certs []tls.Certificate
		want  string
	}{
		{"with client certificate", []tls.Certificate{clientPair}, "payments-api"},
		{"without client certificate", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpClient := &http.Client{Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: roots, Certificates: tt.certs},
			}}
			resp, err := httpClient.Get("https://" + ln.Addr().String())
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("Expected identity %q, got %q", tt.want, body)
			}
		})
	}
}

func TestClientIdentity_PlainHTTP(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "http://localhost/", nil)
	if got := ClientIdentity(r); got != "" {
		t.Errorf("Expected empty identity, got %q", got)
	}
}
