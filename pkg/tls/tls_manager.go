package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/antibyte/raamcode/pkg/configuration"
	"github.com/antibyte/raamcode/pkg/logger"

	"golang.org/x/crypto/acme/autocert"
)

var (
	ErrMissingDomain = errors.New("domain is required when Let's Encrypt is enabled")
	ErrMissingEmail  = errors.New("letsencrypt_email is required when Let's Encrypt is enabled")
	ErrMissingCert   = errors.New("certificate or key file not found")
)

// Settings beschreibt die [TLS]-Sektion
type Settings struct {
	EnableTLS          bool
	EnableLetsEncrypt  bool
	Domain             string
	LetsEncryptEmail   string
	CertCacheDir       string
	ForceHTTPSRedirect bool
	CertFile           string
	KeyFile            string
	HTTPPort           string
	HTTPSPort          string
}

// SettingsFromConfig liest die Einstellungen aus der globalen Konfiguration.
// Der HTTP-Port kommt aus [Server], damit Klartext- und TLS-Betrieb denselben nutzen.
func SettingsFromConfig() Settings {
	return Settings{
		EnableTLS:          configuration.GetBool("TLS", "enable_tls", false),
		EnableLetsEncrypt:  configuration.GetBool("TLS", "enable_letsencrypt", false),
		Domain:             configuration.GetString("TLS", "domain", ""),
		LetsEncryptEmail:   configuration.GetString("TLS", "letsencrypt_email", ""),
		CertCacheDir:       configuration.GetString("TLS", "cert_cache_dir", "./certs"),
		ForceHTTPSRedirect: configuration.GetBool("TLS", "force_https_redirect", false),
		CertFile:           configuration.GetString("TLS", "cert_file", "./certs/server.crt"),
		KeyFile:            configuration.GetString("TLS", "key_file", "./certs/server.key"),
		HTTPPort:           configuration.GetString("Server", "http_port", "8080"),
		HTTPSPort:          configuration.GetString("TLS", "https_port", "8443"),
	}
}

// TLSManager verwaltet Zertifikate (Let's Encrypt oder manuell)
type TLSManager struct {
	settings    Settings
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
}

// NewTLSManager creates a manager from the global configuration
func NewTLSManager() (*TLSManager, error) {
	return NewTLSManagerWithSettings(SettingsFromConfig())
}

// NewTLSManagerWithSettings validates s and prepares certificates when TLS is enabled.
func NewTLSManagerWithSettings(s Settings) (*TLSManager, error) {
	tm := &TLSManager{settings: s}
	if !s.EnableTLS {
		return tm, nil
	}
	if err := tm.validate(); err != nil {
		return nil, fmt.Errorf("TLS configuration: %w", err)
	}

	var err error
	if s.EnableLetsEncrypt {
		err = tm.initLetsEncrypt()
	} else {
		err = tm.initManual()
	}
	if err != nil {
		return nil, fmt.Errorf("TLS initialization: %w", err)
	}
	return tm, nil
}

func (tm *TLSManager) validate() error {
	s := tm.settings
	if s.EnableLetsEncrypt {
		if strings.TrimSpace(s.Domain) == "" {
			return ErrMissingDomain
		}
		if strings.TrimSpace(s.LetsEncryptEmail) == "" {
			return ErrMissingEmail
		}
		if strings.Contains(s.Domain, "example.com") {
			logger.SecurityWarn("Using example domain - change this in production!")
		}
		return nil
	}
	for _, f := range []string{s.CertFile, s.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingCert, f)
		}
	}
	return nil
}

func (tm *TLSManager) allowedHost(name string) bool {
	return name == tm.settings.Domain || name == "www."+tm.settings.Domain
}

func (tm *TLSManager) initLetsEncrypt() error {
	logger.SecurityInfo("Initializing Let's Encrypt for domain: %s", tm.settings.Domain)

	if err := os.MkdirAll(tm.settings.CertCacheDir, 0700); err != nil {
		return fmt.Errorf("creating certificate cache: %w", err)
	}

	tm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(tm.settings.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      tm.settings.LetsEncryptEmail,
		HostPolicy: autocert.HostWhitelist(tm.settings.Domain, "www."+tm.settings.Domain),
	}

	tm.tlsConfig = &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				// ohne SNI gilt die konfigurierte Domain
				name = tm.settings.Domain
				hello.ServerName = name
			}
			if !tm.allowedHost(name) {
				logger.SecurityWarn("TLS request for unauthorized domain: %s", name)
				return nil, fmt.Errorf("unauthorized domain: %s", name)
			}
			cert, err := tm.autocertMgr.GetCertificate(hello)
			if err != nil {
				logger.SecurityWarn("Failed to get certificate for %s: %v", name, err)
				return nil, err
			}
			logger.SecurityDebug("Provided certificate for: %s", name)
			return cert, nil
		},
		NextProtos: []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion: tls.VersionTLS12,
	}
	return nil
}

func (tm *TLSManager) initManual() error {
	cert, err := tls.LoadX509KeyPair(tm.settings.CertFile, tm.settings.KeyFile)
	if err != nil {
		return fmt.Errorf("loading key pair: %w", err)
	}
	tm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	logger.SecurityInfo("Manual TLS with cert: %s", tm.settings.CertFile)
	return nil
}

// TLSConfig returns the server TLS configuration, nil when TLS is disabled
func (tm *TLSManager) TLSConfig() *tls.Config {
	if !tm.settings.EnableTLS {
		return nil
	}
	return tm.tlsConfig
}

// NeedsHTTPServer reports whether a plain HTTP listener is needed next to HTTPS
func (tm *TLSManager) NeedsHTTPServer() bool {
	return tm.settings.EnableTLS && (tm.settings.EnableLetsEncrypt || tm.settings.ForceHTTPSRedirect)
}

// HTTPHandler answers ACME challenges and redirects the rest when a redirect is configured.
// It returns nil when no plain HTTP listener is needed.
func (tm *TLSManager) HTTPHandler() http.Handler {
	if !tm.NeedsHTTPServer() {
		return nil
	}
	var fallback http.Handler = http.NotFoundHandler()
	if tm.settings.ForceHTTPSRedirect {
		fallback = tm.redirectHandler()
	}
	if tm.autocertMgr != nil {
		return tm.autocertMgr.HTTPHandler(fallback)
	}
	return fallback
}

func (tm *TLSManager) redirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if tm.settings.HTTPSPort != "443" {
			target += ":" + tm.settings.HTTPSPort
		}
		target += r.URL.RequestURI()
		logger.SecurityDebug("Redirecting %s -> %s", r.URL.Path, target)
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

// IsEnabled returns true if TLS is enabled
func (tm *TLSManager) IsEnabled() bool { return tm.settings.EnableTLS }

// HTTPPort returns the plain HTTP port
func (tm *TLSManager) HTTPPort() string { return tm.settings.HTTPPort }

// HTTPSPort returns the HTTPS port
func (tm *TLSManager) HTTPSPort() string { return tm.settings.HTTPSPort }
