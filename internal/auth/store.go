// Package auth keeps per-domain credentials used when fetching pages.
package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Type names the credential variant of an Authentication.
type Type string

// Supported credential variants.
const (
	TypeBasic Type = "basic"
	TypeX509  Type = "x509"
)

// Authentication is a credential entry registered for a domain. It is
// implemented only by *Basic and *X509.
type Authentication interface {
	Type() Type
	DomainName() string
	sealed()
}

// Basic holds HTTP basic auth credentials.
type Basic struct {
	Domain   string
	Username string
	Password string
}

// Type returns TypeBasic.
func (*Basic) Type() Type { return TypeBasic }

// DomainName returns the domain the credentials belong to.
func (b *Basic) DomainName() string { return b.Domain }

func (*Basic) sealed() {}

// X509 holds a client certificate reference.
type X509 struct {
	Domain                string
	CertificatePath       string
	CertificatePassphrase string
}

// Type returns TypeX509.
func (*X509) Type() Type { return TypeX509 }

// DomainName returns the domain the certificate belongs to.
func (x *X509) DomainName() string { return x.Domain }

func (*X509) sealed() {}

// Store maps domain names to credentials. At most one entry exists per domain;
// the last registration wins. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Authentication
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Authentication)}
}

func key(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// HasAuthFor reports whether credentials are registered for domain.
func (s *Store) HasAuthFor(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key(domain)]
	return ok
}

// GetAuthFor returns the credentials registered for domain.
func (s *Store) GetAuthFor(domain string) (Authentication, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key(domain)]
	return entry, ok
}

// SetBasicAuth registers basic auth credentials for domain.
func (s *Store) SetBasicAuth(domain, username, password string) {
	s.set(&Basic{Domain: domain, Username: username, Password: password})
}

// SetX509Auth registers a client certificate for domain.
func (s *Store) SetX509Auth(domain, certificatePath, certificatePassphrase string) {
	s.set(&X509{
		Domain:                domain,
		CertificatePath:       certificatePath,
		CertificatePassphrase: certificatePassphrase,
	})
}

func (s *Store) set(entry Authentication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(entry.DomainName())] = entry
}

// Domains returns the registered domains in sorted order.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.DomainName())
	}
	sort.Strings(out)
	return out
}

// Entry is a credential definition read from configuration.
type Entry struct {
	Domain                string `mapstructure:"domain"`
	Type                  Type   `mapstructure:"type"`
	Username              string `mapstructure:"username"`
	Password              string `mapstructure:"password"`
	CertificatePath       string `mapstructure:"certificate_path"`
	CertificatePassphrase string `mapstructure:"certificate_passphrase"`
}

// Load registers every entry, in order.
func (s *Store) Load(entries []Entry) error {
	for i, e := range entries {
		if strings.TrimSpace(e.Domain) == "" {
			return fmt.Errorf("auth entry %d: domain is required", i)
		}
		switch e.Type {
		case TypeBasic, "":
			s.SetBasicAuth(e.Domain, e.Username, e.Password)
		case TypeX509:
			s.SetX509Auth(e.Domain, e.CertificatePath, e.CertificatePassphrase)
		default:
			return fmt.Errorf("auth entry %d (%s): unknown type %q", i, e.Domain, e.Type)
		}
	}
	return nil
}
