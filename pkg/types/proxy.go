package types

import (
	"fmt"
	"time"
)

// ProxyType is the proxy protocol.
type ProxyType string

const (
	ProxyNone   ProxyType = "none"
	ProxyHTTP   ProxyType = "http"
	ProxyHTTPS  ProxyType = "https"
	ProxySOCKS5 ProxyType = "socks5"
)

// ProxyConfig is the per-profile upstream proxy. The plaintext password is
// never marshaled; the repository encrypts it into EncPassword through the
// vault before anything reaches disk.
type ProxyConfig struct {
	Enabled  bool      `json:"enabled"`
	Type     ProxyType `json:"proxy_type"`
	Host     string    `json:"host,omitempty"`
	Port     int       `json:"port,omitempty"`
	Username string    `json:"username,omitempty"`

	// Password is the decrypted credential, held transiently in memory.
	Password string `json:"-"`

	// EncPassword is the vault ciphertext, base64 encoded. Only this form
	// is ever persisted.
	EncPassword string `json:"password_enc,omitempty"`

	// Best-effort geolocation metadata filled in outside the core.
	CountryCode string `json:"country_code,omitempty"`
	CountryName string `json:"country_name,omitempty"`
	City        string `json:"city,omitempty"`
	Timezone    string `json:"timezone,omitempty"`

	PingMS   int        `json:"ping_ms,omitempty"`
	LastPing *time.Time `json:"last_ping,omitempty"`
}

// Active reports whether the proxy should be applied at launch.
func (p ProxyConfig) Active() bool {
	return p.Enabled && p.Type != ProxyNone && p.Type != "" && p.Host != ""
}

// Server renders the scheme://host:port part without credentials, the form
// automation engines take alongside separate username/password fields.
func (p ProxyConfig) Server() string {
	return fmt.Sprintf("%s://%s:%d", p.Type, p.Host, p.Port)
}

// URL renders the full proxy URL including credentials, or "" when inactive.
func (p ProxyConfig) URL() string {
	if !p.Active() {
		return ""
	}
	auth := ""
	if p.Username != "" {
		auth = p.Username + ":" + p.Password + "@"
	}
	return fmt.Sprintf("%s://%s%s:%d", p.Type, auth, p.Host, p.Port)
}

// DisplayString is the short form shown in profile tables.
func (p ProxyConfig) DisplayString() string {
	if !p.Active() {
		return "No proxy"
	}
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
