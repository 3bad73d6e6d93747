package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceFamily identifies which adapter speaks to an endpoint.
type SourceFamily string

const (
	SourceVirtualization SourceFamily = "virtualization"
	SourceACIFabric      SourceFamily = "aci-fabric"
	SourceNXOSFabric     SourceFamily = "nxos-fabric"
)

// ParseSourceFamily validates a source family string.
func ParseSourceFamily(raw string) (SourceFamily, error) {
	switch SourceFamily(strings.TrimSpace(strings.ToLower(raw))) {
	case SourceVirtualization:
		return SourceVirtualization, nil
	case SourceACIFabric:
		return SourceACIFabric, nil
	case SourceNXOSFabric:
		return SourceNXOSFabric, nil
	}
	return "", fmt.Errorf("unknown source family %q", raw)
}

// PollStatus is the outcome of the most recent poll cycle.
type PollStatus string

const (
	PollStatusNever PollStatus = "never"
	PollStatusOK    PollStatus = "ok"
	PollStatusError PollStatus = "error"
)

// Transport variants for fabric endpoints. Virtualization endpoints
// always use HTTPS and ignore this field.
const (
	TransportNXAPIHTTPS = "nxapi-https"
	TransportNXAPIHTTP  = "nxapi-http"
	TransportSSH        = "ssh"
)

// Endpoint is a registered external system the engine polls.
//
// The secret itself never lives here: SecretHandle references an
// encrypted row managed by the vault and is never serialized.
type Endpoint struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Address     string       `json:"address"`
	Port        int          `json:"port"`
	Family      SourceFamily `json:"source_family"`
	Username    string       `json:"username"`
	VerifyTLS   bool         `json:"verify_tls"`
	Transport   string       `json:"transport,omitempty"`

	PollIntervalSeconds int      `json:"poll_interval_seconds"`
	Tags                []string `json:"tags"`
	Enabled             bool     `json:"enabled"`

	SecretHandle   string `json:"-"`
	HasCredentials bool   `json:"has_credentials"`

	LastPolledAt     *time.Time `json:"last_polled_at"`
	LastPollStatus   PollStatus `json:"last_poll_status"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PollInterval returns the configured cadence as a duration.
func (e *Endpoint) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

// Validate checks the invariants a registry write must hold.
func (e *Endpoint) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("endpoint address is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	if _, err := ParseSourceFamily(string(e.Family)); err != nil {
		return err
	}
	if e.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll interval must not be negative")
	}
	if e.Family == SourceNXOSFabric {
		switch e.Transport {
		case "", TransportNXAPIHTTPS, TransportNXAPIHTTP, TransportSSH:
		default:
			return fmt.Errorf("unknown transport %q", e.Transport)
		}
	}
	return nil
}

// NormalizeTags trims whitespace and drops empty entries, preserving order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
