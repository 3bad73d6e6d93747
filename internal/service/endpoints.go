package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"infrapulse/internal/adapter"
	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
	"infrapulse/internal/vault"
)

// ErrInvalid wraps every input validation failure so handlers can map
// them to 422 without inspecting messages.
var ErrInvalid = errors.New("invalid input")

const (
	defaultPort         = 443
	defaultPollInterval = 300
)

// EndpointInput is the write shape for registering or patching an
// endpoint. Pointer fields distinguish "absent" from "zero" on patch.
type EndpointInput struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Address     *string  `json:"address"`
	Port        *int     `json:"port"`
	Family      *string  `json:"source_family"`
	Username    *string  `json:"username"`
	Password    *string  `json:"password"`
	VerifyTLS   *bool    `json:"verify_tls"`
	Transport   *string  `json:"transport"`
	PollSeconds *int     `json:"poll_interval_seconds"`
	Tags        []string `json:"tags"`
	Enabled     *bool    `json:"enabled"`
}

// Endpoints manages the registry and the credential lifecycle behind
// it. It is the only component besides the scheduler holding a vault
// reference; handlers never see plaintext or ciphertext.
type Endpoints struct {
	repo     repository.Repository
	vault    *vault.Vault
	adapters *adapter.Registry
	log      zerolog.Logger

	now func() time.Time
}

// NewEndpoints builds the endpoint service.
func NewEndpoints(repo repository.Repository, v *vault.Vault, adapters *adapter.Registry, log zerolog.Logger) *Endpoints {
	return &Endpoints{
		repo:     repo,
		vault:    v,
		adapters: adapters,
		log:      log.With().Str("component", "endpoints").Logger(),
		now:      time.Now,
	}
}

// Create registers a new endpoint, sealing its password into the vault
// when one is supplied.
func (s *Endpoints) Create(ctx context.Context, in EndpointInput) (*domain.Endpoint, error) {
	now := s.now().UTC()
	ep := &domain.Endpoint{
		ID:                  uuid.NewString(),
		Port:                defaultPort,
		PollIntervalSeconds: defaultPollInterval,
		Enabled:             true,
		VerifyTLS:           true,
		LastPollStatus:      domain.PollStatusNever,
		Tags:                []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := applyInput(ep, in); err != nil {
		return nil, err
	}
	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if in.Password != nil && *in.Password != "" {
		handle, err := s.vault.Store(ctx, *in.Password)
		if err != nil {
			return nil, fmt.Errorf("storing credentials: %w", err)
		}
		ep.SecretHandle = handle
		ep.HasCredentials = true
	}

	if err := s.repo.CreateEndpoint(ctx, ep); err != nil {
		if ep.SecretHandle != "" {
			if derr := s.vault.Delete(ctx, ep.SecretHandle); derr != nil {
				s.log.Warn().Err(derr).Msg("orphaned secret cleanup failed")
			}
		}
		return nil, err
	}
	s.log.Info().Str("endpoint_id", ep.ID).Str("name", ep.Name).Msg("endpoint registered")
	return ep, nil
}

// Update applies a partial patch. A supplied password rotates the
// stored secret in place; an absent one leaves the ciphertext alone.
func (s *Endpoints) Update(ctx context.Context, id string, in EndpointInput) (*domain.Endpoint, error) {
	ep, err := s.repo.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyInput(ep, in); err != nil {
		return nil, err
	}
	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if in.Password != nil && *in.Password != "" {
		if ep.SecretHandle == "" {
			handle, err := s.vault.Store(ctx, *in.Password)
			if err != nil {
				return nil, fmt.Errorf("storing credentials: %w", err)
			}
			ep.SecretHandle = handle
		} else if err := s.vault.Rotate(ctx, ep.SecretHandle, *in.Password); err != nil {
			return nil, fmt.Errorf("rotating credentials: %w", err)
		}
		ep.HasCredentials = true
	}

	ep.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	s.log.Info().Str("endpoint_id", ep.ID).Msg("endpoint updated")
	return ep, nil
}

// Delete removes the endpoint, its secret and every scoped entity.
func (s *Endpoints) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteEndpoint(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("endpoint_id", id).Msg("endpoint deleted")
	return nil
}

// Get loads one endpoint.
func (s *Endpoints) Get(ctx context.Context, id string) (*domain.Endpoint, error) {
	return s.repo.GetEndpoint(ctx, id)
}

// List loads every endpoint.
func (s *Endpoints) List(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.repo.ListEndpoints(ctx)
}

// Validate runs a full collection against caller-supplied connection
// details without persisting anything. The returned summary is the
// same shape a real cycle produces.
func (s *Endpoints) Validate(ctx context.Context, in EndpointInput) (*domain.PollSummary, error) {
	ep := &domain.Endpoint{
		Port:                defaultPort,
		PollIntervalSeconds: defaultPollInterval,
		VerifyTLS:           true,
	}
	if in.Name == nil {
		name := "validate"
		in.Name = &name
	}
	if err := applyInput(ep, in); err != nil {
		return nil, err
	}
	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	password := ""
	if in.Password != nil {
		password = *in.Password
	}
	return s.collect(ctx, ep, adapter.Credentials{Username: ep.Username, Password: password})
}

// Test runs a connection check for a registered endpoint using its
// stored credentials.
func (s *Endpoints) Test(ctx context.Context, id string) (*domain.PollSummary, error) {
	ep, err := s.repo.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	creds, err := s.Credentials(ctx, ep)
	if err != nil {
		return unreachableSummary(err), nil
	}
	a, err := s.adapters.ForFamily(ep.Family)
	if err != nil {
		return nil, err
	}
	if err := a.TestConnection(ctx, AdapterParams(ep), creds); err != nil {
		return unreachableSummary(err), nil
	}
	collected := s.now().UTC()
	return &domain.PollSummary{Reachable: true, Message: "connection ok", CollectedAt: &collected}, nil
}

// Credentials reveals the endpoint's secret for an adapter invocation.
func (s *Endpoints) Credentials(ctx context.Context, ep *domain.Endpoint) (adapter.Credentials, error) {
	if ep.SecretHandle == "" {
		return adapter.Credentials{}, fmt.Errorf("endpoint %s has no stored credentials", ep.ID)
	}
	password, err := s.vault.Reveal(ctx, ep.SecretHandle)
	if err != nil {
		return adapter.Credentials{}, err
	}
	return adapter.Credentials{Username: ep.Username, Password: password}, nil
}

// UpdateHealth records the outcome of a poll cycle on the endpoint
// row. The write goes through the health-only repository path: a
// settings change committed mid-cycle must survive the cycle-end write.
func (s *Endpoints) UpdateHealth(ctx context.Context, id string, status domain.PollStatus, message string) error {
	return s.repo.UpdateEndpointHealth(ctx, id, status, message, s.now().UTC())
}

func (s *Endpoints) collect(ctx context.Context, ep *domain.Endpoint, creds adapter.Credentials) (*domain.PollSummary, error) {
	a, err := s.adapters.ForFamily(ep.Family)
	if err != nil {
		return nil, err
	}
	snap, err := a.FetchInventory(ctx, AdapterParams(ep), creds)
	if err != nil {
		return unreachableSummary(err), nil
	}
	return Summarize(snap), nil
}

func unreachableSummary(err error) *domain.PollSummary {
	return &domain.PollSummary{Reachable: false, Message: err.Error()}
}

// AdapterParams maps an endpoint row to adapter connection details.
func AdapterParams(ep *domain.Endpoint) adapter.Params {
	return adapter.Params{
		Address:   ep.Address,
		Port:      ep.Port,
		VerifyTLS: ep.VerifyTLS,
		Transport: ep.Transport,
	}
}

func applyInput(ep *domain.Endpoint, in EndpointInput) error {
	if in.Name != nil {
		ep.Name = *in.Name
	}
	if in.Description != nil {
		ep.Description = *in.Description
	}
	if in.Address != nil {
		ep.Address = *in.Address
	}
	if in.Port != nil {
		ep.Port = *in.Port
	}
	if in.Family != nil {
		family, err := domain.ParseSourceFamily(*in.Family)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		ep.Family = family
	}
	if in.Username != nil {
		ep.Username = *in.Username
	}
	if in.VerifyTLS != nil {
		ep.VerifyTLS = *in.VerifyTLS
	}
	if in.Transport != nil {
		ep.Transport = *in.Transport
	}
	if in.PollSeconds != nil {
		ep.PollIntervalSeconds = *in.PollSeconds
	}
	if in.Tags != nil {
		ep.Tags = domain.NormalizeTags(in.Tags)
	}
	if in.Enabled != nil {
		ep.Enabled = *in.Enabled
	}
	return nil
}
