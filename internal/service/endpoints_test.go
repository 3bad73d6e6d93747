package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrapulse/internal/adapter"
	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
	"infrapulse/internal/vault"
)

// stubAdapter substitutes a real collector in service tests.
type stubAdapter struct {
	family   domain.SourceFamily
	snap     *adapter.RawSnapshot
	fetchErr error
	testErr  error
}

func (s *stubAdapter) Family() domain.SourceFamily { return s.family }

func (s *stubAdapter) TestConnection(ctx context.Context, p adapter.Params, c adapter.Credentials) error {
	return s.testErr
}

func (s *stubAdapter) FetchInventory(ctx context.Context, p adapter.Params, c adapter.Credentials) (*adapter.RawSnapshot, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.snap, nil
}

func testVaultKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newEndpointService(t *testing.T, repo repository.Repository, stub *stubAdapter) *Endpoints {
	t.Helper()
	v, err := vault.New(testVaultKey(), repo)
	require.NoError(t, err)
	registry := adapter.NewRegistry(zerolog.Nop())
	if stub != nil {
		registry.Register(stub)
	}
	return NewEndpoints(repo, v, registry, zerolog.Nop())
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func createInput() EndpointInput {
	return EndpointInput{
		Name:     strPtr("vcenter-lab"),
		Address:  strPtr("10.0.0.10"),
		Family:   strPtr("virtualization"),
		Username: strPtr("svc-inventory"),
		Password: strPtr("s3cret-value"),
		Tags:     []string{" lab ", "", "prod"},
	}
}

func TestCreateSealsSecretAndDefaults(t *testing.T) {
	repo := newTestRepo(t)
	svc := newEndpointService(t, repo, nil)
	ctx := context.Background()

	ep, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	assert.Equal(t, 443, ep.Port)
	assert.Equal(t, 300, ep.PollIntervalSeconds)
	assert.True(t, ep.Enabled)
	assert.True(t, ep.HasCredentials)
	assert.NotEmpty(t, ep.SecretHandle)
	assert.Equal(t, []string{"lab", "prod"}, ep.Tags)
	assert.Equal(t, domain.PollStatusNever, ep.LastPollStatus)

	// The stored ciphertext must not contain the plaintext, and the
	// serialized endpoint must not reference the secret at all.
	ciphertext, err := repo.GetSecret(ctx, ep.SecretHandle)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "s3cret-value")

	body, err := json.Marshal(ep)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "s3cret-value")
	assert.NotContains(t, string(body), ep.SecretHandle)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	repo := newTestRepo(t)
	svc := newEndpointService(t, repo, nil)

	in := createInput()
	in.Family = strPtr("openstack")
	_, err := svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalid)

	in = createInput()
	in.Port = intPtr(99999)
	_, err = svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdatePatchSemantics(t *testing.T) {
	repo := newTestRepo(t)
	svc := newEndpointService(t, repo, nil)
	ctx := context.Background()

	ep, err := svc.Create(ctx, createInput())
	require.NoError(t, err)
	handle := ep.SecretHandle

	// Patch without password: ciphertext untouched, handle stable.
	before, err := repo.GetSecret(ctx, handle)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, ep.ID, EndpointInput{Description: strPtr("lab vcenter")})
	require.NoError(t, err)
	assert.Equal(t, "lab vcenter", updated.Description)
	assert.Equal(t, "vcenter-lab", updated.Name)
	assert.Equal(t, handle, updated.SecretHandle)

	after, err := repo.GetSecret(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Patch with password: rotated in place under the same handle.
	_, err = svc.Update(ctx, ep.ID, EndpointInput{Password: strPtr("rotated-value")})
	require.NoError(t, err)

	rotated, err := repo.GetSecret(ctx, handle)
	require.NoError(t, err)
	assert.NotEqual(t, before, rotated)

	creds, err := svc.Credentials(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, "rotated-value", creds.Password)
}

func TestUpdateMissingEndpoint(t *testing.T) {
	repo := newTestRepo(t)
	svc := newEndpointService(t, repo, nil)

	_, err := svc.Update(context.Background(), "absent", EndpointInput{Description: strPtr("x")})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestValidateDoesNotPersist(t *testing.T) {
	repo := newTestRepo(t)
	stub := &stubAdapter{family: domain.SourceVirtualization, snap: virtSnapshot()}
	svc := newEndpointService(t, repo, stub)
	ctx := context.Background()

	in := createInput()
	summary, err := svc.Validate(ctx, in)
	require.NoError(t, err)
	assert.True(t, summary.Reachable)
	assert.Equal(t, 1, summary.HostCount)
	assert.Equal(t, 2, summary.VirtualMachineCount)

	eps, err := repo.ListEndpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, eps, "validate must not register the endpoint")

	hosts, err := repo.ListHosts(ctx, repository.EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, hosts, "validate must not write inventory")
}

func TestValidateUnreachable(t *testing.T) {
	repo := newTestRepo(t)
	stub := &stubAdapter{
		family:   domain.SourceVirtualization,
		fetchErr: adapter.Unreachable(context.DeadlineExceeded),
	}
	svc := newEndpointService(t, repo, stub)

	summary, err := svc.Validate(context.Background(), createInput())
	require.NoError(t, err)
	assert.False(t, summary.Reachable)
	assert.NotEmpty(t, summary.Message)
}

func TestTestUsesStoredCredentials(t *testing.T) {
	repo := newTestRepo(t)
	stub := &stubAdapter{family: domain.SourceVirtualization}
	svc := newEndpointService(t, repo, stub)
	ctx := context.Background()

	ep, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	summary, err := svc.Test(ctx, ep.ID)
	require.NoError(t, err)
	assert.True(t, summary.Reachable)

	stub.testErr = adapter.Unreachable(context.DeadlineExceeded)
	summary, err = svc.Test(ctx, ep.ID)
	require.NoError(t, err)
	assert.False(t, summary.Reachable)
}

func TestUpdateHealth(t *testing.T) {
	repo := newTestRepo(t)
	svc := newEndpointService(t, repo, nil)
	ctx := context.Background()

	ep, err := svc.Create(ctx, createInput())
	require.NoError(t, err)

	require.NoError(t, svc.UpdateHealth(ctx, ep.ID, domain.PollStatusError, "endpoint unreachable"))

	got, err := svc.Get(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusError, got.LastPollStatus)
	assert.Equal(t, "endpoint unreachable", got.LastErrorMessage)
	require.NotNil(t, got.LastPolledAt)
	assert.WithinDuration(t, time.Now(), *got.LastPolledAt, time.Minute)
}
