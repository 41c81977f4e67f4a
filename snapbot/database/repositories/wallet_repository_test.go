package repositories

import (
	"context"
	"strings"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWalletAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "valid", address: strings.Repeat("A1b2c", 10)},
		{name: "too short", address: strings.Repeat("a", 49), wantErr: true},
		{name: "too long", address: strings.Repeat("a", 51), wantErr: true},
		{name: "empty", address: "", wantErr: true},
		{name: "symbol", address: strings.Repeat("a", 49) + "-", wantErr: true},
		{name: "space", address: strings.Repeat("a", 49) + " ", wantErr: true},
		{name: "non ascii letter", address: strings.Repeat("a", 48) + "é", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWalletAddress(tt.address, DefaultWalletAddressLength)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWalletAddress)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWalletRepository_RegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepository(newTestDB(t), DefaultWalletAddressLength)
	user := snowflake.ID(42)

	_, err := repo.Lookup(ctx, user)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	registered, err := repo.IsRegistered(ctx, user)
	require.NoError(t, err)
	assert.False(t, registered)

	first := validAddress("first")
	require.NoError(t, repo.Register(ctx, user, first))

	got, err := repo.Lookup(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := validAddress("second")
	require.NoError(t, repo.Register(ctx, user, second))

	got, err = repo.Lookup(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	registered, err = repo.IsRegistered(ctx, user)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestWalletRepository_InvalidAddressDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepository(newTestDB(t), DefaultWalletAddressLength)
	user := snowflake.ID(43)

	err := repo.Register(ctx, user, strings.Repeat("a", 49))
	require.ErrorIs(t, err, ErrInvalidWalletAddress)
	_, err = repo.Lookup(ctx, user)
	assert.ErrorIs(t, err, ErrWalletNotFound)

	original := validAddress("orig")
	require.NoError(t, repo.Register(ctx, user, original))

	for _, bad := range []string{strings.Repeat("b", 49), strings.Repeat("b", 49) + "!"} {
		require.ErrorIs(t, repo.Register(ctx, user, bad), ErrInvalidWalletAddress)
	}

	got, err := repo.Lookup(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestWalletRepository_ConfigurableLength(t *testing.T) {
	ctx := context.Background()
	repo := NewWalletRepository(newTestDB(t), 8)

	require.NoError(t, repo.Register(ctx, snowflake.ID(1), "abcd1234"))
	assert.ErrorIs(t, repo.Register(ctx, snowflake.ID(1), validAddress("x")), ErrInvalidWalletAddress)
}
