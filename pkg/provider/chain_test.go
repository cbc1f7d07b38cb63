// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLoginHappyPath(t *testing.T) {
	t.Parallel()

	chain := &Chain{}
	verdict, err := chain.Login(context.Background(),
		[]string{validationScript, loginScript}, "cee8Esh5@example.com", "anything")
	require.NoError(t, err)

	assert.Equal(t, "cee8Esh5@example.com", verdict.Subject)
	assert.Equal(t, "Cee Esh", verdict.Username)
	assert.Equal(t, "user", verdict.Role)
	assert.Equal(t, "dairy", verdict.Profile["team"])
}

func TestChainValidationVetoes(t *testing.T) {
	t.Parallel()

	chain := &Chain{}
	_, err := chain.Login(context.Background(),
		[]string{validationScript, loginScript}, "blocked@example.com", "anything")
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestChainWrongCredentials(t *testing.T) {
	t.Parallel()

	chain := &Chain{}
	_, err := chain.Login(context.Background(),
		[]string{loginScript}, "someone@elsewhere.org", "x")
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestChainFirstCommitWins(t *testing.T) {
	t.Parallel()

	second := `
class UserLoginProvider {
	constructor(credentials) { commit(true); }
	get canLogin() { return true; }
	get role() { return "second"; }
}
`
	first := `
class UserLoginProvider {
	constructor(credentials) { commit(true); }
	get canLogin() { return true; }
	get role() { return "first"; }
}
`
	chain := &Chain{}
	verdict, err := chain.Login(context.Background(), []string{first, second}, "u@example.com", "p")
	require.NoError(t, err)
	assert.Equal(t, "first", verdict.Role)
}

func TestChainMissingProviders(t *testing.T) {
	t.Parallel()

	strict := &Chain{AllowMissing: false}
	_, err := strict.Login(context.Background(), nil, "u@example.com", "p")
	assert.ErrorIs(t, err, ErrNotAllowed)

	lax := &Chain{AllowMissing: true}
	verdict, err := lax.Login(context.Background(), nil, "u@example.com", "p")
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", verdict.Subject)
}

func TestChainValidate(t *testing.T) {
	t.Parallel()

	chain := &Chain{}

	ok, err := chain.Validate(context.Background(), []string{validationScript}, "fine@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = chain.Validate(context.Background(), []string{validationScript}, "blocked@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// Only login providers declared: nothing vetoes.
	ok, err = chain.Validate(context.Background(), []string{loginScript}, "fine@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}
