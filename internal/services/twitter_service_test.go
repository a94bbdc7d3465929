package services

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthURLStateRoundTrip(t *testing.T) {
	service := NewTwitterService("client-id", "client-secret", "http://localhost:8080/creators/auth/twitter/callback")

	authURL := service.AuthURL("0xAbCd1234")

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()

	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Contains(t, query.Get("scope"), "users.read")
	assert.Equal(t, "http://localhost:8080/creators/auth/twitter/callback", query.Get("redirect_uri"))

	state, err := service.DecodeState(query.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "0xabcd1234", state.WalletAddress, "wallet must be lower-cased in the state")
}

func TestDecodeStateRejectsGarbage(t *testing.T) {
	service := NewTwitterService("client-id", "client-secret", "http://localhost/callback")

	_, err := service.DecodeState("%%%not-base64%%%")
	assert.Error(t, err, "invalid encoding must be rejected")

	// Valid base64, but no wallet inside.
	_, err = service.DecodeState("e30=")
	assert.Error(t, err, "empty state must be rejected")
}
