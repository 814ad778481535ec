package rpc

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHandshake(t *testing.T) {
	good := Handshake{Token: "secret", Model: "m", MaxConcurrency: 2, Name: "a"}

	hs, err := ParseHandshake(good.Values(), "secret")
	require.NoError(t, err)
	assert.Equal(t, good, hs)
	assert.Equal(t, "m-a", hs.Key())

	tests := []struct {
		name  string
		query url.Values
		code  int
	}{
		{"missing name", url.Values{"token": {"secret"}, "model": {"m"}, "max_concurrency": {"1"}}, CloseMissingParams},
		{"missing everything", url.Values{}, CloseMissingParams},
		{"bad token", url.Values{"token": {"nope"}, "model": {"m"}, "max_concurrency": {"1"}, "name": {"a"}}, CloseInvalidToken},
		{"zero concurrency", url.Values{"token": {"secret"}, "model": {"m"}, "max_concurrency": {"0"}, "name": {"a"}}, CloseBadParams},
		{"non numeric concurrency", url.Values{"token": {"secret"}, "model": {"m"}, "max_concurrency": {"two"}, "name": {"a"}}, CloseBadParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHandshake(tt.query, "secret")
			var herr *HandshakeError
			require.ErrorAs(t, err, &herr)
			assert.Equal(t, tt.code, herr.Code)
		})
	}
}
