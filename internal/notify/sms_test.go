package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPSMSSenderValidatesConfig(t *testing.T) {
	_, err := NewHTTPSMSSender(HTTPSMSConfig{APIKey: "k"})
	assert.Error(t, err)

	_, err = NewHTTPSMSSender(HTTPSMSConfig{BaseURL: "http://gateway.local"})
	assert.Error(t, err)
}

func TestHTTPSMSSenderPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewHTTPSMSSender(HTTPSMSConfig{BaseURL: srv.URL + "/", APIKey: "secret", From: "+15550000000"})
	require.NoError(t, err)

	require.NoError(t, sender.SendSMS(context.Background(), "+15551234567", "See you tomorrow"))
	assert.Equal(t, map[string]string{"from": "+15550000000", "to": "+15551234567", "text": "See you tomorrow"}, got)
}

func TestHTTPSMSSenderReportsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid destination", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	sender, err := NewHTTPSMSSender(HTTPSMSConfig{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	err = sender.SendSMS(context.Background(), "bogus", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "invalid destination")
}

func TestStubSMSSender(t *testing.T) {
	assert.NoError(t, NewStubSMSSender(zerolog.Nop()).SendSMS(context.Background(), "+1", "hi"))
}
