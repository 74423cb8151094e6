package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printglide/renderqueue/internal/config"
)

func TestClient_TierFor(t *testing.T) {
	t.Run("resolves the tier from the subscription endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/users/user-1/subscription", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"tier": "pro"})
		}))
		defer srv.Close()

		client := NewClient(&Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

		tier, err := client.TierFor(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, config.TierPro, tier)
	})

	t.Run("no configured service falls back to the default tier", func(t *testing.T) {
		client := NewClient(&Config{DefaultTier: "starter", Timeout: 2 * time.Second})

		tier, err := client.TierFor(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, config.TierStarter, tier)
	})

	t.Run("unknown tier in the response is rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"tier": "platinum"})
		}))
		defer srv.Close()

		client := NewClient(&Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

		_, err := client.TierFor(context.Background(), "user-1")
		require.Error(t, err)
	})

	t.Run("service error propagates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewClient(&Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

		_, err := client.TierFor(context.Background(), "user-1")
		require.Error(t, err)
	})
}
