package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
)

func TestClient_GetTenant(t *testing.T) {
	tenantID := uuid.New()
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/v1/tenants/"+tenantID.String(), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"` + tenantID.String() + `","name":"Acme","industry":"Retail","email":"owner@acme.test"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/api/v1/"}, nil)

	ctx := contextkeys.WithBearerToken(context.Background(), "caller-token")
	tenant, err := client.GetTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, tenantID, tenant.ID)
	assert.Equal(t, "Retail", tenant.Industry)
	assert.Equal(t, "owner@acme.test", tenant.Email)
	assert.Equal(t, "Bearer caller-token", gotAuth)
}

func TestClient_ServiceToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[{"id":1},{"id":2},{"id":3}]`))
	}))
	defer server.Close()

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "service-token", TokenType: "Bearer"})
	client := NewClient(Config{BaseURL: server.URL}, tokens)

	users, err := client.GetUsers(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, users, 3)
	assert.Equal(t, "Bearer service-token", gotAuth)

	t.Run("caller token wins", func(t *testing.T) {
		ctx := contextkeys.WithBearerToken(context.Background(), "caller-token")
		_, err := client.GetBranches(ctx, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, "Bearer caller-token", gotAuth)
	})
}

func TestClient_NoCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	branches, err := NewClient(Config{BaseURL: server.URL}, nil).GetBranches(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, branches)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"detail":"not found"}`, notFound: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(Config{BaseURL: server.URL}, nil).GetTenant(context.Background(), uuid.New())
			require.Error(t, err)
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.notFound, IsNotFound(err))
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{not json`))
		}))
		defer server.Close()

		_, err := NewClient(Config{BaseURL: server.URL}, nil).GetTenant(context.Background(), uuid.New())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode identity response")
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		_, err := NewClient(Config{BaseURL: url}, nil).GetUsers(context.Background(), uuid.New())
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
	})
}
