package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct{ allow bool }

func (f *fakeClient) Check(ctx context.Context, user, object, relation string) (bool, error) {
	return f.allow, nil
}

func TestCanAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Principal", "user:ops")

	allowed, err := Can(context.Background(), &fakeClient{allow: true}, r, "purchases:all", "viewer")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCanDenied(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Principal", "user:stranger")

	allowed, err := Can(context.Background(), &fakeClient{allow: false}, r, "purchases:all", "viewer")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestPrincipalPrecedence(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "user:anonymous", PrincipalFromRequest(r))

	r.Header.Set("X-User", "user:fallback")
	assert.Equal(t, "user:fallback", PrincipalFromRequest(r))

	r.Header.Set("X-Principal", "user:primary")
	assert.Equal(t, "user:primary", PrincipalFromRequest(r))

	r.AddCookie(&http.Cookie{Name: "act_as", Value: "user:impersonated"})
	assert.Equal(t, "user:impersonated", PrincipalFromRequest(r))
}
