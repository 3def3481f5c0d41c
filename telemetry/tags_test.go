package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/purge/all", nil)
	return InjectTags(r)
}

func TestInjectTags_DefaultsPurgeModeToNone(t *testing.T) {
	r := newTaggedRequest()
	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Equal(t, PurgeNone, tags.PurgeMode)
	require.Empty(t, tags.Endpoint)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	require.Nil(t, GetTags(r))
}

func TestSetEndpoint(t *testing.T) {
	r := newTaggedRequest()
	SetEndpoint(r, "purge_all")
	require.Equal(t, "purge_all", GetTags(r).Endpoint)
}

func TestSetPurgeMode(t *testing.T) {
	r := newTaggedRequest()
	SetPurgeMode(r, PurgeFull, true)
	require.Equal(t, PurgeFull, GetTags(r).PurgeMode)
	require.True(t, GetTags(r).Fallback)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	SetEndpoint(r, "x")
	SetPurgeMode(r, PurgeSelective, false)
}

func TestRequestIDContext(t *testing.T) {
	require.Empty(t, RequestIDFromContext(context.Background()))

	ctx := WithRequestID(context.Background(), "abc-123")
	require.Equal(t, "abc-123", RequestIDFromContext(ctx))
}
