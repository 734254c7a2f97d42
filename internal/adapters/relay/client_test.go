package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSendsTurnQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	require.NoError(t, c.Set(context.Background(), true))
	assert.Equal(t, "turn=on", gotQuery)
}

func TestStatusParsesOutputField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	on, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
}

func TestStatusParsesGen2SwitchField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"switch:0":{"output":false}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	on, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
}
