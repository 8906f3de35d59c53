package httpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"state":"active"}`)
	}))
	defer srv.Close()

	var out struct {
		State string `json:"state"`
	}
	require.NoError(t, GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "active", out.State)
}

func TestPostJSON_SendsBody(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got = r.Header.Get("Content-Type") + " " + string(data)
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	require.NoError(t, PostJSON(context.Background(), srv.URL, map[string]int{"width": 10}, nil))
	assert.Equal(t, `application/json {"width":10}`, got)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"session: no active session"}`)
	}))
	defer srv.Close()

	err := GetJSON(context.Background(), srv.URL, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "err = %v", err)
	assert.Equal(t, http.StatusConflict, statusErr.Code)
	assert.Equal(t, "session: no active session", statusErr.Message)
}
