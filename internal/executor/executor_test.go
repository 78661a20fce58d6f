package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"debugarena/internal/executor"
)

func TestClient_Run(t *testing.T) {
	var got struct {
		Language string `json:"language"`
		Version  string `json:"version"`
		Files    []struct {
			Content string `json:"content"`
		} `json:"files"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]any{
				"stdout": "hello\n",
				"stderr": "",
				"code":   0,
			},
		})
	}))
	defer srv.Close()

	c := executor.NewClient(executor.Config{BaseURL: srv.URL})

	res, err := c.Run(context.Background(), "python", "print('hello')")
	require.NoError(t, err)
	require.Equal(t, executor.Result{Stdout: "hello\n"}, res)

	require.Equal(t, "python", got.Language)
	require.Equal(t, "3.10.0", got.Version, "version comes from the runtime table")
	require.Len(t, got.Files, 1)
	require.Equal(t, "print('hello')", got.Files[0].Content)
}

func TestClient_Run_UnsupportedLanguage(t *testing.T) {
	c := executor.NewClient(executor.Config{BaseURL: "http://localhost:0"})

	_, err := c.Run(context.Background(), "cobol", "DISPLAY 'HI'.")
	require.ErrorIs(t, err, executor.ErrUnsupportedLanguage)
}

func TestClient_Run_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "runtime unknown"})
	}))
	defer srv.Close()

	c := executor.NewClient(executor.Config{BaseURL: srv.URL})

	_, err := c.Run(context.Background(), "python", "print(1)")
	require.ErrorContains(t, err, "runtime unknown")
}

func TestClient_Run_MissingRunOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	c := executor.NewClient(executor.Config{BaseURL: srv.URL})

	_, err := c.Run(context.Background(), "python", "print(1)")
	require.Error(t, err)
}
