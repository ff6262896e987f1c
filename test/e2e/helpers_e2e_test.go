//go:build e2e

package e2e_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// The suite runs against an already-deployed stack (server + at least one
// worker + broker + postgres + redis), reachable at E2E_BASE_URL.
var baseURL = getenv("E2E_BASE_URL", "http://localhost:8080")

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// requireAppUp skips the test when the stack is not reachable.
func requireAppUp(t *testing.T, client *http.Client) {
	t.Helper()
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			_ = resp.Body.Close()
		}
		t.Skip("app not available; skipping e2e")
	}
	_ = resp.Body.Close()
}

// pngB64 renders a small PNG whose pixels depend on seed, so distinct
// seeds produce distinct stub-model embeddings.
func pngB64(t *testing.T, seed int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x*seed + y) % 256),
				G: uint8((y*seed + x) % 256),
				B: uint8(seed % 256),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postJSON(t *testing.T, client *http.Client, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func getJSON(t *testing.T, client *http.Client, path string) (int, map[string]any) {
	t.Helper()
	resp, err := client.Get(baseURL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func doDelete(t *testing.T, client *http.Client, path string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, baseURL+path, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

// uniqueTenant gives each test its own namespace so runs don't collide.
func uniqueTenant(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, os.Getpid())
}
