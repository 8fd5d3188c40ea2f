package version

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func withLinkerValues(t *testing.T, v, c, d string) {
	t.Helper()
	prevV, prevC, prevD := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = prevV, prevC, prevD })
}

func buildInfo(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestCurrent(t *testing.T) {
	vcs := buildInfo(
		debug.BuildSetting{Key: "vcs.revision", Value: "abc123"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-02-01T10:00:00Z"},
	)

	t.Run("ldflags win over vcs", func(t *testing.T) {
		withLinkerValues(t, "v1.4.0", "deadbeef", "2026-03-01")

		b := current(vcs)
		require.Equal(t, Build{Version: "v1.4.0", Commit: "deadbeef", Date: "2026-03-01", GoVersion: b.GoVersion}, b)
	})

	t.Run("vcs fills missing values", func(t *testing.T) {
		withLinkerValues(t, "dev", "", "")

		b := current(vcs)
		require.Equal(t, "abc123", b.Commit)
		require.Equal(t, "2026-02-01T10:00:00Z", b.Date)
	})

	t.Run("no build info", func(t *testing.T) {
		withLinkerValues(t, "dev", "", "")

		b := current(func() (*debug.BuildInfo, bool) { return nil, false })
		require.Equal(t, "unknown", b.Commit)
		require.Equal(t, "unknown", b.Date)
		require.NotEmpty(t, b.GoVersion)
	})
}

func TestFields(t *testing.T) {
	withLinkerValues(t, "v2.0.0", "c0ffee", "2026-04-01")

	fields := Fields()
	require.Equal(t, "v2.0.0", fields["version"])
	require.Equal(t, "c0ffee", fields["commit"])
	require.Equal(t, "2026-04-01", fields["build_date"])
}

func TestHandler(t *testing.T) {
	withLinkerValues(t, "v2.0.0", "c0ffee", "2026-04-01")

	w := httptest.NewRecorder()
	Handler(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body Build
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "v2.0.0", body.Version)
	require.Equal(t, "c0ffee", body.Commit)
}
