package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVersionHandlerReportsBuildInfo(t *testing.T) {
	original := CurrentBuildInfo()
	t.Cleanup(func() { buildInfo = original })

	SetBuildInfo(BuildInfo{Version: "1.4.0", Commit: "abc123"})

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp VersionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.App.Name != AppName {
		t.Fatalf("expected app name %s, got %s", AppName, resp.App.Name)
	}
	if resp.App.Version != "1.4.0" || resp.App.Commit != "abc123" {
		t.Fatalf("unexpected app info: %+v", resp.App)
	}
	if resp.App.BuildDate != original.BuildDate {
		t.Fatalf("empty build date should keep %q, got %q", original.BuildDate, resp.App.BuildDate)
	}
	if resp.Dependencies.Gofulmen == "" || resp.Dependencies.Crucible == "" {
		t.Fatalf("expected dependency versions, got %+v", resp.Dependencies)
	}
	if resp.Runtime.Platform == "" || resp.Runtime.NumCPU == 0 {
		t.Fatalf("expected runtime info, got %+v", resp.Runtime)
	}
}
