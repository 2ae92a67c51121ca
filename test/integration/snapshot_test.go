//go:build integration

package integration

import (
	"io"
	"net/http"
	"testing"
)

func TestListSnapshots(t *testing.T) {
	resp := env.GET(t, "/api/v1/snapshots")
	requireStatus(t, resp, http.StatusOK)

	result := decodeJSON[struct {
		Snapshots []map[string]any `json:"snapshots"`
	}](t, resp)

	// An empty list is fine.
	t.Logf("snapshots count: %d", len(result.Snapshots))
}

func TestSnapshotLifecycle(t *testing.T) {
	skipUnlessAuthenticated(t)

	// 1. Screenshot the chain tab.
	resp := env.POST(t, "/api/v1/screenshot", map[string]any{
		"notes": "integration",
	})
	requireStatus(t, resp, http.StatusOK)
	created := decodeJSON[struct {
		Snapshot struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"snapshot"`
		URL string `json:"url"`
	}](t, resp)

	if created.Snapshot.ID == "" {
		t.Fatal("expected snapshot ID after creation")
	}
	snapshotID := created.Snapshot.ID
	t.Logf("created snapshot: id=%s url=%s", snapshotID, created.URL)

	t.Cleanup(func() {
		r := env.DELETE(t, "/api/v1/snapshots/"+snapshotID)
		r.Body.Close()
	})

	// 2. Metadata and image.
	resp = env.GET(t, "/api/v1/snapshots/"+snapshotID)
	requireStatus(t, resp, http.StatusOK)
	meta := decodeJSON[struct {
		Notes string `json:"notes"`
	}](t, resp)
	requireField(t, meta.Notes, "integration", "notes")

	resp = env.GET(t, "/api/v1/snapshots/"+snapshotID+"/image")
	requireStatus(t, resp, http.StatusOK)
	requireField(t, resp.Header.Get("Content-Type"), "image/png", "content-type")
	img, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(img) == 0 {
		t.Fatal("expected image bytes")
	}

	// 3. Delete, then verify it is gone.
	resp = env.DELETE(t, "/api/v1/snapshots/"+snapshotID)
	requireStatus(t, resp, http.StatusOK)
	deleteResult := decodeJSON[struct {
		Status string `json:"status"`
	}](t, resp)
	requireField(t, deleteResult.Status, "deleted", "status")

	resp = env.GET(t, "/api/v1/snapshots/"+snapshotID)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
