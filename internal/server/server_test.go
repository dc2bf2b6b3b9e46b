package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/cursor"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store, *cursor.Memory) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.NewStore(db)
	cursors := cursor.NewMemory()
	return New(s, cursors, "127.0.0.1:0"), s, cursors
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusListsFamilies(t *testing.T) {
	srv, s, _ := testServer(t)
	if err := s.RecordRun("chain", nil); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	rec := get(t, srv, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Families []store.JobRun `json:"families"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Families) != 1 || body.Families[0].Family != "chain" {
		t.Errorf("families = %+v, want one chain entry", body.Families)
	}
}

func TestCursorsEndpoint(t *testing.T) {
	srv, _, cursors := testServer(t)
	cursors.SetInt(context.Background(), cursor.KeyLastBlock, 250)

	rec := get(t, srv, "/api/v1/cursors")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Cursors map[string]string `json:"cursors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Cursors[cursor.KeyLastBlock] != "250" {
		t.Errorf("block cursor = %q, want 250", body.Cursors[cursor.KeyLastBlock])
	}
	if _, ok := body.Cursors[cursor.KeyLastMessageTS]; !ok {
		t.Error("message cursor key missing from response")
	}
}

func TestRecentNotifications(t *testing.T) {
	srv, s, _ := testServer(t)
	err := s.ExecuteTx(func(tx *sql.Tx) error {
		_, err := store.InsertNotificationTx(tx, store.NotificationRecord{
			ID:         "ntf_recent",
			Type:       "follow",
			Source:     store.SourceChain,
			GroupKey:   "follow:7",
			Recipients: []int64{7},
			OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := get(t, srv, "/api/v1/notifications/recent?limit=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Notifications []store.NotificationRecord `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Notifications) != 1 || body.Notifications[0].ID != "ntf_recent" {
		t.Errorf("notifications = %+v, want the seeded row", body.Notifications)
	}
}

func TestRecentNotificationsRejectsBadLimit(t *testing.T) {
	srv, _, _ := testServer(t)
	for _, limit := range []string{"0", "-5", "abc", "100000"} {
		rec := get(t, srv, "/api/v1/notifications/recent?limit="+limit)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestPendingDeliveries(t *testing.T) {
	srv, s, _ := testServer(t)
	err := s.ExecuteTx(func(tx *sql.Tx) error {
		if _, err := store.InsertNotificationTx(tx, store.NotificationRecord{
			ID:         "ntf_pending",
			Type:       "follow",
			Source:     store.SourceChain,
			GroupKey:   "follow:7",
			Recipients: []int64{7},
			OccurredAt: time.Now(),
		}); err != nil {
			return err
		}
		return store.EnqueueDeliveryTx(tx, "ntf_pending", store.ChannelPush, nil)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := get(t, srv, "/api/v1/deliveries/pending")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Pending map[string]int64 `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Pending[store.ChannelPush] != 1 {
		t.Errorf("pending push = %d, want 1", body.Pending[store.ChannelPush])
	}
}
