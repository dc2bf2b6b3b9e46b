package dispatch_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/AudiusProject/apps-sub003/internal/dispatch"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

type fakeRenderer struct {
	fail map[string]bool
	bad  map[string]bool
}

func (r *fakeRenderer) Render(job store.DeliveryJob) (json.RawMessage, error) {
	if r.fail[job.NotificationID] {
		return nil, errors.New("render failure")
	}
	if r.bad[job.NotificationID] {
		return json.RawMessage(`{"title": ""}`), nil
	}
	return json.RawMessage(`{"title": "New follower", "body": "x", "recipient_ids": [7]}`), nil
}

type fakeTransport struct {
	sent   []json.RawMessage
	reject map[int]bool // reject nth send (1-based)
	calls  int
}

func (t *fakeTransport) Send(ctx context.Context, payload json.RawMessage) error {
	t.calls++
	if t.reject[t.calls] {
		return errors.New("transport down")
	}
	t.sent = append(t.sent, payload)
	return nil
}

func testDispatcher(t *testing.T, renderer dispatch.Renderer, transport dispatch.Transport) (*dispatch.Dispatcher, *store.Store) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.NewStore(db)

	d, err := dispatch.New(s, renderer, map[string]dispatch.Transport{
		store.ChannelPush: transport,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, s
}

func enqueueN(t *testing.T, s *store.Store, n int) {
	t.Helper()
	err := s.ExecuteTx(func(tx *sql.Tx) error {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("ntf_%d", i)
			if err := store.EnqueueDeliveryTx(tx, id, store.ChannelPush, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	transport := &fakeTransport{}
	d, s := testDispatcher(t, &fakeRenderer{}, transport)
	enqueueN(t, s, 3)

	n, err := d.Drain(context.Background(), store.ChannelPush)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 3 {
		t.Errorf("drained = %d, want 3", n)
	}
	if len(transport.sent) != 3 {
		t.Errorf("transport received %d, want 3", len(transport.sent))
	}

	pending, _ := s.PendingDeliveries()
	if pending[store.ChannelPush] != 0 {
		t.Errorf("pending after drain = %v", pending)
	}
}

func TestDrainDropsFailedJobs(t *testing.T) {
	transport := &fakeTransport{reject: map[int]bool{1: true}}
	renderer := &fakeRenderer{fail: map[string]bool{"ntf_1": true}}
	d, s := testDispatcher(t, renderer, transport)
	enqueueN(t, s, 3)

	// ntf_0 hits a transport failure, ntf_1 fails to render, ntf_2 goes out.
	n, err := d.Drain(context.Background(), store.ChannelPush)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 1 {
		t.Errorf("drained = %d, want 1", n)
	}

	// Failures are dropped, not retried: the queue must still be empty.
	pending, _ := s.PendingDeliveries()
	if pending[store.ChannelPush] != 0 {
		t.Errorf("pending after drain = %v, want empty", pending)
	}
}

func TestDrainValidatesRenderedPayload(t *testing.T) {
	transport := &fakeTransport{}
	renderer := &fakeRenderer{bad: map[string]bool{"ntf_0": true}}
	d, s := testDispatcher(t, renderer, transport)
	enqueueN(t, s, 1)

	n, err := d.Drain(context.Background(), store.ChannelPush)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 0 {
		t.Errorf("drained = %d, want 0 (payload missing required fields)", n)
	}
	if len(transport.sent) != 0 {
		t.Error("invalid payload reached the transport")
	}
}

func TestDrainUnknownChannel(t *testing.T) {
	d, _ := testDispatcher(t, &fakeRenderer{}, &fakeTransport{})
	if _, err := d.Drain(context.Background(), store.ChannelEmail); err == nil {
		t.Error("drain of channel without transport succeeded")
	}
}
