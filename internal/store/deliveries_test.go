package store_test

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/AudiusProject/apps-sub003/internal/store"
)

func TestDeliveryQueueFIFO(t *testing.T) {
	s := testStore(t)

	err := s.ExecuteTx(func(tx *sql.Tx) error {
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("ntf_%d", i)
			if err := store.EnqueueDeliveryTx(tx, id, store.ChannelPush, []byte(`{}`)); err != nil {
				return err
			}
		}
		return store.EnqueueDeliveryTx(tx, "ntf_email", store.ChannelEmail, nil)
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs, err := s.NextDeliveries(store.ChannelPush, 10)
	if err != nil {
		t.Fatalf("NextDeliveries: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("push jobs = %d, want 3", len(jobs))
	}
	for i, job := range jobs {
		if job.NotificationID != fmt.Sprintf("ntf_%d", i) {
			t.Errorf("job %d = %s, out of FIFO order", i, job.NotificationID)
		}
	}

	if err := s.DeleteDelivery(jobs[0].ID); err != nil {
		t.Fatalf("DeleteDelivery: %v", err)
	}
	jobs, _ = s.NextDeliveries(store.ChannelPush, 10)
	if len(jobs) != 2 || jobs[0].NotificationID != "ntf_1" {
		t.Errorf("after delete head = %v", jobs)
	}

	pending, err := s.PendingDeliveries()
	if err != nil {
		t.Fatalf("PendingDeliveries: %v", err)
	}
	if pending[store.ChannelPush] != 2 || pending[store.ChannelEmail] != 1 {
		t.Errorf("pending = %v", pending)
	}
}

func TestDeliveryQueueRollsBackWithCycle(t *testing.T) {
	s := testStore(t)

	err := s.ExecuteTx(func(tx *sql.Tx) error {
		if err := store.EnqueueDeliveryTx(tx, "ntf_x", store.ChannelPush, nil); err != nil {
			return err
		}
		return fmt.Errorf("forced failure")
	})
	if err == nil {
		t.Fatal("ExecuteTx should have failed")
	}

	pending, _ := s.PendingDeliveries()
	if pending[store.ChannelPush] != 0 {
		t.Errorf("pending after rollback = %v, want empty", pending)
	}
}
