// Package source contains the per-source event fetchers. Each fetcher takes
// a low watermark and a bounded window and returns events ascending by
// timestamp; none of them ever sees a database transaction.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/event"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

// ChainPage is one page of the discovery feed.
type ChainPage struct {
	Events []event.ChainNotification
	// Owners maps entity id -> owner user id, used to target milestone
	// notifications at content owners.
	Owners     map[int64]int64
	Milestones store.MilestoneSeed
	MaxBlock   int64
}

// SolanaPage is one page of the solana-side feed.
type SolanaPage struct {
	Events  []event.ChainNotification
	MaxSlot int64
}

// Feed is the discovery-node collaborator. Implementations are expected to
// return events strictly above minBlock/minSlot, ascending.
type Feed interface {
	Notifications(ctx context.Context, minBlock int64, timeout time.Duration) (*ChainPage, error)
	SolanaNotifications(ctx context.Context, minSlot int64, timeout time.Duration) (*SolanaPage, error)
}

// HTTPFeed talks to a discovery node over plain JSON/HTTP.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFeed builds a Feed against the given discovery node base URL.
func NewHTTPFeed(baseURL string) *HTTPFeed {
	return &HTTPFeed{baseURL: baseURL, client: &http.Client{}}
}

type wireNotification struct {
	Type        string          `json:"type"`
	BlockOrSlot int64           `json:"blocknumber"`
	TimestampMs int64           `json:"timestamp_ms"`
	Initiator   int64           `json:"initiator"`
	Receiver    int64           `json:"receiver_user_id"`
	Metadata    *wireEntity     `json:"metadata,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

type wireEntity struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
}

type wireChainPage struct {
	Notifications  []wireNotification          `json:"notifications"`
	Owners         map[string]int64            `json:"owners"`
	Milestones     map[string]map[string]int64 `json:"milestones"`
	MaxBlockNumber int64                       `json:"max_block_number"`
}

type wireSolanaPage struct {
	Notifications []wireNotification `json:"notifications"`
	MaxSlotNumber int64              `json:"max_slot_number"`
}

func (f *HTTPFeed) Notifications(ctx context.Context, minBlock int64, timeout time.Duration) (*ChainPage, error) {
	var page wireChainPage
	if err := f.get(ctx, "/v1/internal/notifications", minBlock, timeout, &page); err != nil {
		return nil, err
	}

	events, err := convertWire(page.Notifications)
	if err != nil {
		return nil, err
	}
	owners, err := parseIntKeys(page.Owners)
	if err != nil {
		return nil, fmt.Errorf("decode owners: %w", err)
	}
	seed := make(store.MilestoneSeed, len(page.Milestones))
	for kind, counts := range page.Milestones {
		m, err := parseIntKeys(counts)
		if err != nil {
			return nil, fmt.Errorf("decode milestones %s: %w", kind, err)
		}
		seed[kind] = m
	}

	return &ChainPage{
		Events:     events,
		Owners:     owners,
		Milestones: seed,
		MaxBlock:   page.MaxBlockNumber,
	}, nil
}

func (f *HTTPFeed) SolanaNotifications(ctx context.Context, minSlot int64, timeout time.Duration) (*SolanaPage, error) {
	var page wireSolanaPage
	if err := f.get(ctx, "/v1/internal/notifications/solana", minSlot, timeout, &page); err != nil {
		return nil, err
	}
	events, err := convertWire(page.Notifications)
	if err != nil {
		return nil, err
	}
	return &SolanaPage{Events: events, MaxSlot: page.MaxSlotNumber}, nil
}

func (f *HTTPFeed) get(ctx context.Context, path string, minSeq int64, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := f.baseURL + path + "?min_seq=" + url.QueryEscape(strconv.FormatInt(minSeq, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read feed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode feed response: %w", err)
	}
	return nil
}

func convertWire(wire []wireNotification) ([]event.ChainNotification, error) {
	events := make([]event.ChainNotification, 0, len(wire))
	for _, w := range wire {
		typ, ok := event.ParseType(w.Type)
		if !ok {
			return nil, fmt.Errorf("feed returned unknown notification type %q", w.Type)
		}
		n := event.ChainNotification{
			Type:        typ,
			BlockOrSlot: w.BlockOrSlot,
			Timestamp:   time.UnixMilli(w.TimestampMs).UTC(),
			Initiator:   w.Initiator,
			Recipient:   w.Receiver,
			Extra:       w.Extra,
		}
		if w.Metadata != nil {
			n.Entity = &event.Entity{
				Type: event.EntityType(w.Metadata.EntityType),
				ID:   w.Metadata.EntityID,
			}
		}
		events = append(events, n)
	}
	return events, nil
}

func parseIntKeys(in map[string]int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(in))
	for k, v := range in {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("non-numeric key %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
