package cursor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process cursor store for tests and single-binary dev runs.
type Memory struct {
	mu   sync.Mutex
	vals map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string]string)}
}

func (m *Memory) GetTime(ctx context.Context, key string) (time.Time, error) {
	s, _ := m.GetString(ctx, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %s: %w", key, err)
	}
	return t, nil
}

func (m *Memory) SetTime(ctx context.Context, key string, t time.Time) error {
	return m.SetString(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

func (m *Memory) GetInt(ctx context.Context, key string) (int64, error) {
	s, _ := m.GetString(ctx, key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %s: %w", key, err)
	}
	return v, nil
}

func (m *Memory) SetInt(ctx context.Context, key string, v int64) error {
	return m.SetString(ctx, key, strconv.FormatInt(v, 10))
}

func (m *Memory) GetString(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], nil
}

func (m *Memory) SetString(ctx context.Context, key, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = v
	return nil
}
