package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory implements RuleStore and ConfigStore in process memory. Used in
// dev mode and tests.
type Memory struct {
	mu        sync.Mutex
	nextID    int64
	rules     map[int64]RuleRow
	responses map[int64]ResponseRow
	channels  map[int64]ChannelRow
	config    map[string][]byte
}

// NewMemory constructs an empty *Memory.
func NewMemory() *Memory {
	return &Memory{
		nextID:    1,
		rules:     make(map[int64]RuleRow),
		responses: make(map[int64]ResponseRow),
		channels:  make(map[int64]ChannelRow),
		config:    make(map[string][]byte),
	}
}

func (m *Memory) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *Memory) Rules(ctx context.Context, community string) ([]RuleRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []RuleRow
	for _, row := range m.rules {
		if row.Community == community {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *Memory) Responses(ctx context.Context, community string) ([]ResponseRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []ResponseRow
	for _, row := range m.responses {
		if row.Community == community {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *Memory) Channels(ctx context.Context, community string) ([]ChannelRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []ChannelRow
	for _, row := range m.channels {
		if row.Community == community {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *Memory) CreateRule(ctx context.Context, row RuleRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row.ID = m.id()
	m.rules[row.ID] = row
	return row.ID, nil
}

func (m *Memory) UpdateRule(ctx context.Context, row RuleRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[row.ID]; !ok {
		return ErrNotFound
	}
	m.rules[row.ID] = row
	return nil
}

func (m *Memory) DeleteRule(ctx context.Context, community string, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rules[ruleID]
	if !ok || row.Community != community {
		return ErrNotFound
	}
	delete(m.rules, ruleID)
	for id, resp := range m.responses {
		if resp.RuleID == ruleID && resp.Community == community {
			delete(m.responses, id)
		}
	}
	for id, ch := range m.channels {
		if ch.RuleID == ruleID && ch.Community == community {
			delete(m.channels, id)
		}
	}
	return nil
}

func (m *Memory) CreateResponse(ctx context.Context, row ResponseRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row.ID = m.id()
	m.responses[row.ID] = row
	return row.ID, nil
}

func (m *Memory) UpdateResponse(ctx context.Context, row ResponseRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.responses[row.ID]; !ok {
		return ErrNotFound
	}
	m.responses[row.ID] = row
	return nil
}

func (m *Memory) DeleteResponse(ctx context.Context, community string, responseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.responses[responseID]
	if !ok || row.Community != community {
		return ErrNotFound
	}
	delete(m.responses, responseID)
	return nil
}

func (m *Memory) CreateChannel(ctx context.Context, row ChannelRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row.ID = m.id()
	m.channels[row.ID] = row
	return row.ID, nil
}

func (m *Memory) DeleteChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for id, row := range m.channels {
		if row.Community == community && row.RuleID == ruleID && row.ChannelID == channelID && row.Kind == kind {
			delete(m.channels, id)
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) DeleteCommunity(ctx context.Context, community string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, row := range m.rules {
		if row.Community == community {
			delete(m.rules, id)
		}
	}
	for id, row := range m.responses {
		if row.Community == community {
			delete(m.responses, id)
		}
	}
	for id, row := range m.channels {
		if row.Community == community {
			delete(m.channels, id)
		}
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.config[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.config[key] = stored
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.config, key)
	return nil
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.config {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
