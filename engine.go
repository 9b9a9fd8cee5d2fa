// Package responder implements the trigger-response engine: user-authored
// rules compiled into match patterns, per-community evaluation of inbound
// messages, response routing, and the moderator-gated action workflow with
// its persisted pending state.
package responder

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/gobridge/responder/store"
)

// Logger function
type Logger func(message string, args ...interface{})

const (
	defaultExpirySeconds   = 86400
	defaultColdPingSeconds = 600
	defaultRetryAttempts   = 10
	defaultRetryBackoff    = time.Second
)

// community is the per-community rule table. Tables are replaced wholesale
// on reload; a loaded table is never mutated.
type community struct {
	id           string
	rules        []*Rule
	globalIgnore map[string]bool
	logChannel   string
}

// Engine owns the rule tables and evaluates every inbound event against
// them. All persistent state lives in the two stores; the in-memory tables
// are caches rebuilt by Reload.
type Engine struct {
	rules     store.RuleStore
	config    store.ConfigStore
	transport Transport
	logf      Logger

	now       func() time.Time
	randFloat func() float64

	retryAttempts int
	retryBackoff  time.Duration

	firstMatchOnly bool

	mu          sync.RWMutex
	communities map[string]*community

	// pendingMu serializes every read-modify-write of the pending
	// moderation blobs. ConfigStore has no compare-and-swap, so without
	// it two concurrent resolutions, or a resolution racing the sweep,
	// could both read a blob before either writes it back.
	pendingMu sync.Mutex

	deferred *deferredTracker
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's log function.
func WithLogger(logf Logger) Option {
	return func(e *Engine) { e.logf = logf }
}

// WithClock sets the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRandom sets the engine's uniform [0,1) source.
func WithRandom(randFloat func() float64) Option {
	return func(e *Engine) { e.randFloat = randFloat }
}

// WithRetryPolicy sets the bounded-retry parameters used when posting
// moderation messages and attaching their reactions.
func WithRetryPolicy(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.retryAttempts = attempts
		e.retryBackoff = backoff
	}
}

// WithFirstMatchOnly stops the rule walk at the first matching rule,
// suppressing later rules' log side effects as well.
func WithFirstMatchOnly() Option {
	return func(e *Engine) { e.firstMatchOnly = true }
}

// NewEngine constructs an Engine. Communities must be joined before their
// messages are evaluated.
func NewEngine(rules store.RuleStore, config store.ConfigStore, transport Transport, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:         rules,
		config:        config,
		transport:     transport,
		logf:          log.Printf,
		now:           time.Now,
		randFloat:     rand.Float64,
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
		communities:   make(map[string]*community),
	}
	for _, opt := range opts {
		opt(e)
	}

	deferred, err := newDeferredTracker()
	if err != nil {
		return nil, err
	}
	e.deferred = deferred
	return e, nil
}

// JoinCommunity registers a community and loads its rules.
func (e *Engine) JoinCommunity(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.communities[id]; !ok {
		e.communities[id] = &community{id: id}
	}
	e.mu.Unlock()

	return e.Reload(ctx, id)
}

// LeaveCommunity drops a community's rule table and removes everything it
// persisted: rules, per-community config and pending moderation blobs.
func (e *Engine) LeaveCommunity(ctx context.Context, id string) error {
	e.mu.Lock()
	delete(e.communities, id)
	e.mu.Unlock()

	if err := e.rules.DeleteCommunity(ctx, id); err != nil {
		return fmt.Errorf("deleting rules for %s: %v", id, err)
	}

	for _, key := range []string{expiryKey(id), coldPingKey(id)} {
		if err := e.config.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting config %s: %v", key, err)
		}
	}

	keys, err := e.config.Keys(ctx, pendingPrefix(id))
	if err != nil {
		return fmt.Errorf("listing pending blobs for %s: %v", id, err)
	}
	for _, key := range keys {
		if err := e.config.Delete(ctx, key); err != nil {
			return fmt.Errorf("deleting pending blob %s: %v", key, err)
		}
	}
	return nil
}

// Communities lists the joined community IDs.
func (e *Engine) Communities() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.communities))
	for id := range e.communities {
		ids = append(ids, id)
	}
	return ids
}

// Reload rebuilds a community's rule table from the store and swaps it in
// atomically. Rules whose triggers fail to parse or compile, and rules
// duplicating an earlier rule's trigger, are logged and skipped.
func (e *Engine) Reload(ctx context.Context, id string) error {
	e.mu.RLock()
	_, joined := e.communities[id]
	e.mu.RUnlock()
	if !joined {
		return fmt.Errorf("community %s not joined", id)
	}

	ruleRows, err := e.rules.Rules(ctx, id)
	if err != nil {
		return fmt.Errorf("loading rules for %s: %v", id, err)
	}
	respRows, err := e.rules.Responses(ctx, id)
	if err != nil {
		return fmt.Errorf("loading responses for %s: %v", id, err)
	}
	chanRows, err := e.rules.Channels(ctx, id)
	if err != nil {
		return fmt.Errorf("loading channels for %s: %v", id, err)
	}

	c := e.buildCommunity(id, ruleRows, respRows, chanRows)

	e.mu.Lock()
	if _, ok := e.communities[id]; ok {
		e.communities[id] = c
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) buildCommunity(id string, ruleRows []store.RuleRow, respRows []store.ResponseRow, chanRows []store.ChannelRow) *community {
	c := &community{
		id:           id,
		globalIgnore: make(map[string]bool),
	}

	byRule := make(map[int64]map[ResponseKind][]Response)
	for _, row := range respRows {
		if byRule[row.RuleID] == nil {
			byRule[row.RuleID] = make(map[ResponseKind][]Response)
		}
		kind := ResponseKind(row.Kind)
		byRule[row.RuleID][kind] = append(byRule[row.RuleID][kind], Response{
			ID:     row.ID,
			Text:   row.Text,
			Active: row.Active,
		})
	}

	type channelSets struct {
		response string
		listen   map[string]bool
		logs     map[string]bool
		ignore   map[string]bool
		mod      map[string]bool
	}
	channels := make(map[int64]*channelSets)
	for _, row := range chanRows {
		if row.RuleID == 0 {
			switch row.Kind {
			case store.ChannelIgnore:
				c.globalIgnore[row.ChannelID] = true
			case store.ChannelLog:
				c.logChannel = row.ChannelID
			}
			continue
		}
		cs := channels[row.RuleID]
		if cs == nil {
			cs = &channelSets{
				listen: make(map[string]bool),
				logs:   make(map[string]bool),
				ignore: make(map[string]bool),
				mod:    make(map[string]bool),
			}
			channels[row.RuleID] = cs
		}
		switch row.Kind {
		case store.ChannelResponse:
			cs.response = row.ChannelID
		case store.ChannelListen:
			cs.listen[row.ChannelID] = true
		case store.ChannelLog:
			cs.logs[row.ChannelID] = true
		case store.ChannelIgnore:
			cs.ignore[row.ChannelID] = true
		case store.ChannelMod:
			cs.mod[row.ChannelID] = true
		}
	}

	seen := make(map[string]int64)
	for _, row := range ruleRows {
		spec, err := ParseTrigger(row.Trigger)
		if err != nil {
			e.logf("skipping rule %d in %s: %v", row.ID, id, err)
			continue
		}
		if prev, ok := seen[spec.Raw()]; ok {
			e.logf("skipping rule %d in %s: duplicate of rule %d", row.ID, id, prev)
			continue
		}

		rule := &Rule{
			ID:        row.ID,
			Community: id,
			Trigger:   spec,
			Flags:     Flags(row.Flags),
			Chance:    float64(row.Chance) / chanceScale,
			Responses: byRule[row.ID],
		}
		if rule.Responses == nil {
			rule.Responses = make(map[ResponseKind][]Response)
		}
		if cs := channels[row.ID]; cs != nil {
			rule.ResponseChannel = cs.response
			rule.ListenChannels = cs.listen
			rule.LogChannels = cs.logs
			rule.IgnoreChannels = cs.ignore
			rule.ModChannels = cs.mod
		} else {
			rule.ListenChannels = make(map[string]bool)
			rule.LogChannels = make(map[string]bool)
			rule.IgnoreChannels = make(map[string]bool)
			rule.ModChannels = make(map[string]bool)
		}

		if err := rule.compilePatterns(); err != nil {
			e.logf("skipping rule %d in %s: %v", row.ID, id, err)
			continue
		}

		seen[spec.Raw()] = row.ID
		c.rules = append(c.rules, rule)
	}
	return c
}

// community returns the current table for id, nil when not joined.
func (e *Engine) community(id string) *community {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.communities[id]
}

// Rules returns a snapshot of a community's loaded rules in evaluation
// order.
func (e *Engine) Rules(id string) []*Rule {
	c := e.community(id)
	if c == nil {
		return nil
	}
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// ruleByID finds a loaded rule, nil when absent.
func (c *community) ruleByID(id int64) *Rule {
	for _, rule := range c.rules {
		if rule.ID == id {
			return rule
		}
	}
	return nil
}

func expiryKey(community string) string   { return "expiry/" + community }
func coldPingKey(community string) string { return "coldping/" + community }

// configSeconds reads a per-community duration stored in seconds.
func (e *Engine) configSeconds(ctx context.Context, key string, def int64) int64 {
	value, err := e.config.Get(ctx, key)
	if err == store.ErrNotFound {
		return def
	}
	if err != nil {
		e.logf("reading config %s: %v", key, err)
		return def
	}
	seconds, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		e.logf("config %s is not a number: %v", key, err)
		return def
	}
	return seconds
}

// SetConfigSeconds writes a per-community duration in seconds. Used by the
// command surface for the expiry and cold-mention thresholds.
func (e *Engine) SetConfigSeconds(ctx context.Context, key string, seconds int64) error {
	return e.config.Set(ctx, key, []byte(strconv.FormatInt(seconds, 10)))
}

// ExpiryKey returns the config key for a community's pending-action expiry.
func ExpiryKey(community string) string { return expiryKey(community) }

// ColdPingKey returns the config key for a community's cold-mention age
// threshold.
func ColdPingKey(community string) string { return coldPingKey(community) }
