package responder

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
)

const deferredCacheSize = 2048

// deferredTracker remembers which sent responses belong to which trigger
// message so they can be retracted when the trigger is deleted. Entries
// live in memory only; a restart forgets them.
type deferredTracker struct {
	cache *lru.ARCCache
}

type deferredKey struct {
	community string
	channel   string
	messageID string
}

type deferredEntry struct {
	ruleID    int64
	responses []string
}

func newDeferredTracker() (*deferredTracker, error) {
	cache, err := lru.NewARC(deferredCacheSize)
	if err != nil {
		return nil, err
	}
	return &deferredTracker{cache: cache}, nil
}

// register adds one sent response under its trigger message.
func (t *deferredTracker) register(ruleID int64, community, channel, messageID, responseID string) {
	key := deferredKey{community: community, channel: channel, messageID: messageID}
	entry := deferredEntry{ruleID: ruleID}
	if v, ok := t.cache.Get(key); ok {
		entry = v.(deferredEntry)
	}
	entry.responses = append(entry.responses, responseID)
	t.cache.Add(key, entry)
}

// take consumes the entry for a trigger message. Absence is the normal
// outcome for messages the engine never responded to.
func (t *deferredTracker) take(community, channel, messageID string) (deferredEntry, bool) {
	key := deferredKey{community: community, channel: channel, messageID: messageID}
	v, ok := t.cache.Get(key)
	if !ok {
		return deferredEntry{}, false
	}
	t.cache.Remove(key)
	return v.(deferredEntry), true
}

// OnMessageDeleted retracts the responses tracked for a deleted trigger
// message. A second delivery of the same event is a no-op.
func (e *Engine) OnMessageDeleted(ctx context.Context, ev DeleteEvent) {
	entry, ok := e.deferred.take(ev.Community, ev.Channel, ev.MessageID)
	if !ok {
		return
	}
	for _, id := range entry.responses {
		if err := e.transport.DeleteMessage(ctx, ev.Channel, id); err != nil && err != ErrMessageNotFound {
			e.logf("retracting response %s/%s for rule %d: %v", ev.Channel, id, entry.ruleID, err)
		}
	}
}
