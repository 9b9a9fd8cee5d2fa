package responder

import (
	"context"
	"fmt"
	"time"
)

// SweepExpired walks every community's persisted pending entries and
// expires the stale ones. A failure in one community never stops the sweep
// for the others. Intended to run on a fixed-interval schedule.
func (e *Engine) SweepExpired(ctx context.Context) {
	for _, id := range e.Communities() {
		e.sweepCommunity(ctx, id)
	}
}

func (e *Engine) sweepCommunity(ctx context.Context, community string) {
	expiry := e.configSeconds(ctx, expiryKey(community), defaultExpirySeconds)

	keys, err := e.config.Keys(ctx, pendingPrefix(community))
	if err != nil {
		e.logf("listing pending blobs for %s: %v", community, err)
		return
	}

	now := e.now().Unix()
	for _, key := range keys {
		expired, err := e.takeExpired(ctx, key, now, expiry)
		if err != nil {
			e.logf("sweeping %s: %v", key, err)
			continue
		}
		for _, entry := range expired {
			e.expire(ctx, entry)
		}
	}
}

// takeExpired removes the stale entries of one pending blob under the
// pending lock and returns them. Removal happens before any annotation so
// a concurrent moderator resolution cannot also win.
func (e *Engine) takeExpired(ctx context.Context, key string, now, expiry int64) ([]PendingAction, error) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	pending, err := e.readPending(ctx, key)
	if err != nil {
		return nil, err
	}

	var expired []PendingAction
	for id, entry := range pending {
		if now-entry.EventTime > expiry {
			expired = append(expired, entry)
			delete(pending, id)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}

	if err := e.writePending(ctx, key, pending); err != nil {
		return nil, err
	}
	return expired, nil
}

// expire marks one pending entry as expired: reactions cleared, a marker
// reaction added, the moderation message annotated.
func (e *Engine) expire(ctx context.Context, entry PendingAction) {
	if err := e.transport.ClearReactions(ctx, entry.ActionChannel, entry.ActionMessage); err != nil {
		e.logf("clearing reactions on expired %s: %v", entry.ActionMessage, err)
	}
	if err := e.transport.AddReaction(ctx, entry.ActionChannel, entry.ActionMessage, ReactionExpired); err != nil {
		e.logf("marking expired %s: %v", entry.ActionMessage, err)
	}

	elapsed := time.Duration(e.now().Unix()-entry.EventTime) * time.Second
	e.annotate(ctx, entry, []string{fmt.Sprintf("Expired. No action was taken for %s.", elapsed)})
}
