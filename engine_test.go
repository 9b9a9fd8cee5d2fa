package responder

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/gobridge/responder/store"
)

type msgRef struct {
	channel string
	id      string
}

type sentMessage struct {
	channel string
	text    string
	opts    SendOptions
	id      string
}

// fakeTransport records every outbound call and keeps a live view of the
// messages the engine sent, so deletes and edits can be asserted against.
type fakeTransport struct {
	mu sync.Mutex

	nextID    int
	sent      []sentMessage
	dms       map[string][]string
	deleted   map[msgRef]int
	reactions map[msgRef][]string
	messages  map[msgRef]string

	sendFailures int
	dmErr        error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		dms:       make(map[string][]string),
		deleted:   make(map[msgRef]int),
		reactions: make(map[msgRef][]string),
		messages:  make(map[msgRef]string),
	}
}

func (f *fakeTransport) SendMessage(ctx context.Context, channel, text string, opts SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendFailures > 0 {
		f.sendFailures--
		return "", context.DeadlineExceeded
	}
	f.nextID++
	id := messageID(f.nextID)
	f.sent = append(f.sent, sentMessage{channel: channel, text: text, opts: opts, id: id})
	f.messages[msgRef{channel, id}] = text
	return id, nil
}

func messageID(n int) string {
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return "msg-" + digits
}

func (f *fakeTransport) SendDirectMessage(ctx context.Context, user, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dmErr != nil {
		return f.dmErr
	}
	f.dms[user] = append(f.dms[user], text)
	return nil
}

func (f *fakeTransport) UpdateMessage(ctx context.Context, channel, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := msgRef{channel, messageID}
	if _, ok := f.messages[ref]; !ok {
		return ErrMessageNotFound
	}
	f.messages[ref] = text
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, channel, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := msgRef{channel, messageID}
	if _, ok := f.messages[ref]; !ok {
		return ErrMessageNotFound
	}
	delete(f.messages, ref)
	f.deleted[ref]++
	return nil
}

func (f *fakeTransport) AddReaction(ctx context.Context, channel, messageID, reaction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := msgRef{channel, messageID}
	f.reactions[ref] = append(f.reactions[ref], reaction)
	return nil
}

func (f *fakeTransport) ClearReactions(ctx context.Context, channel, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.reactions, msgRef{channel, messageID})
	return nil
}

func (f *fakeTransport) FetchMessage(ctx context.Context, channel, messageID string) (FetchedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	text, ok := f.messages[msgRef{channel, messageID}]
	if !ok {
		return FetchedMessage{}, ErrMessageNotFound
	}
	return FetchedMessage{Text: text}, nil
}

func (f *fakeTransport) Permalink(ctx context.Context, channel, messageID string) (string, error) {
	return "https://chat.example/" + channel + "/" + messageID, nil
}

func (f *fakeTransport) sentTo(channel string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []sentMessage
	for _, m := range f.sent {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// seed puts a live message into the fake so the engine can fetch or
// delete it.
func (f *fakeTransport) seed(channel, id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msgRef{channel, id}] = text
}

var testBase = time.Unix(1500000000, 0)

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *fakeTransport) {
	t.Helper()

	mem := store.NewMemory()
	ft := newFakeTransport()
	e, err := NewEngine(mem, mem, ft,
		WithLogger(t.Logf),
		WithClock(func() time.Time { return testBase }),
		WithRandom(func() float64 { return 0 }),
		WithRetryPolicy(3, 0),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, mem, ft
}

func mustJoin(t *testing.T, e *Engine, community string) {
	t.Helper()
	if err := e.JoinCommunity(context.Background(), community); err != nil {
		t.Fatalf("JoinCommunity(%s): %v", community, err)
	}
}

func seedRule(t *testing.T, mem *store.Memory, community, trigger string, flags Flags, responses map[ResponseKind][]string) int64 {
	t.Helper()
	ctx := context.Background()

	ruleID, err := mem.CreateRule(ctx, store.RuleRow{
		Community: community,
		Trigger:   trigger,
		Flags:     int64(flags),
		Chance:    chanceScale,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	for kind, texts := range responses {
		for _, text := range texts {
			_, err := mem.CreateResponse(ctx, store.ResponseRow{
				Community: community,
				RuleID:    ruleID,
				Kind:      string(kind),
				Text:      text,
				Active:    true,
			})
			if err != nil {
				t.Fatalf("CreateResponse: %v", err)
			}
		}
	}
	return ruleID
}

func bindChannel(t *testing.T, mem *store.Memory, community string, ruleID int64, channelID, kind string) {
	t.Helper()
	_, err := mem.CreateChannel(context.Background(), store.ChannelRow{
		Community: community,
		RuleID:    ruleID,
		ChannelID: channelID,
		Kind:      kind,
	})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
}

func testMessage(channel, id, text string) Message {
	return Message{
		Community: "T1",
		Channel:   channel,
		ID:        id,
		Author:    "U42",
		Text:      text,
		Time:      testBase,
	}
}

func TestOnMessageRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("replies in the triggering channel by default", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "well hello friend"), false)

		sent := ft.sentTo("C1")
		if len(sent) != 1 {
			t.Fatalf("expected 1 message in C1, got %d", len(sent))
		}
		if sent[0].text != "hi there" {
			t.Errorf("expected: %q\nactual:%q", "hi there", sent[0].text)
		}
	})

	t.Run("bound response channel wins over the triggering channel", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		ruleID := seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		bindChannel(t, mem, "T1", ruleID, "C9", store.ChannelResponse)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if got := ft.sentTo("C1"); len(got) != 0 {
			t.Fatalf("expected nothing in the triggering channel, got %d messages", len(got))
		}
		if got := ft.sentTo("C9"); len(got) != 1 {
			t.Fatalf("expected 1 message in the bound channel, got %d", len(got))
		}
	})

	t.Run("inactive rules never fire", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", 0, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if len(ft.sentTo("C1")) != 0 {
			t.Error("inactive rule produced a reply")
		}
	})

	t.Run("ignore_mod skips moderator authors", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive|FlagIgnoreModerators, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), true)
		if len(ft.sentTo("C1")) != 0 {
			t.Error("rule fired for a moderator author")
		}

		e.OnMessage(ctx, testMessage("C1", "1000.2", "hello"), false)
		if len(ft.sentTo("C1")) != 1 {
			t.Error("rule did not fire for an ordinary author")
		}
	})

	t.Run("listen set restricts matching channels", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		ruleID := seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		bindChannel(t, mem, "T1", ruleID, "C2", store.ChannelListen)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)
		if len(ft.sentTo("C1")) != 0 {
			t.Error("rule fired outside its listen set")
		}

		e.OnMessage(ctx, testMessage("C2", "1000.2", "hello"), false)
		if len(ft.sentTo("C2")) != 1 {
			t.Error("rule did not fire inside its listen set")
		}
	})

	t.Run("globally ignored channels are silent", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		bindChannel(t, mem, "T1", 0, "C1", store.ChannelIgnore)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)
		if len(ft.sentTo("C1")) != 0 {
			t.Error("rule fired in a globally ignored channel")
		}
	})

	t.Run("use_reply threads the response on the trigger", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive|FlagUseReplyLink, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		sent := ft.sentTo("C1")
		if len(sent) != 1 {
			t.Fatalf("expected 1 message, got %d", len(sent))
		}
		if sent[0].opts.ThreadID != "1000.1" {
			t.Errorf("expected reply threaded on 1000.1, got %q", sent[0].opts.ThreadID)
		}
	})
}

func TestOnMessageDMResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers by DM", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive|FlagDMResponse, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if len(ft.dms["U42"]) != 1 {
			t.Fatalf("expected 1 DM, got %d", len(ft.dms["U42"]))
		}
		if len(ft.sentTo("C1")) != 0 {
			t.Error("DM response also posted publicly")
		}
	})

	t.Run("a refused DM is logged, not sent publicly", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		ft.dmErr = context.DeadlineExceeded
		seedRule(t, mem, "T1", "hello", FlagActive|FlagDMResponse, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		bindChannel(t, mem, "T1", 0, "CLOG", store.ChannelLog)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if len(ft.sentTo("C1")) != 0 {
			t.Error("refused DM fell back to the public channel")
		}
		if len(ft.sentTo("CLOG")) != 1 {
			t.Fatalf("expected a failure notice in the log channel, got %d messages", len(ft.sentTo("CLOG")))
		}
	})
}

func TestChanceGate(t *testing.T) {
	ctx := context.Background()

	t.Run("chance 1.0 always sends", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")

		for i := 0; i < 50; i++ {
			e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)
		}
		if len(ft.sentTo("C1")) != 50 {
			t.Errorf("expected 50 sends, got %d", len(ft.sentTo("C1")))
		}
	})

	t.Run("send rate converges to the configured chance", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		rnd := rand.New(rand.NewSource(1))
		e.randFloat = rnd.Float64

		ruleID := seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		mustJoin(t, e, "T1")
		if err := e.SetChance(ctx, "T1", ruleID, 0.3); err != nil {
			t.Fatalf("SetChance: %v", err)
		}

		const trials = 2000
		for i := 0; i < trials; i++ {
			e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)
		}

		rate := float64(len(ft.sentTo("C1"))) / trials
		if rate < 0.25 || rate > 0.35 {
			t.Errorf("expected send rate near 0.3, got %v", rate)
		}
	})
}

func TestLogResponses(t *testing.T) {
	ctx := context.Background()

	t.Run("log responses go to the bound log channel", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		ruleID := seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
			ResponseLog:    {"{author} said hello in {channel}"},
		})
		bindChannel(t, mem, "T1", ruleID, "CLOG", store.ChannelLog)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		logged := ft.sentTo("CLOG")
		if len(logged) != 1 {
			t.Fatalf("expected 1 log message, got %d", len(logged))
		}
		expected := "<@U42> said hello in <#C1>"
		if logged[0].text != expected {
			t.Errorf("expected: %q\nactual:%q", expected, logged[0].text)
		}
	})

	t.Run("log_only rules fall back to the community log channel", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive|FlagLogOnly, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		bindChannel(t, mem, "T1", 0, "CLOG", store.ChannelLog)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if len(ft.sentTo("C1")) != 0 {
			t.Error("log_only rule replied publicly")
		}
		if len(ft.sentTo("CLOG")) != 1 {
			t.Errorf("expected the public text in the community log channel, got %d messages", len(ft.sentTo("CLOG")))
		}
	})
}

func TestLogOnlyStopsAfterLogging(t *testing.T) {
	ctx := context.Background()

	t.Run("no mod notification", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		ruleID := seedRule(t, mem, "T1", "hello", FlagActive|FlagLogOnly, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
			ResponseMod:    {"heads up"},
		})
		bindChannel(t, mem, "T1", ruleID, "CNOTIFY", store.ChannelMod)
		bindChannel(t, mem, "T1", 0, "CLOG", store.ChannelLog)
		mustJoin(t, e, "T1")

		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if len(ft.sentTo("CLOG")) != 1 {
			t.Fatalf("expected the log send, got %d messages", len(ft.sentTo("CLOG")))
		}
		if len(ft.sentTo("CNOTIFY")) != 0 {
			t.Error("log_only rule sent a mod notification")
		}
		if len(ft.sentTo("C1")) != 0 {
			t.Error("log_only rule replied publicly")
		}
	})

	t.Run("no trigger deletion", func(t *testing.T) {
		e, mem, ft := newTestEngine(t)
		seedRule(t, mem, "T1", "hello", FlagActive|FlagLogOnly|FlagDeleteTrigger, map[ResponseKind][]string{
			ResponsePublic: {"hi there"},
		})
		bindChannel(t, mem, "T1", 0, "CLOG", store.ChannelLog)
		mustJoin(t, e, "T1")

		ft.seed("C1", "1000.1", "hello")
		e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)

		if ft.deleted[msgRef{"C1", "1000.1"}] != 0 {
			t.Error("log_only rule deleted the trigger")
		}
	})
}

func TestDeleteTriggerFlag(t *testing.T) {
	e, mem, ft := newTestEngine(t)
	seedRule(t, mem, "T1", "hello", FlagActive|FlagDeleteTrigger, map[ResponseKind][]string{
		ResponsePublic: {"hi there"},
	})
	mustJoin(t, e, "T1")

	ft.seed("C1", "1000.1", "hello")
	e.OnMessage(context.Background(), testMessage("C1", "1000.1", "hello"), false)

	if ft.deleted[msgRef{"C1", "1000.1"}] != 1 {
		t.Error("trigger message was not deleted")
	}
}

func TestReloadSkipsBrokenRules(t *testing.T) {
	ctx := context.Background()
	e, mem, ft := newTestEngine(t)

	seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
		ResponsePublic: {"first"},
	})
	// Same trigger again: the duplicate is skipped on reload.
	seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
		ResponsePublic: {"second"},
	})
	// A list-shaped trigger that is not valid JSON is skipped too.
	seedRule(t, mem, "T1", "[broken", FlagActive, map[ResponseKind][]string{
		ResponsePublic: {"third"},
	})
	mustJoin(t, e, "T1")

	if got := len(e.Rules("T1")); got != 1 {
		t.Fatalf("expected 1 loaded rule, got %d", got)
	}

	e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)
	sent := ft.sentTo("C1")
	if len(sent) != 1 || sent[0].text != "first" {
		t.Errorf("expected only the first rule to answer, got %v", sent)
	}
}

func TestLeaveCommunity(t *testing.T) {
	ctx := context.Background()
	e, mem, ft := newTestEngine(t)

	seedRule(t, mem, "T1", "hello", FlagActive, map[ResponseKind][]string{
		ResponsePublic: {"hi there"},
	})
	mustJoin(t, e, "T1")

	if err := e.SetConfigSeconds(ctx, ExpiryKey("T1"), 3600); err != nil {
		t.Fatalf("SetConfigSeconds: %v", err)
	}

	if err := e.LeaveCommunity(ctx, "T1"); err != nil {
		t.Fatalf("LeaveCommunity: %v", err)
	}

	e.OnMessage(ctx, testMessage("C1", "1000.1", "hello"), false)
	if len(ft.sentTo("C1")) != 0 {
		t.Error("left community still answers")
	}

	rows, err := mem.Rules(ctx, "T1")
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no persisted rules after leave, got %d", len(rows))
	}
	if _, err := mem.Get(ctx, ExpiryKey("T1")); err != store.ErrNotFound {
		t.Errorf("expected config cleanup on leave, got %v", err)
	}
}
