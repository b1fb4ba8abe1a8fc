package bus

import (
	"context"
	"testing"
	"time"
)

var (
	gpio0    = T("expander", 0, "gpio")
	gpio1    = T("expander", 1, "gpio")
	state0   = T("expander", 0, "state")
	stats    = T("twi", "stats")
	hbConfig = T("config", "heartbeat")
)

func gpio(ab int) map[string]any { return map[string]any{"ab": ab} }

// -----------------------------------------------------------------------------
// Retained state
// -----------------------------------------------------------------------------

func TestRetained_ReplayedThroughWildcards(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(gpio0, gpio(0x0102), true))
	c.Publish(b.NewMessage(gpio1, gpio(0x0304), true))
	c.Publish(b.NewMessage(state0, map[string]any{"level": "ready"}, true))
	c.Publish(b.NewMessage(stats, map[string]any{"completed": 7}, true))

	cases := []struct {
		pattern Topic
		want    []Topic
	}{
		{T("expander", "+", "gpio"), []Topic{gpio0, gpio1}},
		{T("expander", 0, "+"), []Topic{gpio0, state0}},
		{T("expander", "#"), []Topic{gpio0, gpio1, state0}},
		{T("#"), []Topic{gpio0, gpio1, state0, stats}},
		{T("twi", "stats", "#"), []Topic{stats}}, // "#" also matches no levels
		{T("twi", "+"), []Topic{stats}},
		{T("expander", "+"), nil},
		{T("expander", 2, "gpio"), nil},
	}
	for _, tc := range cases {
		sub := c.Subscribe(tc.pattern)
		got := drainTopics(t, sub, len(tc.want))
		if !sameTopics(got, tc.want) {
			t.Fatalf("%v replayed %v, want %v", tc.pattern, got, tc.want)
		}
		expectNone(t, sub)
		c.Unsubscribe(sub)
	}
}

func TestRetained_LatestWins(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(gpio0, gpio(0x0001), true))
	c.Publish(b.NewMessage(gpio0, gpio(0x0042), true))
	c.Publish(b.NewMessage(gpio0, gpio(0x0043), false)) // live only

	sub := c.Subscribe(gpio0)
	expectAB(t, sub, 0x0042)
	expectNone(t, sub)
}

func TestRetained_NilPayloadClears(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	live := c.Subscribe(T("twi", "#"))

	c.Publish(b.NewMessage(stats, map[string]any{"completed": 1}, true))
	c.Publish(b.NewMessage(stats, nil, true))

	// Live subscribers see both, including the clearing message.
	if got := drainTopics(t, live, 2); !sameTopics(got, []Topic{stats, stats}) {
		t.Fatalf("live got %v", got)
	}

	late := c.Subscribe(T("twi", "+"))
	expectNone(t, late)

	// The pruned topic can be retained again.
	c.Publish(b.NewMessage(stats, map[string]any{"completed": 2}, true))
	again := c.Subscribe(stats)
	select {
	case m := <-again.Channel():
		if m.Payload.(map[string]any)["completed"] != 2 {
			t.Fatalf("payload %v", m.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("retained message not restored")
	}
}

func TestRetained_ClearUnknownTopic(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	c.Publish(b.NewMessage(gpio0, gpio(1), true))
	c.Publish(b.NewMessage(T("expander", 0, "gpio", "extra"), nil, true))

	sub := c.Subscribe(gpio0)
	expectAB(t, sub, 1)
}

// -----------------------------------------------------------------------------
// Live delivery
// -----------------------------------------------------------------------------

func TestLive_WildcardLevels(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")

	anyGPIO := c.Subscribe(T("expander", "+", "gpio"))
	allExp := c.Subscribe(T("expander", "#"))
	exact := c.Subscribe(gpio1)
	config := c.Subscribe(T("config", "+"))

	c.Publish(b.NewMessage(gpio1, gpio(0x0100), false))
	expectAB(t, anyGPIO, 0x0100)
	expectAB(t, allExp, 0x0100)
	expectAB(t, exact, 0x0100)
	expectNone(t, config)

	// Tokens are typed: the string "1" is not the int 1.
	c.Publish(b.NewMessage(T("expander", "1", "gpio"), gpio(2), false))
	expectAB(t, anyGPIO, 2)
	expectAB(t, allExp, 2)
	expectNone(t, exact)

	c.Publish(b.NewMessage(hbConfig, map[string]any{"interval": 5}, false))
	select {
	case m := <-config.Channel():
		if !m.Topic.Equal(hbConfig) {
			t.Fatalf("topic %v", m.Topic)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("config not delivered")
	}
	expectNone(t, allExp)
}

func TestLive_DropOldestWhenFull(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(gpio0)
	for ab := 1; ab <= 3; ab++ {
		c.Publish(b.NewMessage(gpio0, gpio(ab), false))
	}
	expectAB(t, sub, 2)
	expectAB(t, sub, 3)
	expectNone(t, sub)
}

func TestUnsubscribe_ClosesOnce(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	sub := c.Subscribe(state0)
	sub.Unsubscribe()
	sub.Unsubscribe()
	if _, ok := <-sub.Channel(); ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	c.Publish(b.NewMessage(state0, "ready", false))
}

func TestDisconnect_ClosesAll(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("svc")
	s1 := c.Subscribe(gpio0)
	s2 := c.Subscribe(T("expander", 0, "ctl", "+"))
	c.Disconnect()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%v still open", s.Topic())
		}
	}
	c.Unsubscribe(s1) // no double close
}

// -----------------------------------------------------------------------------
// Request / reply
// -----------------------------------------------------------------------------

// serveCtl answers expander/0/ctl/<method> with the method name.
func serveCtl(t *testing.T, b *Bus) {
	t.Helper()
	svc := b.NewConnection("expander")
	sub := svc.Subscribe(T("expander", 0, "ctl", "+"))
	t.Cleanup(svc.Disconnect)
	go func() {
		for m := range sub.Channel() {
			method, _ := m.Topic.At(3).(string)
			svc.Reply(m, map[string]any{"ok": true, "method": method}, false)
		}
	}()
}

func TestRequestWait_ControlPattern(t *testing.T) {
	b := NewBus(8)
	serveCtl(t, b)
	ui := b.NewConnection("ui")

	for _, method := range []string{"read_all", "pin_mode"} {
		req := b.NewMessage(T("expander", 0, "ctl", method), nil, false)
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		reply, err := ui.RequestWait(ctx, req)
		cancel()
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if p := reply.Payload.(map[string]any); p["method"] != method {
			t.Fatalf("%s: reply %v", method, p)
		}
		if !req.CanReply() || req.ReplyTo.At(0) != "_reply" || req.ReplyTo.At(1) != "ui" {
			t.Fatalf("ReplyTo = %v", req.ReplyTo)
		}
		if !reply.Topic.Equal(req.ReplyTo) {
			t.Fatalf("reply topic %v != ReplyTo %v", reply.Topic, req.ReplyTo)
		}
	}
}

func TestRequestWait_NoResponder(t *testing.T) {
	b := NewBus(4)
	ui := b.NewConnection("ui")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := ui.RequestWait(ctx, b.NewMessage(hbConfig, nil, false)); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRequest_DistinctReplyTopics(t *testing.T) {
	b := NewBus(4)
	serveCtl(t, b)
	ui := b.NewConnection("ui")

	r1 := b.NewMessage(T("expander", 0, "ctl", "read"), nil, false)
	r2 := b.NewMessage(T("expander", 0, "ctl", "write"), nil, false)
	s1 := ui.Request(r1)
	s2 := ui.Request(r2)
	defer ui.Unsubscribe(s1)
	defer ui.Unsubscribe(s2)

	if r1.ReplyTo.Equal(r2.ReplyTo) {
		t.Fatalf("shared reply topic %v", r1.ReplyTo)
	}
	for sub, want := range map[*Subscription]string{s1: "read", s2: "write"} {
		select {
		case m := <-sub.Channel():
			if m.Payload.(map[string]any)["method"] != want {
				t.Fatalf("reply %v, want %s", m.Payload, want)
			}
		case <-time.After(300 * time.Millisecond):
			t.Fatalf("no reply for %s", want)
		}
	}
}

func TestReply_WithoutReplyTo(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	msg := b.NewMessage(state0, nil, false)
	if msg.CanReply() || c.Reply(msg, "ok", false) {
		t.Fatal("Reply succeeded without ReplyTo")
	}
}

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

func TestTopic_AppendAt(t *testing.T) {
	base := T("expander", 0)
	ctl := base.Append("ctl", "pin_mode")
	if base.Len() != 2 || ctl.Len() != 4 {
		t.Fatalf("Append modified base or lost tokens: %v %v", base, ctl)
	}
	if ctl.At(1) != 0 || ctl.At(3) != "pin_mode" || ctl.At(9) != nil || ctl.At(-1) != nil {
		t.Fatalf("At: %v", ctl)
	}
	if !ctl.Equal(T("expander", 0, "ctl", "pin_mode")) || ctl.Equal(base) {
		t.Fatal("Equal")
	}
}

func TestTopic_InvalidTokensPanic(t *testing.T) {
	for name, tok := range map[string]Token{"slice": []byte{1}, "nil": nil} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s token accepted", name)
				}
			}()
			_ = T("expander", tok)
		}()
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectAB(t *testing.T, sub *Subscription, want int) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok || p["ab"] != want {
			t.Fatalf("payload %v, want ab=%#x", m.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for ab=%#x", want)
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message on %v: %v", m.Topic, m.Payload)
	case <-time.After(40 * time.Millisecond):
	}
}

func drainTopics(t *testing.T, sub *Subscription, n int) []Topic {
	t.Helper()
	var out []Topic
	for len(out) < n {
		select {
		case m := <-sub.Channel():
			out = append(out, m.Topic)
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("got %d of %d messages: %v", len(out), n, out)
		}
	}
	return out
}

// sameTopics compares as multisets.
func sameTopics(got, want []Topic) bool {
	if len(got) != len(want) {
		return false
	}
	used := make([]bool, len(want))
next:
	for _, g := range got {
		for i, w := range want {
			if !used[i] && g.Equal(w) {
				used[i] = true
				continue next
			}
		}
		return false
	}
	return true
}
