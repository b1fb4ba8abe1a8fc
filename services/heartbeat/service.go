// Package heartbeat periodically samples a bus engine and publishes its state
// and counters as a retained message on twi/stats.
package heartbeat

import (
	"context"
	"time"

	"twiengine/bus"
	"twiengine/errcode"
	"twiengine/twi"
	"twiengine/x/timex"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

// TopicStats carries the retained engine snapshot.
var TopicStats = bus.T("twi", "stats")

// Source is the engine being watched.
type Source interface {
	State() twi.State
	Stats() twi.Stats
}

type Service struct {
	Source Source
	// Interval between samples. Default 1 s; config/heartbeat {"interval": s}
	// changes it at runtime.
	Interval time.Duration
	// Quiet suppresses the console line.
	Quiet bool
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case t := <-tick.C:
			s.sample(conn, t)
		case msg := <-cfgSub.Channel():
			m, ok := msg.Payload.(map[string]any)
			if !ok {
				continue
			}
			if d, ok := seconds(m["interval"]); ok {
				tick.Reset(d)
				println("[heartbeat] interval set to", d.String())
			}
		}
	}
}

func (s *Service) sample(conn *bus.Connection, t time.Time) {
	state := s.Source.State()
	st := s.Source.Stats()
	conn.Publish(conn.NewMessage(TopicStats, map[string]any{
		"state":            state.String(),
		"transactions":     st.Transactions,
		"completed":        st.Completed,
		"dispatched":       st.Dispatched,
		"address_nacks":    st.AddressNacks,
		"data_nacks":       st.DataNacks,
		"arbitration_lost": st.ArbitrationLost,
		"bus_errors":       st.BusErrors,
		"faults":           st.Faults,
		"ts_ms":            timex.Ms(t),
	}, true))
	if !s.Quiet {
		println("[heartbeat]", t.Format("15:04:05"), state.String(),
			"tx", st.Transactions, "done", st.Completed, "queued", st.Dispatched,
			"faults", st.Faults)
	}
}

// seconds accepts a positive interval in seconds as a JSON number or int.
func seconds(v any) (time.Duration, bool) {
	var d time.Duration
	switch n := v.(type) {
	case float64:
		d = time.Duration(n * float64(time.Second))
	case int:
		d = time.Duration(n) * time.Second
	default:
		return 0, false
	}
	return d, d > 0
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Source == nil {
		return errcode.InvalidParams
	}
	go s.serviceLoop(ctx, conn)
	return nil
}
