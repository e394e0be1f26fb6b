package health

import (
	stderrors "errors"
	"sync"
	"testing"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("store", Status{Component: "wrong-name", Status: StatusHealthy})

	got, ok := monitor.Get("store")
	if !ok {
		t.Fatal("component should exist after update")
	}
	if got.Component != "store" {
		t.Errorf("component name = %q, want store", got.Component)
	}
	if got.Timestamp.IsZero() {
		t.Error("Update should set timestamp")
	}
}

func TestMonitor_ProbeOverridesPushedStatus(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("hub-link", "stale")

	open := false
	monitor.Register("hub-link", func() Status {
		if open {
			return NewHealthy("", "connected")
		}
		return NewDegraded("", "reconnecting")
	})

	got, _ := monitor.Get("hub-link")
	if !got.IsDegraded() || got.Component != "hub-link" {
		t.Errorf("probe status = %+v, want degraded hub-link", got)
	}

	open = true
	got, _ = monitor.Get("hub-link")
	if !got.IsHealthy() {
		t.Errorf("probe status = %s, want healthy", got.Status)
	}

	if n := monitor.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestMonitor_AggregateHealth(t *testing.T) {
	tests := []struct {
		name string
		set  func(m *Monitor)
		want string
	}{
		{
			name: "empty is healthy",
			set:  func(*Monitor) {},
			want: StatusHealthy,
		},
		{
			name: "all healthy",
			set: func(m *Monitor) {
				m.UpdateHealthy("a", "ok")
				m.UpdateHealthy("b", "ok")
			},
			want: StatusHealthy,
		},
		{
			name: "degraded wins over healthy",
			set: func(m *Monitor) {
				m.UpdateHealthy("a", "ok")
				m.Register("b", func() Status { return NewDegraded("b", "slow") })
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			set: func(m *Monitor) {
				m.UpdateDegraded("a", "slow")
				m.UpdateUnhealthy("b", "down")
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			tt.set(m)
			got := m.AggregateHealth("rti-proxy")
			if got.Status != tt.want {
				t.Errorf("aggregate = %s, want %s", got.Status, tt.want)
			}
			if got.Component != "rti-proxy" {
				t.Errorf("component = %q", got.Component)
			}
		})
	}
}

func TestMonitor_AggregateSortedByName(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("zeta", "ok")
	m.Register("alpha", func() Status { return NewHealthy("", "ok") })
	m.UpdateHealthy("mid", "ok")

	got := m.AggregateHealth("sys")
	if len(got.SubStatuses) != 3 {
		t.Fatalf("sub statuses = %d, want 3", len(got.SubStatuses))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if got.SubStatuses[i].Component != want {
			t.Errorf("sub[%d] = %s, want %s", i, got.SubStatuses[i].Component, want)
		}
	}
}

func TestMonitor_Remove(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "ok")
	m.Register("b", func() Status { return NewHealthy("", "ok") })
	m.Remove("a")
	m.Remove("b")
	if m.Count() != 0 {
		t.Errorf("Count() = %d after removal", m.Count())
	}
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	m.Register("probe", func() Status { return NewHealthy("", "ok") })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateDegraded("pushed", "x")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("sys")
		}()
	}
	wg.Wait()
}

func TestFromError(t *testing.T) {
	if s := FromError("link", nil, false); !s.IsHealthy() {
		t.Errorf("nil error should be healthy, got %s", s.Status)
	}

	err := stderrors.New("dial ws://10.0.0.2:8581/socket.io/?token=abcdef&EIO=4: refused")
	s := FromError("link", err, true)
	if !s.IsDegraded() {
		t.Errorf("status = %s, want degraded", s.Status)
	}
	if s.Message != "dial [URL] refused" {
		t.Errorf("message = %q", s.Message)
	}
}
