package banchometrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	banchometrics "github.com/dantte-lp/gobancho/internal/metrics"
)

func TestCollectorRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := banchometrics.NewCollector(reg)

	c.Sessions.Set(3)
	c.NotifyMessages.Set(7)
	c.Logins.WithLabelValues(banchometrics.LoginResultOK).Inc()
	c.Requests.WithLabelValues(banchometrics.RequestKindBancho).Add(2)
	c.PacketsIn.WithLabelValues("OSU_PING").Inc()
	c.SessionsReaped.Inc()
	c.MessagesReaped.Add(5)
	c.RequestSeconds.Observe(0.01)
	c.RPCCalls.WithLabelValues("BanchoState/GetSession", banchometrics.RPCOutcomeOK).Inc()
	c.RPCSeconds.Observe(0.002)

	if got := testutil.ToFloat64(c.Sessions); got != 3 {
		t.Fatalf("sessions gauge = %v", got)
	}
	if got := testutil.ToFloat64(c.Logins.WithLabelValues(banchometrics.LoginResultOK)); got != 1 {
		t.Fatalf("logins counter = %v", got)
	}
	if got := testutil.ToFloat64(c.Requests.WithLabelValues(banchometrics.RequestKindBancho)); got != 2 {
		t.Fatalf("requests counter = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := map[string]bool{
		"gobancho_state_sessions":               false,
		"gobancho_state_notify_messages":        false,
		"gobancho_gateway_logins_total":         false,
		"gobancho_gateway_requests_total":       false,
		"gobancho_gateway_packets_total":        false,
		"gobancho_state_sessions_reaped_total":  false,
		"gobancho_state_messages_reaped_total":  false,
		"gobancho_gateway_request_seconds":      false,
		"gobancho_rpc_calls_total":              false,
		"gobancho_rpc_call_seconds":             false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("metric %s not registered", name)
		}
	}
}

func TestCollectorsOnSeparateRegistriesDoNotCollide(t *testing.T) {
	banchometrics.NewCollector(prometheus.NewRegistry())
	banchometrics.NewCollector(prometheus.NewRegistry())
}
