package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTicketPoll(PollTimeout)
	c.RecordTicketPoll(PollTimeout)
	c.RecordTicketPoll(PollResolved)
	c.RecordMessages(SourceHistory, 3)
	c.RecordMessages(SourceLive, 1)
	c.RecordMessages(SourceLive, 0)
	c.RecordDuplicate()
	c.RecordKeepalive()
	c.RecordNotification("thread_leaved")
	c.RecordReconnect("messages")
	c.RecordMatchLatency(2 * time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(c.ticketPolls.WithLabelValues(PollTimeout)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.ticketPolls.WithLabelValues(PollResolved)))
	require.Equal(t, 3.0, testutil.ToFloat64(c.messages.WithLabelValues(SourceHistory)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.messages.WithLabelValues(SourceLive)))
	require.Equal(t, 1.0, testutil.ToFloat64(c.duplicates))
	require.Equal(t, 1.0, testutil.ToFloat64(c.keepalives))
	require.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("thread_leaved")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.reconnects.WithLabelValues("messages")))
	require.Equal(t, 1, testutil.CollectAndCount(c.matchLatency))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	require.NotPanics(t, func() {
		c.RecordTicketPoll(PollError)
		c.RecordMatchLatency(time.Second)
		c.RecordMessages(SourceLive, 1)
		c.RecordDuplicate()
		c.RecordKeepalive()
		c.RecordNotification("x")
		c.RecordReconnect("notifications")
	})
}

func TestSetupMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordKeepalive()

	rec := httptest.NewRecorder()
	SetupMetricsRoute(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "randchat_keepalives_total 1")
}

func TestIndependentRegistries(t *testing.T) {
	c1 := NewCollector(prometheus.NewRegistry())
	c2 := NewCollector(prometheus.NewRegistry())

	c1.RecordDuplicate()
	c2.RecordDuplicate()
	c2.RecordDuplicate()

	require.Equal(t, 1.0, testutil.ToFloat64(c1.duplicates))
	require.Equal(t, 2.0, testutil.ToFloat64(c2.duplicates))
}
