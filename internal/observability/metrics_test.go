package observability

import (
	"testing"
	"time"

	"github.com/danmuck/msfcore/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordCall("OidbSvc.0x480_9_IMCore", "ok", 12*time.Millisecond)
	RecordLogin("password", "online")
	RecordFrame("in")
	RecordDirectoryRefresh(false)

	before := testutil.ToFloat64(heartbeatFailures)
	RecordHeartbeatFailure()
	if got := testutil.ToFloat64(heartbeatFailures); got != before+1 {
		t.Fatalf("heartbeat failures got=%v want=%v", got, before+1)
	}
	if got := testutil.ToFloat64(loginOutcomes.WithLabelValues("password", "online")); got < 1 {
		t.Fatalf("login outcome not recorded: %v", got)
	}
}
