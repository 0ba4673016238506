package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTask(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		before := testutil.ToFloat64(TasksProcessed.WithLabelValues("group_faces", "success"))
		RecordTask("group_faces", nil, 10*time.Millisecond)
		after := testutil.ToFloat64(TasksProcessed.WithLabelValues("group_faces", "success"))
		if after != before+1 {
			t.Errorf("expected success counter to increment, got %v -> %v", before, after)
		}
	})

	t.Run("failure", func(t *testing.T) {
		before := testutil.ToFloat64(TasksProcessed.WithLabelValues("group_faces", "failure"))
		RecordTask("group_faces", errors.New("boom"), time.Millisecond)
		after := testutil.ToFloat64(TasksProcessed.WithLabelValues("group_faces", "failure"))
		if after != before+1 {
			t.Errorf("expected failure counter to increment, got %v -> %v", before, after)
		}
	})
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/tags", "200"))
	RecordRequest("GET", "/api/v1/tags", 200, 5*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/tags", "200"))
	if after != before+1 {
		t.Errorf("expected request counter to increment, got %v -> %v", before, after)
	}
}
