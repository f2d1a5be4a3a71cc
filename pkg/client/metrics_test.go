package client

import (
	"encoding/json"
	"testing"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Connects.Add(2)
	m.ForcedLogouts.Add(1)
	m.UnreadPolls.Add(5)

	s := m.Snapshot()
	if s.Connects != 2 || s.ForcedLogouts != 1 || s.UnreadPolls != 5 {
		t.Errorf("snapshot = %+v", s)
	}

	var decoded MetricsSnapshot
	if err := json.Unmarshal([]byte(m.JSON()), &decoded); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if decoded.UnreadPolls != 5 {
		t.Errorf("decoded unread polls = %d", decoded.UnreadPolls)
	}
}
