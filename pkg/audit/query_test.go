package audit

import (
	"testing"
	"time"
)

func TestValidateQuery(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name    string
		query   *Query
		wantErr bool
	}{
		{"nil", nil, false},
		{"empty", &Query{}, false},
		{"negative limit", &Query{Limit: -1}, true},
		{"limit too large", &Query{Limit: MaxLimit + 1}, true},
		{"negative offset", &Query{Offset: -5}, true},
		{"bad sort order", &Query{SortOrder: "sideways"}, true},
		{"asc", &Query{SortOrder: SortAsc}, false},
		{"inverted range", &Query{StartTime: &now, EndTime: &earlier}, true},
		{"valid range", &Query{StartTime: &earlier, EndTime: &now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.query)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestQuery_Matches(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &Record{
		TransactionID:      "tx-1",
		EntityID:           "ent-1",
		Outcome:            "escalate",
		TriggeredRuleIDs:   []string{"large-amount"},
		TriggeredPolicyIDs: []string{"treasury"},
		Timestamp:          ts,
	}
	before := ts.Add(-time.Minute)
	after := ts.Add(time.Minute)

	tests := []struct {
		name  string
		query *Query
		want  bool
	}{
		{"no filters", &Query{}, true},
		{"entity", &Query{EntityID: "ent-1"}, true},
		{"other entity", &Query{EntityID: "ent-2"}, false},
		{"outcome", &Query{Outcome: "block"}, false},
		{"rule", &Query{RuleID: "large-amount"}, true},
		{"policy", &Query{PolicyID: "ops"}, false},
		{"inside range", &Query{StartTime: &before, EndTime: &after}, true},
		{"start is inclusive", &Query{StartTime: &ts}, true},
		{"after end", &Query{EndTime: &before}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Matches(r); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
