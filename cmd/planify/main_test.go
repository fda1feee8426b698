package main

import "testing"

func TestParentKeys(t *testing.T) {
	rows := []map[string]any{
		{"id": 1, "org_id": 10},
		{"id": 2, "org_id": 10},
		{"id": 3, "org_id": nil},
		{"id": 4},
	}

	tests := []struct {
		name    string
		columns []string
		want    int
	}{
		{name: "single column dedupes", columns: []string{"id"}, want: 4},
		{name: "null keys skipped", columns: []string{"org_id"}, want: 1},
		{name: "composite keys", columns: []string{"id", "org_id"}, want: 2},
		{name: "missing column skipped", columns: []string{"missing"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parentKeys(rows, tt.columns)
			if len(got) != tt.want {
				t.Fatalf("got %d keys, want %d", len(got), tt.want)
			}
		})
	}
}
