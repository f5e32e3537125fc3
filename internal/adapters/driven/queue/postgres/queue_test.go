package postgres

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter driven.TaskFilter
		want   string
		args   []any
	}{
		{
			name:   "no filter",
			filter: driven.TaskFilter{},
			want:   "FROM tasks ORDER BY created_at DESC",
		},
		{
			name:   "scoped to application",
			filter: driven.TaskFilter{ApplicationID: "app-1"},
			want:   "FROM tasks WHERE application_id = $1 ORDER BY created_at DESC",
			args:   []any{"app-1"},
		},
		{
			name:   "status only",
			filter: driven.TaskFilter{Status: domain.TaskStatusFailed},
			want:   "WHERE status = $1 ORDER BY",
			args:   []any{domain.TaskStatusFailed},
		},
		{
			name: "everything",
			filter: driven.TaskFilter{
				ApplicationID: "app-1",
				Status:        domain.TaskStatusPending,
				Type:          domain.TaskTypePollSubscription,
				Limit:         10,
				Offset:        20,
			},
			want: "WHERE application_id = $1 AND status = $2 AND type = $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5",
			args: []any{"app-1", domain.TaskStatusPending, domain.TaskTypePollSubscription, 10, 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, args := buildListQuery(tt.filter)
			if !strings.HasSuffix(stmt, tt.want) {
				t.Errorf("query %q does not end with %q", stmt, tt.want)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("expected %d args, got %v", len(tt.args), args)
			}
			for i := range args {
				if args[i] != tt.args[i] {
					t.Errorf("arg %d: expected %v, got %v", i+1, tt.args[i], args[i])
				}
			}
		})
	}
}

func TestBuildInsert(t *testing.T) {
	tasks := []*domain.Task{
		domain.NewPollSubscriptionTask("app-1", "sub-1"),
		domain.NewPollSubscriptionTask("app-1", "sub-2"),
	}
	tasks[1].Priority = 10

	stmt, args, err := buildInsert(tasks)
	if err != nil {
		t.Fatalf("buildInsert: %v", err)
	}

	if !strings.HasPrefix(stmt, "INSERT INTO tasks (id, type, application_id, payload,") {
		t.Errorf("unexpected statement head: %q", stmt)
	}
	if !strings.Contains(stmt, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12), ($13, ") ||
		!strings.HasSuffix(stmt, "$24)") {
		t.Errorf("unexpected placeholders: %q", stmt)
	}
	if len(args) != 24 {
		t.Fatalf("expected 24 args, got %d", len(args))
	}

	if args[12] != tasks[1].ID || args[17] != 10 {
		t.Errorf("second row args out of place: id=%v priority=%v", args[12], args[17])
	}

	var payload map[string]string
	if err := json.Unmarshal(args[3].([]byte), &payload); err != nil || payload["subscription_id"] != "sub-1" {
		t.Errorf("expected JSON payload for sub-1, got %s (%v)", args[3], err)
	}
}
