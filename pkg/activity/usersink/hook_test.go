package usersink_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-scoped/pkg/activity"
	"github.com/goliatone/go-scoped/pkg/activity/usersink"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

type recordingSink struct {
	records []usertypes.ActivityRecord
	err     error
}

func (s *recordingSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func TestHookNotifyMapsEvent(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	actorID := uuid.New()
	tenantID := uuid.New()
	scopeID := uuid.New().String()

	event := activity.Event{
		Verb:    "opened",
		Type:    "Session",
		ScopeID: scopeID,
		Site:    "main.go:42",
		Depth:   3,
		Metadata: map[string]any{
			"actor_id":  actorID.String(),
			"tenant_id": tenantID.String(),
			"region":    "us-east",
		},
		OccurredAt: now,
	}

	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.ActorID != actorID {
		t.Fatalf("expected actor %s got %s", actorID, record.ActorID)
	}
	if record.TenantID != tenantID {
		t.Fatalf("expected tenant %s got %s", tenantID, record.TenantID)
	}
	if record.Verb != "scope.opened" || record.ObjectType != "Session" || record.ObjectID != scopeID {
		t.Fatalf("unexpected record payload: %+v", record)
	}
	if record.Channel != "scoped" {
		t.Fatalf("expected channel scoped got %q", record.Channel)
	}
	if record.OccurredAt != now {
		t.Fatalf("expected occurred_at %v got %v", now, record.OccurredAt)
	}
	if record.Data["site"] != "main.go:42" {
		t.Fatalf("expected site metadata got %v", record.Data["site"])
	}
	if record.Data["depth"] != 3 {
		t.Fatalf("expected depth metadata got %v", record.Data["depth"])
	}
	if record.Data["region"] != "us-east" {
		t.Fatalf("expected metadata passthrough got %v", record.Data["region"])
	}
}

func TestHookNotifySkipsMissingVerb(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	_ = hook.Notify(context.Background(), activity.Event{})

	if len(sink.records) != 0 {
		t.Fatalf("expected no records for empty event, got %d", len(sink.records))
	}
}

func TestHookNotifyDefaultsTimestampAndObjectID(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	err := hook.Notify(context.Background(), activity.Event{
		Verb: "cleared",
		Type: "Session",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	if sink.records[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be defaulted")
	}
	if sink.records[0].ObjectID != "Session" {
		t.Fatalf("expected object id fallback to type, got %q", sink.records[0].ObjectID)
	}
}

func TestHookNotifyCustomChannel(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink, Channel: "audit"}

	err := hook.Notify(context.Background(), activity.Event{
		Verb:    "closed",
		Type:    "Session",
		ScopeID: "1",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sink.records[0].Channel != "audit" {
		t.Fatalf("expected channel audit got %q", sink.records[0].Channel)
	}
}
