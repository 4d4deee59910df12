package usersink

import (
	"context"
	"time"

	"github.com/goliatone/go-scoped/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts scope lifecycle events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
	// Channel tags every record; defaults to "scoped" when empty.
	Channel string
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := activity.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.Type == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	channel := h.Channel
	if channel == "" {
		channel = "scoped"
	}

	objectID := normalized.ScopeID
	if objectID == "" {
		objectID = normalized.Type
	}

	record := usertypes.ActivityRecord{
		ActorID:    metadataUUID(normalized.Metadata, "actor_id"),
		UserID:     metadataUUID(normalized.Metadata, "user_id"),
		TenantID:   metadataUUID(normalized.Metadata, "tenant_id"),
		Verb:       "scope." + normalized.Verb,
		ObjectType: normalized.Type,
		ObjectID:   objectID,
		Channel:    channel,
		Data:       cloneMap(normalized.Metadata),
		OccurredAt: normalized.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	if normalized.Site != "" {
		if record.Data == nil {
			record.Data = map[string]any{}
		}
		record.Data["site"] = normalized.Site
	}
	if normalized.Depth > 0 {
		if record.Data == nil {
			record.Data = map[string]any{}
		}
		record.Data["depth"] = normalized.Depth
	}

	return h.Sink.Log(ctx, record)
}

func metadataUUID(meta map[string]any, key string) uuid.UUID {
	raw, ok := meta[key]
	if !ok {
		return uuid.Nil
	}
	value, ok := raw.(string)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
