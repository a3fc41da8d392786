package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quillsign/quillsign/internal/model"
)

// channelPrefix namespaces package update channels; clients subscribe per owner.
const channelPrefix = "packages:updates:"

// UpdateEvent is the payload published for every package state change.
type UpdateEvent struct {
	PackageID string    `json:"packageId"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RedisEmitter publishes package updates on Redis pub/sub.
type RedisEmitter struct{ client *redis.Client }

// NewRedisEmitter constructs an emitter over an existing Redis client.
func NewRedisEmitter(client *redis.Client) *RedisEmitter { return &RedisEmitter{client: client} }

var _ Emitter = (*RedisEmitter)(nil)

// EmitPackageUpdate publishes the package's current state on the owner channel.
func (e *RedisEmitter) EmitPackageUpdate(ctx context.Context, pkg *model.Package) error {
	ev := UpdateEvent{
		PackageID: pkg.ID.String(),
		OwnerID:   pkg.OwnerID.String(),
		Name:      pkg.Name,
		Status:    string(pkg.Status),
		UpdatedAt: pkg.UpdatedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal update event: %w", err)
	}
	return e.client.Publish(ctx, channelPrefix+ev.OwnerID, payload).Err()
}

// Channel returns the pub/sub channel name for an owner's updates.
func Channel(ownerID string) string { return channelPrefix + ownerID }
