package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlinePeersKey = "signal:peers"
	presenceTTL    = 24 * time.Hour
)

func roomPeersKey(room string) string {
	return "room:" + room + ":peers"
}

// PeerOnline adds peerID to the set of connected peers.
func (s *Store) PeerOnline(ctx context.Context, peerID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, onlinePeersKey, peerID)
		pipe.Expire(ctx, onlinePeersKey, presenceTTL)
		return nil
	})
	return err
}

func (s *Store) PeerOffline(ctx context.Context, peerID string) error {
	return s.client.SRem(ctx, onlinePeersKey, peerID).Err()
}

// RoomJoined records peerID as present in room. The set expires a day after
// the last join.
func (s *Store) RoomJoined(ctx context.Context, room, peerID string) error {
	key := roomPeersKey(room)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, peerID)
		pipe.Expire(ctx, key, presenceTTL)
		return nil
	})
	return err
}

func (s *Store) RoomLeft(ctx context.Context, room, peerID string) error {
	return s.client.SRem(ctx, roomPeersKey(room), peerID).Err()
}

// OnlinePeerCount returns the number of peers connected to any relay
// instance sharing this Redis.
func (s *Store) OnlinePeerCount(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, onlinePeersKey).Result()
}

// RoomPeerCount returns the number of peers currently present in room.
func (s *Store) RoomPeerCount(ctx context.Context, room string) (int64, error) {
	return s.client.SCard(ctx, roomPeersKey(room)).Result()
}
