package storage

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// redisChannel is the single Pub/Sub channel all instances broadcast change
// events on. Filtering down to individual rows happens locally.
const redisChannel = "store:changes"

// RedisBus broadcasts change events through Redis Pub/Sub so that the two
// halves of a pair can live on different server instances. Events published
// here come back through the subscription (our own included) and are fanned
// out by an embedded MemoryBus; that echo is the at-least-once delivery the
// stream contract allows.
type RedisBus struct {
	rdb    *redis.Client
	local  *MemoryBus
	pubsub *redis.PubSub
	ctx    context.Context
}

func NewRedisBus(ctx context.Context, rdb *redis.Client) *RedisBus {
	b := &RedisBus{
		rdb:   rdb,
		local: NewMemoryBus(),
		ctx:   ctx,
	}
	b.pubsub = rdb.Subscribe(ctx, redisChannel)
	go b.listen()
	return b
}

func (b *RedisBus) listen() {
	for msg := range b.pubsub.Channel() {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			log.Printf("ERROR: failed to decode change event from Redis: %v", err)
			continue
		}
		b.local.Publish(e)
	}
}

func (b *RedisBus) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("ERROR: failed to encode change event: %v", err)
		return
	}
	if err := b.rdb.Publish(b.ctx, redisChannel, string(payload)).Err(); err != nil {
		// Fall back to local delivery so a Redis hiccup does not strand a
		// waiting client on this instance.
		log.Printf("ERROR: failed to publish change event to Redis: %v", err)
		b.local.Publish(e)
	}
}

func (b *RedisBus) Subscribe(table string, filter Filter, ops ...Op) *Subscription {
	return b.local.Subscribe(table, filter, ops...)
}

func (b *RedisBus) Close() {
	if err := b.pubsub.Close(); err != nil {
		log.Printf("WARNING: failed to close Redis subscription: %v", err)
	}
	b.local.Close()
}
