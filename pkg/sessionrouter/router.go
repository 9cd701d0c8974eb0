// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sessionrouter implements component #9's remote session-dispatch
// registry: a redis-backed mapping from session_id to the instance
// currently hosting it, so a remote NodeExecutor (§4.4.4) dispatching a
// sub-manifest can find the right endpoint. Directly generalizes
// sip/infra/rtp_port_allocator.go's Lua-script atomic pool (SPOP/SADD/SREM,
// crash recovery via an instance-scoped tracking key) from "allocate a
// port" to "register/lookup/release a session owner". It is explicitly
// routing, not a durable job queue or consensus system (§5 Non-goals):
// entries carry a TTL and no ordering/leader-election guarantee.
package sessionrouter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/mediacore/pkg/commons"
)

const (
	routeKeyPrefix    = "{mediacore:sessions}:route:"
	instanceSetPrefix = "{mediacore:sessions}:instance:"
	defaultTTL        = 10 * time.Minute
)

// Router registers and looks up which instance address owns a given
// session_id, for remote-executor dispatch.
type Router struct {
	client     *redis.Client
	logger     commons.Logger
	instanceID string
	ttl        time.Duration
}

// New builds a Router bound to client, identifying this process the same
// way RTPPortAllocator does (hostname:pid), so a crash can be recovered by
// instance key on the next startup.
func New(client *redis.Client, logger commons.Logger) *Router {
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	hostname, _ := os.Hostname()
	return &Router{
		client:     client,
		logger:     logger,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		ttl:        defaultTTL,
	}
}

// registerScript atomically sets the session->address route and tracks it
// under this instance's set for crash recovery, refreshing both TTLs.
var registerScript = redis.NewScript(`
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	redis.call('SADD', KEYS[2], KEYS[1])
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
	return 1
`)

// Register claims sessionID for this instance at address, refreshing the
// TTL on every call (so a long-lived streaming session can keep renewing
// its own ownership).
func (r *Router) Register(ctx context.Context, sessionID, address string) error {
	if r.client == nil {
		return fmt.Errorf("sessionrouter: redis client not configured")
	}
	routeKey := routeKeyPrefix + sessionID
	instanceKey := instanceSetPrefix + r.instanceID
	_, err := registerScript.Run(ctx, r.client, []string{routeKey, instanceKey}, address, r.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("sessionrouter: register %s: %w", sessionID, err)
	}
	return nil
}

// Lookup returns the address currently registered for sessionID.
func (r *Router) Lookup(ctx context.Context, sessionID string) (address string, ok bool, err error) {
	if r.client == nil {
		return "", false, fmt.Errorf("sessionrouter: redis client not configured")
	}
	val, err := r.client.Get(ctx, routeKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sessionrouter: lookup %s: %w", sessionID, err)
	}
	return val, true, nil
}

// releaseScript removes the route and its instance-set tracking entry
// atomically.
var releaseScript = redis.NewScript(`
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], KEYS[1])
	return 1
`)

// Release drops sessionID's route, called on session close/cleanup.
func (r *Router) Release(ctx context.Context, sessionID string) error {
	if r.client == nil {
		return fmt.Errorf("sessionrouter: redis client not configured")
	}
	routeKey := routeKeyPrefix + sessionID
	instanceKey := instanceSetPrefix + r.instanceID
	_, err := releaseScript.Run(ctx, r.client, []string{routeKey, instanceKey}).Result()
	if err != nil {
		return fmt.Errorf("sessionrouter: release %s: %w", sessionID, err)
	}
	return nil
}

// ReclaimCrashed re-registers every route this instance owned before a
// crash (found via its instance set) at newAddress, or drops routes this
// instance no longer wants to own if newAddress is empty. Call once at
// startup, mirroring RTPPortAllocator.Init's reclaimCrashedPorts call.
func (r *Router) ReclaimCrashed(ctx context.Context, newAddress string) (reclaimed int, err error) {
	if r.client == nil {
		return 0, fmt.Errorf("sessionrouter: redis client not configured")
	}
	instanceKey := instanceSetPrefix + r.instanceID
	routeKeys, err := r.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("sessionrouter: reclaim: %w", err)
	}
	if len(routeKeys) == 0 {
		return 0, nil
	}
	for _, routeKey := range routeKeys {
		if newAddress == "" {
			r.client.Del(ctx, routeKey)
			r.client.SRem(ctx, instanceKey, routeKey)
			continue
		}
		if err := r.client.Set(ctx, routeKey, newAddress, r.ttl).Err(); err != nil {
			r.logger.Warnw("sessionrouter: failed to reclaim route", "route_key", routeKey, "error", err)
			continue
		}
		reclaimed++
	}
	r.logger.Infow("sessionrouter: reclaimed routes from previous instance", "instance", r.instanceID, "count", reclaimed)
	return reclaimed, nil
}
