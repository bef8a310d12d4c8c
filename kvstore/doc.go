/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package kvstore provides a key-value store used for rate limit quotas and distributed locks.
// RedisStore keeps the state in redis and applies compound updates with MULTI/EXEC or Lua scripts.
// MemoryStore keeps the same keys in process and is used by Adapter when redis is unreachable at startup.
package kvstore
