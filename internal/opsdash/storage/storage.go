package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("storage: not found")

// Storage is durable key-value storage shared by every process of one operator.
// Concrete drivers (memory, file, sqlite, redis) implement this.
type Storage interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Event is a change to a key, possibly made by another process.
type Event struct {
	Key     string
	Deleted bool
}

// Watcher is implemented by drivers that can observe changes made elsewhere.
// The returned channel is closed when ctx ends or the storage is closed.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
}

// Keys is the persisted layout.
type Keys struct {
	// AccessToken holds the raw access token string.
	AccessToken string
	// Auth holds the JSON {user, token, refresh_token} blob.
	Auth string
	// Tenant holds the JSON {currentClient} blob.
	Tenant string
}

// DefaultKeys returns the layout for namespace ns.
func DefaultKeys(ns string) Keys {
	if ns == "" {
		ns = "opsdash"
	}
	return Keys{
		AccessToken: "access_token",
		Auth:        ns + "-auth",
		Tenant:      ns + "-tenant",
	}
}

// All lists every key in the layout.
func (k Keys) All() []string {
	return []string{k.AccessToken, k.Auth, k.Tenant}
}

// GetJSON decodes the value at key into v.
func GetJSON(ctx context.Context, s Storage, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Storage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// DeleteAll removes every key, returning the first error after trying them all.
func DeleteAll(ctx context.Context, s Storage, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// ErrWatchUnsupported is returned by wrappers whose inner storage cannot watch.
var ErrWatchUnsupported = errors.New("storage: watch not supported")
