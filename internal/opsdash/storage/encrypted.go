package storage

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/opsdash/pkg/cryptox"
)

// Encrypted seals every value before it reaches the wrapped storage.
// The key name is bound as additional data, so values cannot be swapped between keys.
type Encrypted struct {
	inner  Storage
	sealer *cryptox.Sealer
}

func NewEncrypted(inner Storage, secret []byte) (*Encrypted, error) {
	sealer, err := cryptox.NewSealer(secret)
	if err != nil {
		return nil, err
	}
	return &Encrypted{inner: inner, sealer: sealer}, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := e.sealer.Open(sealed, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	return plain, nil
}

func (e *Encrypted) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := e.sealer.Seal(value, []byte(key))
	if err != nil {
		return fmt.Errorf("storage: seal %s: %w", key, err)
	}
	return e.inner.Set(ctx, key, sealed)
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encrypted) Close() error { return e.inner.Close() }

// Watch forwards the wrapped storage's events when it supports watching.
func (e *Encrypted) Watch(ctx context.Context) (<-chan Event, error) {
	w, ok := e.inner.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w.Watch(ctx)
}
