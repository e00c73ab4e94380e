// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianNova/pkg/validation"
	"github.com/AleutianAI/AleutianNova/services/builder/store"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a request identifier was never created.
	ErrNotFound = errors.New("request not found")

	// ErrInvalidID is returned for identifiers that are not safe to use as
	// directory names.
	ErrInvalidID = errors.New("invalid request id")
)

// maxConflictRetries bounds retries of a transaction that lost a race with
// a concurrent writer on the same request.
const maxConflictRetries = 8

// ValidateID reports whether id can name a request.
func ValidateID(id string) error {
	if err := validation.ValidateRequestID(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Key layout:
//
//	req/<id>/meta          -> header (created_at, event count)
//	req/<id>/ev/<seq:020d> -> Event
//	req/<id>/env           -> opaque environment document
//	req/<id>/plan          -> opaque plan document
func metaKey(id string) []byte { return []byte("req/" + id + "/meta") }
func envKey(id string) []byte  { return []byte("req/" + id + "/env") }
func planKey(id string) []byte { return []byte("req/" + id + "/plan") }
func eventPrefix(id string) []byte {
	return []byte("req/" + id + "/ev/")
}
func eventKey(id string, seq uint64) []byte {
	return []byte(fmt.Sprintf("req/%s/ev/%020d", id, seq))
}

type header struct {
	CreatedAt time.Time `json:"created_at"`
	Events    uint64    `json:"events"`
}

// Registry is the durable, append-only store of request lifecycles.
//
// Thread Safety: Safe for concurrent use. Concurrent Record calls on the
// same request are serialized by Badger's optimistic transactions and
// retried on conflict, so sequence numbers never collide.
type Registry struct {
	db     *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Registry over an open store.
func New(db *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		db:     db,
		logger: logger.With("component", "registry"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrReuse returns id if it is already registered, registers it if it is
// new, or generates and registers a fresh identifier when id is empty.
//
// # Description
//
// Generated identifiers are 8 hex characters from a random UUID. A generated
// identifier that collides with an existing request is discarded and a new
// one drawn, so a freshly generated identifier is always unique.
//
// # Outputs
//
//   - string: The request identifier.
//   - bool: True if the request was created by this call.
//   - error: ErrInvalidID for a malformed caller-supplied id.
func (r *Registry) CreateOrReuse(ctx context.Context, id string) (string, bool, error) {
	if id != "" {
		if err := ValidateID(id); err != nil {
			return "", false, err
		}
		created, err := r.ensure(ctx, id)
		return id, created, err
	}
	for {
		candidate := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		created, err := r.ensure(ctx, candidate)
		if err != nil {
			return "", false, err
		}
		if created {
			return candidate, true, nil
		}
		r.logger.Debug("generated request id collided", slog.String("request_id", candidate))
	}
}

// ensure creates the header for id and reports whether it was new.
func (r *Registry) ensure(ctx context.Context, id string) (bool, error) {
	var created bool
	err := r.retry(ctx, func(txn *badger.Txn) error {
		created = false
		_, err := txn.Get(metaKey(id))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(header{CreatedAt: r.now()})
		if err != nil {
			return err
		}
		created = true
		return txn.Set(metaKey(id), data)
	})
	if err != nil {
		return false, fmt.Errorf("register request %s: %w", id, err)
	}
	if created {
		r.logger.Info("request registered", slog.String("request_id", id))
	}
	return created, nil
}

// Exists reports whether id has been registered.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

// Record appends ev to the request's trail. Seq, RequestID, and (if zero)
// At are assigned here; prior records are never rewritten.
func (r *Registry) Record(ctx context.Context, id string, ev Event) (Event, error) {
	err := r.retry(ctx, func(txn *badger.Txn) error {
		h, err := readHeader(txn, id)
		if err != nil {
			return err
		}
		h.Events++
		ev.Seq = h.Events
		ev.RequestID = id
		if ev.At.IsZero() {
			ev.At = r.now()
		}
		evData, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		hData, err := json.Marshal(h)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(id, ev.Seq), evData); err != nil {
			return err
		}
		return txn.Set(metaKey(id), hData)
	})
	if err != nil {
		return Event{}, fmt.Errorf("record %s for %s: %w", ev.Action, id, err)
	}
	r.logger.Info("lifecycle event recorded",
		slog.String("request_id", id),
		slog.String("action", string(ev.Action)),
		slog.String("state", string(ev.State)),
		slog.Uint64("seq", ev.Seq),
	)
	return ev, nil
}

// Events returns the request's trail in append order.
func (r *Registry) Events(ctx context.Context, id string) ([]Event, error) {
	var events []Event
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		if _, err := readHeader(txn, id); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ev Event
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &ev)
			}); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Get folds the trail into the request's current view.
func (r *Registry) Get(ctx context.Context, id string) (*Request, error) {
	var h header
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		h, err = readHeader(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	events, err := r.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	req := &Request{ID: id, CreatedAt: h.CreatedAt}
	for _, ev := range events {
		req.apply(ev)
	}
	return req, nil
}

// PutEnv stores the environment document captured for a request. A later
// prepare replaces it.
func (r *Registry) PutEnv(ctx context.Context, id string, doc json.RawMessage) error {
	return r.putDoc(ctx, id, envKey(id), doc)
}

// Env returns the environment document for a request.
func (r *Registry) Env(ctx context.Context, id string) (json.RawMessage, error) {
	return r.doc(ctx, id, envKey(id), "environment captured")
}

// PutPlan stores the plan document for a request, replacing any earlier
// plan.
func (r *Registry) PutPlan(ctx context.Context, id string, doc json.RawMessage) error {
	return r.putDoc(ctx, id, planKey(id), doc)
}

// Plan returns the plan document for a request.
func (r *Registry) Plan(ctx context.Context, id string) (json.RawMessage, error) {
	return r.doc(ctx, id, planKey(id), "plan recorded")
}

func (r *Registry) putDoc(ctx context.Context, id string, key []byte, doc json.RawMessage) error {
	return r.retry(ctx, func(txn *badger.Txn) error {
		if _, err := readHeader(txn, id); err != nil {
			return err
		}
		return txn.Set(key, doc)
	})
}

func (r *Registry) doc(ctx context.Context, id string, key []byte, what string) (json.RawMessage, error) {
	var doc json.RawMessage
	err := r.db.View(ctx, func(txn *badger.Txn) error {
		if _, err := readHeader(txn, id); err != nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: no %s for %s", ErrNotFound, what, id)
		}
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	return doc, err
}

func (r *Registry) retry(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readHeader(txn *badger.Txn, id string) (header, error) {
	var h header
	item, err := txn.Get(metaKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return h, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return h, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &h)
	})
	return h, err
}
