/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/segmentio/ksuid"
	"github.com/vmihailenco/msgpack/v5"
)

const resultEntity = "RESULT"

// Result is one finished race.
type Result struct {
	ID         string    `json:"id" msgpack:"id"`
	Session    string    `json:"session" msgpack:"session"`
	Winner     string    `json:"winner" msgpack:"winner"`
	Entrants   []string  `json:"entrants" msgpack:"entrants"`
	Ticks      int       `json:"ticks" msgpack:"ticks"`
	FinishedAt time.Time `json:"finished_at" msgpack:"finished_at"`
}

func newResult(session, winner string, entrants []string, ticks int) Result {
	return Result{
		ID:         ksuid.New().String(),
		Session:    session,
		Winner:     winner,
		Entrants:   entrants,
		Ticks:      ticks,
		FinishedAt: time.Now(),
	}
}

type ResultStore interface {
	Record(ctx context.Context, res Result) error
	List(ctx context.Context, session string) ([]Result, error)
}

// BadgerStore keeps results under RESULT/<session>/<ksuid>, so a prefix scan
// returns one session's races oldest first.
type BadgerStore struct {
	db *badger.DB
}

func openBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open results db: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func sessionPrefix(session string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", resultEntity, session))
}

func resultKey(res Result) []byte {
	return append(sessionPrefix(res.Session), res.ID...)
}

func (b *BadgerStore) Record(ctx context.Context, res Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := msgpack.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(res), buf)
	})
}

func (b *BadgerStore) List(ctx context.Context, session string) ([]Result, error) {
	prefix := sessionPrefix(session)
	results := []Result{}

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var res Result
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &res)
			}); err != nil {
				return err
			}

			results = append(results, res)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results for %s: %w", session, err)
	}

	return results, nil
}

func (b *BadgerStore) Close() error {
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		errorf("STORE: Value log GC failed: %v", err)
	}

	return b.db.Close()
}
