// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// Key layout. Values are JSON.
//
//	as/<assemblyID>            -> Assembly
//	rs/<assemblyID>/<name>     -> RefSeq
//	fd/<rootID>                -> document{assembly, feature}
//	fi/<featureID>             -> rootID (child index, raw string)
//	cl/<ulid>                  -> ChangeLogEntry (append-only)
//	ck/<featureID>             -> []CheckReport
const (
	prefixAssembly = "as/"
	prefixRefSeq   = "rs/"
	prefixDocument = "fd/"
	prefixIndex    = "fi/"
	prefixChange   = "cl/"
	prefixChecks   = "ck/"
)

// Options configures the Badger-backed store.
type Options struct {
	// Path is the database directory; required unless InMemory.
	Path string

	// InMemory keeps all data in RAM; used by tests.
	InMemory bool

	// SyncWrites forces durable writes; on for production.
	SyncWrites bool

	// GCInterval is how often to run value-log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// Logger receives Badger's internal messages; nil silences them.
	Logger *slog.Logger
}

// DefaultOptions returns production settings for the given path.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// Badger is the Store implementation on dgraph-io/badger. Safe for
// concurrent use; Badger's serializable-snapshot transactions plus the
// per-document layout serialize concurrent edits to the same document.
type Badger struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

var _ Store = (*Badger)(nil)

// Open opens (or creates) the store.
func Open(opts Options) (*Badger, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("store: path is required for a persistent database")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}

	b := &Badger{db: db}
	if opts.GCInterval > 0 && !opts.InMemory {
		b.stopGC = make(chan struct{})
		b.doneGC = make(chan struct{})
		go b.runGC(opts.GCInterval, opts.Logger)
	}
	return b, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*Badger, error) {
	return Open(Options{InMemory: true})
}

// Update runs fn in one read-write transaction. A commit-time conflict
// with a concurrent writer is reported as ErrConcurrentModification.
func (b *Badger) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(t *badger.Txn) error {
		return fn(&btxn{t: t})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("transaction conflict: %w", datatypes.ErrConcurrentModification)
	}
	return err
}

// View runs fn in a read-only transaction.
func (b *Badger) View(ctx context.Context, fn func(ReadTxn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(t *badger.Txn) error {
		return fn(&btxn{t: t})
	})
}

// Close stops garbage collection and closes the database.
func (b *Badger) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.doneGC
	}
	return b.db.Close()
}

func (b *Badger) runGC(interval time.Duration, logger *slog.Logger) {
	defer close(b.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// badgerLogger adapts slog to Badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// btxn implements Txn on a badger transaction.
type btxn struct {
	t *badger.Txn
}

var _ Txn = (*btxn)(nil)

func (x *btxn) getJSON(key string, into any) error {
	item, err := x.t.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, into)
	})
}

func (x *btxn) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return x.t.Set([]byte(key), data)
}

func (x *btxn) exists(key string) (bool, error) {
	_, err := x.t.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// document wraps a feature tree with its assembly association.
type document struct {
	Assembly string             `json:"assembly"`
	Feature  *datatypes.Feature `json:"feature"`
}

// --- assemblies ---

func (x *btxn) GetAssembly(id string) (datatypes.Assembly, error) {
	var a datatypes.Assembly
	if err := x.getJSON(prefixAssembly+id, &a); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return a, fmt.Errorf("assembly %s: %w", id, datatypes.ErrNotFound)
		}
		return a, err
	}
	return a, nil
}

func (x *btxn) ListAssemblies() ([]datatypes.Assembly, error) {
	var out []datatypes.Assembly
	err := x.scan(prefixAssembly, func(val []byte) error {
		var a datatypes.Assembly
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (x *btxn) PutAssembly(a datatypes.Assembly) error {
	if a.ID == "" {
		return errors.New("assembly missing id")
	}
	return x.putJSON(prefixAssembly+a.ID, a)
}

func (x *btxn) DeleteAssembly(id string) error {
	if _, err := x.GetAssembly(id); err != nil {
		return err
	}
	// Cascade: refseqs, then every document (with its index entries and
	// check reports) belonging to the assembly.
	var refseqKeys []string
	err := x.scanKeys(prefixRefSeq+id+"/", func(key string) error {
		refseqKeys = append(refseqKeys, key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range refseqKeys {
		if err := x.t.Delete([]byte(k)); err != nil {
			return err
		}
	}

	docs, err := x.ListDocuments(id)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := x.DeleteDocument(doc.ID); err != nil {
			return err
		}
	}
	return x.t.Delete([]byte(prefixAssembly + id))
}

// --- reference sequences ---

func (x *btxn) GetRefSeq(assembly, name string) (datatypes.RefSeq, error) {
	var r datatypes.RefSeq
	if err := x.getJSON(prefixRefSeq+assembly+"/"+name, &r); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return r, fmt.Errorf("refSeq %s/%s: %w", assembly, name, datatypes.ErrNotFound)
		}
		return r, err
	}
	return r, nil
}

func (x *btxn) ListRefSeqs(assembly string) ([]datatypes.RefSeq, error) {
	var out []datatypes.RefSeq
	err := x.scan(prefixRefSeq+assembly+"/", func(val []byte) error {
		var r datatypes.RefSeq
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (x *btxn) PutRefSeq(r datatypes.RefSeq) error {
	if r.Name == "" || r.Assembly == "" {
		return errors.New("refSeq missing name or assembly")
	}
	if r.Length == 0 {
		r.Length = int64(len(r.Residues))
	}
	return x.putJSON(prefixRefSeq+r.Assembly+"/"+r.Name, r)
}

func (x *btxn) GetSequence(assembly, refSeq string, start, end int64) (string, error) {
	r, err := x.GetRefSeq(assembly, refSeq)
	if err != nil {
		return "", err
	}
	if start < 0 || end < start || end > int64(len(r.Residues)) {
		return "", fmt.Errorf("sequence span [%d,%d) out of range for %s (len %d)",
			start, end, refSeq, len(r.Residues))
	}
	return r.Residues[start:end], nil
}

// --- feature documents ---

func (x *btxn) GetDocument(rootID string) (*datatypes.Feature, string, error) {
	var doc document
	if err := x.getJSON(prefixDocument+rootID, &doc); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, "", fmt.Errorf("feature document %s: %w", rootID, datatypes.ErrNotFound)
		}
		return nil, "", err
	}
	return doc.Feature, doc.Assembly, nil
}

func (x *btxn) ResolveFeature(featureID string) (string, error) {
	item, err := x.t.Get([]byte(prefixIndex + featureID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("feature %s: %w", featureID, datatypes.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (x *btxn) ListDocuments(assembly string) ([]*datatypes.Feature, error) {
	var out []*datatypes.Feature
	err := x.scan(prefixDocument, func(val []byte) error {
		var doc document
		if err := json.Unmarshal(val, &doc); err != nil {
			return err
		}
		if assembly == "" || doc.Assembly == assembly {
			out = append(out, doc.Feature)
		}
		return nil
	})
	return out, err
}

func (x *btxn) PutDocument(assembly string, f *datatypes.Feature) error {
	if f == nil || f.ID == "" {
		return errors.New("feature document missing id")
	}
	// Drop index entries of the previous version so removed children do
	// not keep resolving.
	if old, _, err := x.GetDocument(f.ID); err == nil {
		var indexErr error
		old.Walk(func(n *datatypes.Feature) bool {
			indexErr = x.t.Delete([]byte(prefixIndex + n.ID))
			return indexErr == nil
		})
		if indexErr != nil {
			return indexErr
		}
	} else if !errors.Is(err, datatypes.ErrNotFound) {
		return err
	}

	if err := x.putJSON(prefixDocument+f.ID, document{Assembly: assembly, Feature: f}); err != nil {
		return err
	}
	var indexErr error
	f.Walk(func(n *datatypes.Feature) bool {
		indexErr = x.t.Set([]byte(prefixIndex+n.ID), []byte(f.ID))
		return indexErr == nil
	})
	return indexErr
}

func (x *btxn) DeleteDocument(rootID string) error {
	f, _, err := x.GetDocument(rootID)
	if err != nil {
		return err
	}
	var walkErr error
	f.Walk(func(n *datatypes.Feature) bool {
		if walkErr = x.t.Delete([]byte(prefixIndex + n.ID)); walkErr != nil {
			return false
		}
		walkErr = x.t.Delete([]byte(prefixChecks + n.ID))
		return walkErr == nil
	})
	if walkErr != nil {
		return walkErr
	}
	return x.t.Delete([]byte(prefixDocument + rootID))
}

// --- change log ---

func (x *btxn) AppendChange(e datatypes.ChangeLogEntry) error {
	if e.ID == "" {
		return errors.New("change log entry missing id")
	}
	key := prefixChange + e.ID
	if ok, err := x.exists(key); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("change log entry %s already exists", e.ID)
	}
	return x.putJSON(key, e)
}

func (x *btxn) GetChange(id string) (datatypes.ChangeLogEntry, error) {
	var e datatypes.ChangeLogEntry
	if err := x.getJSON(prefixChange+id, &e); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return e, fmt.Errorf("change log entry %s: %w", id, datatypes.ErrNotFound)
		}
		return e, err
	}
	return e, nil
}

func (x *btxn) ListChanges(filter datatypes.ChangeFilter) ([]datatypes.ChangeLogEntry, error) {
	var out []datatypes.ChangeLogEntry
	err := x.scan(prefixChange, func(val []byte) error {
		var e datatypes.ChangeLogEntry
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- check reports ---

func (x *btxn) PutCheckReports(featureID string, reports []datatypes.CheckReport) error {
	if len(reports) == 0 {
		err := x.t.Delete([]byte(prefixChecks + featureID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return x.putJSON(prefixChecks+featureID, reports)
}

func (x *btxn) ListCheckReports(featureID string) ([]datatypes.CheckReport, error) {
	var out []datatypes.CheckReport
	err := x.getJSON(prefixChecks+featureID, &out)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, nil
	}
	return out, err
}

// --- iteration helpers ---

func (x *btxn) scan(prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := x.t.NewIterator(opts)
	defer it.Close()
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		err := it.Item().Value(fn)
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *btxn) scanKeys(prefix string, fn func(key string) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := x.t.NewIterator(opts)
	defer it.Close()
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		if err := fn(string(it.Item().Key())); err != nil {
			return err
		}
	}
	return nil
}
