// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mirror

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seqlab/annohub/pkg/logging"
	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// Exporter writes one <assembly>.gff3 file per assembly under Dir.
// Exports are atomic: a temp file is written and renamed over the old
// mirror, so readers never observe a partial file.
type Exporter struct {
	dir   string
	store store.Store
	log   *logging.Logger
}

func NewExporter(dir string, db store.Store, log *logging.Logger) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mirror dir %s: %w", dir, err)
	}
	if log == nil {
		log = logging.Default()
	}
	return &Exporter{dir: dir, store: db, log: log.With("component", "mirror")}, nil
}

// Path returns the mirror file for an assembly.
func (e *Exporter) Path(assembly string) string {
	return filepath.Join(e.dir, assembly+".gff3")
}

// ExportAssembly snapshots one assembly to its mirror file. A deleted
// assembly's mirror is removed.
func (e *Exporter) ExportAssembly(ctx context.Context, assembly string) error {
	var (
		refSeqs []datatypes.RefSeq
		docs    []*datatypes.Feature
		exists  bool
	)
	err := e.store.View(ctx, func(view store.ReadTxn) error {
		if _, err := view.GetAssembly(assembly); err != nil {
			if errors.Is(err, datatypes.ErrNotFound) {
				return nil
			}
			return err
		}
		exists = true
		var err error
		if refSeqs, err = view.ListRefSeqs(assembly); err != nil {
			return err
		}
		docs, err = view.ListDocuments(assembly)
		return err
	})
	if err != nil {
		return err
	}

	path := e.Path(assembly)
	if !exists {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return e.writeAtomic(path, refSeqs, docs)
}

// ExportAll re-exports every assembly in the store.
func (e *Exporter) ExportAll(ctx context.Context) error {
	var assemblies []datatypes.Assembly
	err := e.store.View(ctx, func(view store.ReadTxn) error {
		var err error
		assemblies, err = view.ListAssemblies()
		return err
	})
	if err != nil {
		return err
	}
	for _, a := range assemblies {
		if err := e.ExportAssembly(ctx, a.ID); err != nil {
			return fmt.Errorf("export %s: %w", a.ID, err)
		}
	}
	return nil
}

func (e *Exporter) writeAtomic(path string, refSeqs []datatypes.RefSeq, docs []*datatypes.Feature) error {
	tmp, err := os.CreateTemp(e.dir, ".mirror-*.gff3")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := writeGFF3(bw, refSeqs, docs); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	e.log.Debug("mirror exported", "path", path)
	return nil
}
