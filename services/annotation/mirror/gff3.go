// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mirror maintains a GFF3 flat-file copy of each assembly next to
// the authoritative store, for consumption by external pipeline tools.
// The store remains the source of truth; the mirror is derived output and
// is rewritten whole on every export.
package mirror

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// writeGFF3 renders the documents of one assembly as a GFF3 file.
// Internal coordinates are zero-based half-open; GFF3 wants one-based
// inclusive, so starts shift by +1 and ends carry over unchanged.
func writeGFF3(w io.Writer, refSeqs []datatypes.RefSeq, docs []*datatypes.Feature) error {
	if _, err := fmt.Fprintln(w, "##gff-version 3"); err != nil {
		return err
	}
	for _, rs := range refSeqs {
		if rs.Length > 0 {
			if _, err := fmt.Fprintf(w, "##sequence-region %s 1 %d\n", rs.Name, rs.Length); err != nil {
				return err
			}
		}
	}

	sorted := make([]*datatypes.Feature, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RefSeq != sorted[j].RefSeq {
			return sorted[i].RefSeq < sorted[j].RefSeq
		}
		if sorted[i].Min() != sorted[j].Min() {
			return sorted[i].Min() < sorted[j].Min()
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, doc := range sorted {
		if err := writeFeature(w, doc, ""); err != nil {
			return err
		}
	}
	return nil
}

func writeFeature(w io.Writer, f *datatypes.Feature, parentID string) error {
	for _, loc := range f.Locations {
		phase := "."
		if loc.Phase != nil {
			phase = fmt.Sprintf("%d", *loc.Phase)
		}
		_, err := fmt.Fprintf(w, "%s\tannohub\t%s\t%d\t%d\t.\t%s\t%s\t%s\n",
			f.RefSeq,
			f.Type,
			loc.Start+1,
			loc.End,
			strandSymbol(f.Strand),
			phase,
			formatAttributes(f, parentID),
		)
		if err != nil {
			return err
		}
	}

	childIDs := make([]string, 0, len(f.Children))
	for id := range f.Children {
		childIDs = append(childIDs, id)
	}
	sort.Strings(childIDs)
	for _, id := range childIDs {
		if err := writeFeature(w, f.Children[id], f.ID); err != nil {
			return err
		}
	}
	return nil
}

func strandSymbol(s datatypes.Strand) string {
	switch s {
	case datatypes.StrandForward:
		return "+"
	case datatypes.StrandReverse:
		return "-"
	default:
		return "."
	}
}

// formatAttributes renders column nine: ID, Parent, then the feature's
// own attributes in sorted key order, percent-encoded per the GFF3 spec.
func formatAttributes(f *datatypes.Feature, parentID string) string {
	parts := []string{"ID=" + escapeAttr(f.ID)}
	if parentID != "" {
		parts = append(parts, "Parent="+escapeAttr(parentID))
	}

	keys := make([]string, 0, len(f.Attributes))
	for k := range f.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := make([]string, len(f.Attributes[k]))
		for i, v := range f.Attributes[k] {
			vals[i] = escapeAttr(v)
		}
		parts = append(parts, escapeAttr(k)+"="+strings.Join(vals, ","))
	}
	return strings.Join(parts, ";")
}

func escapeAttr(s string) string {
	// url.QueryEscape turns spaces into '+'; GFF3 wants %20.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
