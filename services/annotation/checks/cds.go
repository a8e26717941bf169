// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package checks runs advisory biology checks over annotated features.
// Checks never block a change; they produce CheckReport records that are
// stored next to the feature and surfaced to clients as warnings.
package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// Check inspects one top-level feature document and reports findings.
type Check interface {
	Name() string
	Run(ctx context.Context, view store.ReadTxn, assembly string, doc *datatypes.Feature) ([]datatypes.CheckReport, error)
}

// Runner executes every registered check for the documents a change
// touched and persists the resulting reports.
type Runner struct {
	checks []Check
}

func NewRunner(checks ...Check) *Runner {
	return &Runner{checks: checks}
}

// NewDefaultRunner wires the built-in CDS checks.
func NewDefaultRunner() *Runner {
	return NewRunner(NewCDSCheck())
}

// RunForFeatures re-runs all checks for each feature id's owning document
// and replaces the stored reports for those documents. Unknown ids are
// skipped; a deleted feature's reports were cascaded away with it.
func (r *Runner) RunForFeatures(ctx context.Context, db store.Store, ids []string) ([]datatypes.CheckReport, error) {
	var all []datatypes.CheckReport
	err := db.Update(ctx, func(tx store.Txn) error {
		seen := make(map[string]bool)
		for _, id := range ids {
			rootID, err := tx.ResolveFeature(id)
			if err != nil {
				continue
			}
			if seen[rootID] {
				continue
			}
			seen[rootID] = true

			doc, assembly, err := tx.GetDocument(rootID)
			if err != nil {
				return err
			}
			var reports []datatypes.CheckReport
			for _, c := range r.checks {
				found, err := c.Run(ctx, tx, assembly, doc)
				if err != nil {
					return fmt.Errorf("check %s on %s: %w", c.Name(), rootID, err)
				}
				reports = append(reports, found...)
			}
			if err := tx.PutCheckReports(rootID, reports); err != nil {
				return err
			}
			all = append(all, reports...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// CDSCheck validates coding sequences: the spliced CDS must start with a
// start codon, end with a stop codon, have a length divisible by three,
// and contain no internal stop. CDS siblings under one parent must not
// overlap.
type CDSCheck struct{}

func NewCDSCheck() *CDSCheck { return &CDSCheck{} }

func (c *CDSCheck) Name() string { return "CDSCheck" }

var startCodons = map[string]bool{"ATG": true, "GTG": true, "TTG": true}
var stopCodons = map[string]bool{"TAA": true, "TAG": true, "TGA": true}

func (c *CDSCheck) Run(ctx context.Context, view store.ReadTxn, assembly string, doc *datatypes.Feature) ([]datatypes.CheckReport, error) {
	var reports []datatypes.CheckReport
	var runErr error
	doc.Walk(func(f *datatypes.Feature) bool {
		cds := cdsChildren(f)
		if len(cds) == 0 {
			return true
		}
		found, err := c.checkTranscript(view, assembly, f, cds)
		if err != nil {
			runErr = err
			return false
		}
		reports = append(reports, found...)
		return true
	})
	return reports, runErr
}

// cdsChildren collects direct CDS children of f, sorted by genomic start.
func cdsChildren(f *datatypes.Feature) []*datatypes.Feature {
	var out []*datatypes.Feature
	for _, child := range f.Children {
		if strings.EqualFold(child.Type, "CDS") {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Min() < out[j].Min() })
	return out
}

func (c *CDSCheck) checkTranscript(view store.ReadTxn, assembly string, parent *datatypes.Feature, cds []*datatypes.Feature) ([]datatypes.CheckReport, error) {
	var reports []datatypes.CheckReport
	report := func(f *datatypes.Feature, msg string) {
		reports = append(reports, datatypes.CheckReport{
			ID:        uuid.NewString(),
			Assembly:  assembly,
			FeatureID: f.ID,
			RefSeq:    f.RefSeq,
			Name:      c.Name(),
			Message:   msg,
			Start:     f.Min(),
			End:       f.Max(),
			CreatedAt: time.Now().UTC(),
		})
	}

	for i := 1; i < len(cds); i++ {
		if cds[i].Min() < cds[i-1].Max() {
			report(cds[i], fmt.Sprintf("CDS %s overlaps sibling CDS %s", cds[i].ID, cds[i-1].ID))
		}
	}

	spliced, err := splicedSequence(view, assembly, parent.Strand, cds)
	if err != nil {
		// Assemblies loaded without residues simply skip sequence checks.
		return reports, nil
	}

	if len(spliced)%3 != 0 {
		report(parent, fmt.Sprintf("CDS length %d is not a multiple of three", len(spliced)))
	}
	if len(spliced) >= 3 {
		first := spliced[:3]
		if !startCodons[first] {
			report(parent, fmt.Sprintf("CDS does not begin with a start codon (found %s)", first))
		}
		last := spliced[len(spliced)-3:]
		if len(spliced)%3 == 0 && !stopCodons[last] {
			report(parent, "CDS does not end with a stop codon")
		}
		for i := 3; i+3 <= len(spliced)-3; i += 3 {
			if stopCodons[spliced[i:i+3]] {
				report(parent, fmt.Sprintf("internal stop codon %s at CDS offset %d", spliced[i:i+3], i))
				break
			}
		}
	}
	return reports, nil
}

// splicedSequence concatenates the CDS segments in translation order and
// reverse-complements the result on the minus strand.
func splicedSequence(view store.ReadTxn, assembly string, strand datatypes.Strand, cds []*datatypes.Feature) (string, error) {
	var sb strings.Builder
	for _, f := range cds {
		for _, loc := range f.Locations {
			seq, err := view.GetSequence(assembly, f.RefSeq, loc.Start, loc.End)
			if err != nil {
				return "", err
			}
			sb.WriteString(strings.ToUpper(seq))
		}
	}
	seq := sb.String()
	if strand == datatypes.StrandReverse {
		seq = reverseComplement(seq)
	}
	return seq, nil
}

func reverseComplement(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		var c byte
		switch seq[len(seq)-1-i] {
		case 'A':
			c = 'T'
		case 'T':
			c = 'A'
		case 'G':
			c = 'C'
		case 'C':
			c = 'G'
		default:
			c = 'N'
		}
		out[i] = c
	}
	return string(out)
}
