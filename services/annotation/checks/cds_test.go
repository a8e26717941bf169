// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checks

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/annohub/services/annotation/datatypes"
	"github.com/seqlab/annohub/services/annotation/store"
)

// seedTranscript writes a refseq with the given residues and an
// mRNA/CDS pair spanning [start, end).
func seedTranscript(t *testing.T, db *store.Badger, residues string, start, end int64, strand datatypes.Strand) {
	t.Helper()
	ctx := context.Background()
	err := db.Update(ctx, func(tx store.Txn) error {
		if err := tx.PutAssembly(datatypes.Assembly{ID: "asm1", Name: "test"}); err != nil {
			return err
		}
		if err := tx.PutRefSeq(datatypes.RefSeq{
			Name:     "chr1",
			Assembly: "asm1",
			Length:   int64(len(residues)),
			Residues: residues,
		}); err != nil {
			return err
		}
		mrna := &datatypes.Feature{
			ID:        "mrna1",
			RefSeq:    "chr1",
			Type:      "mRNA",
			Strand:    strand,
			Locations: []datatypes.Location{{Start: start, End: end}},
			Children: map[string]*datatypes.Feature{
				"cds1": {
					ID:        "cds1",
					RefSeq:    "chr1",
					Type:      "CDS",
					Strand:    strand,
					Locations: []datatypes.Location{{Start: start, End: end}},
				},
			},
		}
		return tx.PutDocument("asm1", mrna)
	})
	require.NoError(t, err)
}

func TestCDSCheck_CleanTranscript(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	// ATG AAA TAA at offset 2.
	seedTranscript(t, db, "GG"+"ATGAAATAA"+"GG", 2, 11, datatypes.StrandForward)

	reports, err := NewDefaultRunner().RunForFeatures(context.Background(), db, []string{"cds1"})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestCDSCheck_MissingStartCodon(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	seedTranscript(t, db, "CCCAAATAA", 0, 9, datatypes.StrandForward)

	reports, err := NewDefaultRunner().RunForFeatures(context.Background(), db, []string{"mrna1"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Message, "start codon")
	assert.Equal(t, "mrna1", reports[0].FeatureID)
}

func TestCDSCheck_InternalStopAndFrame(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	// ATG TAA CCC TAA has an internal stop after the start codon.
	seedTranscript(t, db, "ATGTAACCCTAA", 0, 12, datatypes.StrandForward)

	reports, err := NewDefaultRunner().RunForFeatures(context.Background(), db, []string{"mrna1"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Message, "internal stop")
}

func TestCDSCheck_ReverseStrand(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	// Reverse complement of TTATTTCAT is ATGAAATAA, a clean CDS.
	seedTranscript(t, db, "TTATTTCAT", 0, 9, datatypes.StrandReverse)

	reports, err := NewDefaultRunner().RunForFeatures(context.Background(), db, []string{"mrna1"})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestCDSCheck_FrameViolation(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	// 8 residues: not a multiple of three.
	seedTranscript(t, db, "ATGAAATA", 0, 8, datatypes.StrandForward)

	reports, err := NewDefaultRunner().RunForFeatures(context.Background(), db, []string{"mrna1"})
	require.NoError(t, err)
	require.NotEmpty(t, reports)
	var found bool
	for _, r := range reports {
		if strings.Contains(r.Message, "multiple of three") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCDSCheck_ReportsReplacedOnRerun(t *testing.T) {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	seedTranscript(t, db, "CCCAAATAA", 0, 9, datatypes.StrandForward)
	runner := NewDefaultRunner()

	_, err = runner.RunForFeatures(ctx, db, []string{"mrna1"})
	require.NoError(t, err)
	_, err = runner.RunForFeatures(ctx, db, []string{"mrna1"})
	require.NoError(t, err)

	err = db.View(ctx, func(view store.ReadTxn) error {
		reports, err := view.ListCheckReports("mrna1")
		require.NoError(t, err)
		assert.Len(t, reports, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestReverseComplement(t *testing.T) {
	assert.Equal(t, "ATGAAATAA", reverseComplement("TTATTTCAT"))
	assert.Equal(t, "N", reverseComplement("X"))
}
