// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Assembly groups reference sequences and the features annotated on them.
// It is also the broadcast topic key: sessions subscribe per assembly.
type Assembly struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// RefSeq is one reference sequence of an assembly. Residues are retained
// so the CDS codon checks can read coding sequence without an external
// FASTA service.
type RefSeq struct {
	Name     string `json:"name"`
	Assembly string `json:"assembly"`
	Length   int64  `json:"length"`
	Residues string `json:"residues,omitempty"`
}
