// Package blocking partitions contact records into blocks that share a
// company key. Only records in the same block are ever compared, which
// keeps the number of oracle calls quadratic in block size rather than in
// input size. Duplicates whose company differs (job changes) are never
// compared.
package blocking

import (
	"github.com/sells-group/contact-resolver/internal/model"
)

// Blocks is an ordered partition of records. Keys keep first-seen order and
// records keep input order within a block.
type Blocks struct {
	keys   []string
	blocks map[string][]model.Record
}

// Option configures Block.
type Option func(*options)

type options struct {
	stripLegal bool
}

// WithLegalSuffixStripping treats company names that differ only by legal
// suffix or punctuation as the same block.
func WithLegalSuffixStripping(enabled bool) Option {
	return func(o *options) { o.stripLegal = enabled }
}

// Block groups records by company key. Every record lands in exactly one
// block.
func Block(records []model.Record, opts ...Option) *Blocks {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	b := &Blocks{blocks: make(map[string][]model.Record)}
	for _, r := range records {
		key := Key(r.String(model.FieldCompany), o.stripLegal)
		if _, ok := b.blocks[key]; !ok {
			b.keys = append(b.keys, key)
		}
		b.blocks[key] = append(b.blocks[key], r)
	}
	return b
}

// Keys returns block keys in first-seen order.
func (b *Blocks) Keys() []string {
	return b.keys
}

// Get returns the records of one block.
func (b *Blocks) Get(key string) []model.Record {
	return b.blocks[key]
}

// Len returns the number of blocks.
func (b *Blocks) Len() int {
	return len(b.keys)
}

// Each calls fn for every block in key order.
func (b *Blocks) Each(fn func(key string, records []model.Record)) {
	for _, k := range b.keys {
		fn(k, b.blocks[k])
	}
}

// PairCount returns the number of intra-block pairs, the sum of n(n-1)/2.
func (b *Blocks) PairCount() int {
	total := 0
	for _, k := range b.keys {
		n := len(b.blocks[k])
		total += n * (n - 1) / 2
	}
	return total
}

// Pairs returns every unordered intra-block pair (i<j), block by block.
func (b *Blocks) Pairs() []model.Pair {
	pairs := make([]model.Pair, 0, b.PairCount())
	for _, k := range b.keys {
		recs := b.blocks[k]
		for i := 0; i < len(recs); i++ {
			for j := i + 1; j < len(recs); j++ {
				pairs = append(pairs, model.Pair{A: recs[i], B: recs[j]})
			}
		}
	}
	return pairs
}
