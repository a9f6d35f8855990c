package table

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// DefaultMaxInternLength is the interning eligibility threshold used when
// NewStringPool is given 0. Content longer than the threshold is expected
// to live as an ordinary heap object instead; interning everything would
// pin arbitrarily large content for the life of the pool for little
// deduplication benefit.
const DefaultMaxInternLength = 64

type poolEntry struct {
	content string
	hash    uint64
}

// StringPool deduplicates string content into a growable pool of entries,
// so that two requests to intern identical bytes yield the same entry
// index. Entry indices are stable for the life of the pool- entries are
// never moved or compacted, since interned-string references carry the
// index outright.
//
// A StringPool is not safe for concurrent use.
type StringPool struct {
	entries   []poolEntry
	index     *Table[int]
	maxIntern int
}

// NewStringPool creates an empty pool. maxInternLength caps the content
// size eligible for interning; 0 selects DefaultMaxInternLength.
func NewStringPool(maxInternLength int) *StringPool {
	if maxInternLength <= 0 {
		maxInternLength = DefaultMaxInternLength
	}
	return &StringPool{
		index:     New[int](0),
		maxIntern: maxInternLength,
	}
}

// HashBytes computes the pool's content hash: 64-bit FNV-1a. It is
// deterministic across runs and processes, so pool probe sequences are
// reproducible.
func HashBytes(content []byte) uint64 {
	const (
		offset64 uint64 = 14695981039346656037
		prime64  uint64 = 1099511628211
	)

	hash := offset64
	for _, b := range content {
		hash ^= uint64(b)
		hash *= prime64
	}
	return hash
}

// Intern returns the pool index holding the provided content, adding a new
// entry when the content has not been seen before. Identical content
// always yields the identical index; content whose hashes collide is
// disambiguated by comparing length and then bytes, never by hash alone.
//
// Content longer than the pool's intern threshold is not eligible and
// returns ok false without touching the pool; the caller should store it
// as an ordinary heap object.
func (p *StringPool) Intern(content []byte) (int, bool) {
	if len(content) > p.maxIntern {
		return 0, false
	}

	hash := HashBytes(content)
	slot, _, err := p.index.FindOrInsert(hash,
		func(entryIndex int) bool {
			existing := p.entries[entryIndex].content
			return len(existing) == len(content) && existing == string(content)
		},
		func() int {
			p.entries = append(p.entries, poolEntry{
				content: string(content),
				hash:    hash,
			})
			return len(p.entries) - 1
		})
	if err != nil {
		// Growth doubles capacity, so insertion cannot run out of room.
		panic(err)
	}

	return p.index.At(slot), true
}

// InternString is Intern for string content.
func (p *StringPool) InternString(content string) (int, bool) {
	return p.Intern([]byte(content))
}

// Lookup returns the pool index holding the provided content, without
// inserting. ok is false when the content has never been interned.
func (p *StringPool) Lookup(content []byte) (int, bool) {
	slot, found := p.index.Lookup(HashBytes(content),
		func(entryIndex int) bool {
			existing := p.entries[entryIndex].content
			return len(existing) == len(content) && existing == string(content)
		})
	if !found {
		return 0, false
	}
	return p.index.At(slot), true
}

// Contents returns the content stored at a pool index. It panics on an
// index that was never returned from Intern.
func (p *StringPool) Contents(index int) string {
	return p.entries[index].content
}

// Count returns the number of distinct entries in the pool.
func (p *StringPool) Count() int {
	return len(p.entries)
}

// MaxInternLength returns the pool's interning eligibility threshold.
func (p *StringPool) MaxInternLength() int {
	return p.maxIntern
}

// PoolJsonData populates a json object with occupancy information about
// this pool.
func (p *StringPool) PoolJsonData(json jwriter.ObjectState) {
	var contentBytes int
	for i := range p.entries {
		contentBytes += len(p.entries[i].content)
	}

	json.Name("Entries").Int(len(p.entries))
	json.Name("ContentBytes").Int(contentBytes)
	json.Name("IndexCapacity").Int(p.index.Capacity())
	json.Name("MaxInternLength").Int(p.maxIntern)
}

// Validate performs internal consistency checks on the pool and its index.
// When the pool is functioning correctly it should not be possible for
// this method to return an error.
func (p *StringPool) Validate() error {
	err := p.index.Validate()
	if err != nil {
		return err
	}

	for i := range p.entries {
		entry := &p.entries[i]
		if entry.hash != HashBytes([]byte(entry.content)) {
			return errors.Errorf("pool entry %d: stored hash does not match its content", i)
		}

		index, found := p.Lookup([]byte(entry.content))
		if !found {
			return errors.Errorf("pool entry %d: content is not reachable through the index", i)
		}
		if index != i {
			return errors.Errorf("pool entry %d: content resolves to entry %d- duplicate interning", i, index)
		}
	}
	return nil
}
