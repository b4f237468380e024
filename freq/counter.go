package freq

import "sort"

// Counter maps a token id to the number of times it occurred.
type Counter map[uint32]uint64

// Entry is a single token id and its count.
type Entry struct {
	Token uint32 `json:"token"`
	Count uint64 `json:"count"`
}

func NewCounter() Counter {
	return make(Counter)
}

// Add counts every id in ids once.
func (c Counter) Add(ids []uint32) {
	for _, id := range ids {
		c[id]++
	}
}

// Merge adds every count in other to c.
func (c Counter) Merge(other Counter) {
	for id, count := range other {
		c[id] += count
	}
}

func (c Counter) Get(id uint32) uint64 {
	return c[id]
}

// Len returns the number of distinct token ids.
func (c Counter) Len() int {
	return len(c)
}

// Total returns the number of tokens counted.
func (c Counter) Total() (total uint64) {
	for _, count := range c {
		total += count
	}
	return total
}

// Entries returns every entry in ascending token id order.
func (c Counter) Entries() []Entry {
	entries := make([]Entry, 0, len(c))
	for id, count := range c {
		entries = append(entries, Entry{id, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Token < entries[j].Token
	})
	return entries
}

// MostCommon
// Returns the n most frequent entries, highest count first. Equal counts are
// ordered by ascending token id. A negative n returns every entry.
func (c Counter) MostCommon(n int) []Entry {
	entries := c.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if n >= 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}
