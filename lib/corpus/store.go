package corpus

import (
	"log/slog"
)

// Store is the in-memory working set for one run. It owns the
// per-partition sequence counters and is the only writer of the
// persisted corpus for that run. Not safe for concurrent use; the
// pipeline walks sessions sequentially.
type Store struct {
	preferNew bool

	records  []Record
	position map[string]int
	loaded   int // records[:loaded] came from LoadExisting

	contentSeen map[string]string // fingerprint -> id that claimed it
	sequences   map[int]int
}

type StoreOptions struct {
	// PreferNew makes a same-id add replace the stored record in
	// place instead of being skipped.
	PreferNew bool
}

func NewStore(opts StoreOptions) *Store {
	return &Store{
		preferNew:   opts.PreferNew,
		position:    make(map[string]int),
		contentSeen: make(map[string]string),
		sequences:   make(map[int]int),
	}
}

// LoadExisting seeds the store from a previously persisted corpus,
// preserving the original record order for output stability. Loaded
// records are never dropped here, they only arm the content
// fingerprint guard for subsequent adds.
func (s *Store) LoadExisting(c Corpus) {
	for _, q := range c.Questions {
		if q.ID == "" {
			continue
		}
		if _, ok := s.position[q.ID]; ok {
			continue
		}
		s.records = append(s.records, q)
		s.position[q.ID] = len(s.records) - 1
		fp := ContentFingerprint(q)
		if _, claimed := s.contentSeen[fp]; !claimed {
			s.contentSeen[fp] = q.ID
		}
	}
	s.loaded = len(s.records)
}

// Add validates and deduplicates one candidate record. It reports
// whether the store changed. Rejections are logged, never fatal; the
// walker keeps going on a duplicate or invalid record.
func (s *Store) Add(r Record) bool {
	if err := Validate(r); err != nil {
		slog.Warn("rejecting invalid record", "err", err)
		return false
	}

	if pos, ok := s.position[r.ID]; ok {
		if !s.preferNew {
			slog.Debug("skipping duplicate record", "id", r.ID)
			return false
		}
		s.records[pos] = r
		s.contentSeen[ContentFingerprint(r)] = r.ID
		return true
	}

	fp := ContentFingerprint(r)
	if claimedBy, ok := s.contentSeen[fp]; ok {
		slog.Debug("skipping content duplicate", "id", r.ID, "duplicate_of", claimedBy)
		return false
	}

	s.records = append(s.records, r)
	s.position[r.ID] = len(s.records) - 1
	s.contentSeen[fp] = r.ID
	return true
}

// All returns loaded records in their original order followed by new
// records in insertion order.
func (s *Store) All() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len reports the current record count.
func (s *Store) Len() int {
	return len(s.records)
}

// Added reports how many records this run contributed beyond the
// loaded baseline.
func (s *Store) Added() int {
	return len(s.records) - s.loaded
}

// NextSequence hands out the partition's next id number, starting
// at 1. Counters live for the lifetime of one Store.
func (s *Store) NextSequence(partitionKey int) int {
	s.sequences[partitionKey]++
	return s.sequences[partitionKey]
}
