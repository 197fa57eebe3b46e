package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
)

// Repair drops records that fail validation and collects their ids (or
// a placeholder when the id itself is missing). Old corpora written by
// looser schema versions should not sink an entire merge.
func Repair(c Corpus) (Corpus, []string) {
	var dropped []string
	kept := make([]Record, 0, len(c.Questions))
	seen := make(map[string]bool, len(c.Questions))

	for _, q := range c.Questions {
		if err := Validate(q); err != nil {
			id := q.ID
			if id == "" {
				id = "<missing id>"
			}
			dropped = append(dropped, id)
			continue
		}
		if seen[q.ID] {
			dropped = append(dropped, q.ID)
			continue
		}
		seen[q.ID] = true
		kept = append(kept, q)
	}

	repaired := c
	repaired.Questions = kept
	if repaired.Version == 0 {
		repaired.Version = 1
	}
	return repaired, dropped
}

type MergeResult struct {
	Added    int
	Replaced int
	Dropped  []string
	Merged   Corpus
}

// MergeFiles combines two corpus files by record id and writes the
// result atomically to outPath. The existing side is repaired (invalid
// records dropped and reported); the incoming side comes from a single
// trusted producer run and must validate strictly. preferNew decides
// who wins an id collision.
func MergeFiles(existingPath, incomingPath, outPath string, preferNew bool) (MergeResult, error) {
	existing, err := Load(existingPath)
	if errors.Is(err, fs.ErrNotExist) {
		existing = Corpus{Version: 1}
	} else if err != nil {
		return MergeResult{}, err
	}

	incoming, err := Load(incomingPath)
	if err != nil {
		return MergeResult{}, err
	}
	if err := ValidateCorpus(incoming); err != nil {
		return MergeResult{}, fmt.Errorf("incoming corpus %s: %w", incomingPath, err)
	}

	existing, dropped := Repair(existing)
	if len(dropped) > 0 {
		slog.Warn("dropped invalid existing records", "count", len(dropped), "ids", dropped)
	}

	merged, added, replaced := mergeQuestions(existing.Questions, incoming.Questions, preferNew)

	out := Corpus{
		Version:        max(existing.Version, incoming.Version),
		Questions:      merged,
		GeneratedAt:    firstNonEmpty(incoming.GeneratedAt, existing.GeneratedAt),
		SourceSessions: incoming.SourceSessions,
	}
	if len(out.SourceSessions) == 0 {
		out.SourceSessions = existing.SourceSessions
	}

	if err := Write(outPath, out); err != nil {
		return MergeResult{}, err
	}

	return MergeResult{
		Added:    added,
		Replaced: replaced,
		Dropped:  dropped,
		Merged:   out,
	}, nil
}

// mergeQuestions keeps existing order, then appends incoming records
// with unseen ids in their own order. Collisions replace in place when
// preferNew is set.
func mergeQuestions(existing, incoming []Record, preferNew bool) ([]Record, int, int) {
	merged := make([]Record, len(existing))
	copy(merged, existing)
	position := make(map[string]int, len(existing))
	for i, q := range merged {
		position[q.ID] = i
	}

	added := 0
	replaced := 0
	for _, q := range incoming {
		if pos, ok := position[q.ID]; ok {
			if preferNew {
				merged[pos] = q
				replaced++
			}
			continue
		}
		merged = append(merged, q)
		position[q.ID] = len(merged) - 1
		added++
	}
	return merged, added, replaced
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
