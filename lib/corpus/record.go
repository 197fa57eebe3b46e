// Package corpus is the data model and persistence layer for harvested
// question records: validation, dual deduplication, idempotent merge
// and atomic writes.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// UnknownAnswer marks a record whose correct choice could not be
// determined. Consuming apps depend on this exact sentinel.
const UnknownAnswer = -1

// Record is one harvested question. Text is a pointer because
// extraction can legitimately fail to find a prompt while the rest of
// the record is usable; null must survive round-trips.
type Record struct {
	ID           string   `json:"id"`
	PartitionKey int      `json:"partitionKey"`
	Category     string   `json:"category"`
	CategoryPath []string `json:"categoryPath"`
	Text         *string  `json:"text"`
	Choices      []string `json:"choices"`
	AnswerIndex  int      `json:"answerIndex"`
	Explanation  string   `json:"explanation"`
	SourceURL    string   `json:"sourceUrl"`
}

// Corpus is the persisted aggregate. Question order is existing-first,
// then newly added, to keep diffs stable across reruns.
type Corpus struct {
	Version        int      `json:"version"`
	Questions      []Record `json:"questions"`
	GeneratedAt    string   `json:"generatedAt,omitempty"`
	SourceSessions []string `json:"sourceSessions,omitempty"`
}

type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<missing id>"
	}
	return fmt.Sprintf("invalid record %s: %s", id, e.Reason)
}

// Validate is the sole gatekeeper between candidate and accepted
// records; nothing reaches the store or the disk without passing it.
func Validate(r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return &ValidationError{RecordID: r.ID, Reason: "id is required"}
	}
	if len(r.Choices) == 0 {
		return &ValidationError{RecordID: r.ID, Reason: "choices must be non-empty"}
	}
	for i, choice := range r.Choices {
		if strings.TrimSpace(choice) == "" {
			return &ValidationError{
				RecordID: r.ID,
				Reason:   fmt.Sprintf("choice %d is blank", i),
			}
		}
	}
	if r.AnswerIndex != UnknownAnswer && (r.AnswerIndex < 0 || r.AnswerIndex >= len(r.Choices)) {
		return &ValidationError{
			RecordID: r.ID,
			Reason: fmt.Sprintf(
				"answerIndex %d out of range for %d choices",
				r.AnswerIndex, len(r.Choices),
			),
		}
	}
	return nil
}

// ValidateCorpus checks every record plus corpus-level id uniqueness.
func ValidateCorpus(c Corpus) error {
	seen := make(map[string]bool, len(c.Questions))
	for _, q := range c.Questions {
		if err := Validate(q); err != nil {
			return err
		}
		if seen[q.ID] {
			return &ValidationError{RecordID: q.ID, Reason: "duplicate id in corpus"}
		}
		seen[q.ID] = true
	}
	return nil
}

// ContentFingerprint hashes the normalized prompt and choices. Two
// records with distinct ids but the same fingerprint are the same
// question scraped twice.
func ContentFingerprint(r Record) string {
	h := sha256.New()
	if r.Text != nil {
		h.Write([]byte(normalizeContent(*r.Text)))
	}
	for _, choice := range r.Choices {
		h.Write([]byte{0})
		h.Write([]byte(normalizeContent(choice)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SynthesizeID builds a record id from a partition key and the
// partition's sequence counter, for pages that carry no usable id.
func SynthesizeID(partitionKey, sequence int) string {
	return fmt.Sprintf("p%d-q%03d", partitionKey, sequence)
}
