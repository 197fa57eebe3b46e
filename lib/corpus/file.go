package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a corpus file. It does not validate; callers decide
// between strict validation and repair.
func Load(path string) (Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Corpus{}, err
	}
	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return Corpus{}, fmt.Errorf("parsing corpus %s: %w", path, err)
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return c, nil
}

// Write validates and persists a corpus atomically: the JSON goes to a
// temp file in the target directory and is renamed into place, so a
// crash or a concurrent reader never sees a torn corpus.
func Write(path string, c Corpus) error {
	if err := ValidateCorpus(c); err != nil {
		return fmt.Errorf("refusing to persist: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling corpus: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing corpus: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Summary is the per-partition / per-category breakdown printed at the
// end of a run.
type Summary struct {
	Total        int
	PerPartition map[int]int
	PerCategory  map[string]int
}

func Summarize(c Corpus) Summary {
	s := Summary{
		PerPartition: make(map[int]int),
		PerCategory:  make(map[string]int),
	}
	for _, q := range c.Questions {
		s.Total++
		s.PerPartition[q.PartitionKey]++
		s.PerCategory[q.Category]++
	}
	return s
}
