package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// WriteJSONL writes samples to path, one JSON object per line.
func WriteJSONL(path string, samples []domain.Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, sample := range samples {
		if err := enc.Encode(sample); err != nil {
			return fmt.Errorf("encode sample %s: %w", sample.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// WriteJSON writes v to path as indented JSON. Used for the run report.
func WriteJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadJSONL loads samples back from a JSONL file.
func ReadJSONL(path string) ([]domain.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []domain.Sample
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s domain.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, len(samples)+1, err)
		}
		samples = append(samples, s)
	}
	return samples, sc.Err()
}
