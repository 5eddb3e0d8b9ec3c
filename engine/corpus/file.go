// Package corpus streams raw corpus records for bulk ingestion, either from
// a local JSON Lines / JSON array file or from the Hugging Face
// datasets-server rows API.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Record is one raw corpus row.
type Record = map[string]any

// maxLine bounds a single JSONL record.
const maxLine = 16 << 20

// FileSource reads records from Path. Files ending in .json hold a single
// array of objects; anything else is read as JSON Lines.
type FileSource struct {
	Path string
}

// Records streams the file. A decode failure ends the stream with an error
// naming the offending line or element.
func (f FileSource) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		file, err := os.Open(f.Path)
		if err != nil {
			yield(nil, fmt.Errorf("corpus: open %s: %w", f.Path, err))
			return
		}
		defer file.Close()

		if strings.EqualFold(filepath.Ext(f.Path), ".json") {
			readArray(ctx, file, f.Path, yield)
			return
		}
		readLines(ctx, file, f.Path, yield)
	}
}

func readLines(ctx context.Context, r io.Reader, name string, yield func(Record, error) bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			yield(nil, fmt.Errorf("corpus: %s:%d: %w", name, line, err))
			return
		}
		if !yield(rec, nil) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		yield(nil, fmt.Errorf("corpus: read %s: %w", name, err))
	}
}

func readArray(ctx context.Context, r io.Reader, name string, yield func(Record, error) bool) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		yield(nil, fmt.Errorf("corpus: %s: %w", name, err))
		return
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		yield(nil, fmt.Errorf("corpus: %s: expected a JSON array", name))
		return
	}
	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			yield(nil, fmt.Errorf("corpus: %s[%d]: %w", name, i, err))
			return
		}
		if !yield(rec, nil) {
			return
		}
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		yield(nil, fmt.Errorf("corpus: %s: %w", name, err))
	}
}
