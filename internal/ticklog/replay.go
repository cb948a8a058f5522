package ticklog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/logs"
)

// Replay feeds every record logged for one trading date, in write order, to
// the handler. It is used at tickerplant startup to rebuild the in-memory
// mirror for today.
//
// A torn record at the tail (partial write or checksum mismatch from a
// crash) ends the replay cleanly: everything before it has already been
// applied, which matches the durability contract.
func Replay(dir, prefix, date string, opts ReaderOptions, handler func(Record, []byte) error) (int, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	files, err := collectSegments(dir, prefix, date)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	applied := 0
	for _, path := range files {
		n, done, err := replayFile(path, opts, handler)
		applied += n
		if err != nil {
			return applied, err
		}
		if done {
			break
		}
	}
	return applied, nil
}

func collectSegments(dir, prefix, date string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	want := prefix + "-" + date + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, want) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func replayFile(path string, opts ReaderOptions, handler func(Record, []byte) error) (int, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer file.Close()

	reader := NewReader(file, opts)
	applied := 0
	for {
		rec, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return applied, false, nil
			}
			if err == io.ErrUnexpectedEOF || errors.Is(err, ErrChecksumMismatch) {
				logs.Warnf("ticklog replay stopped at torn record: file=%s applied=%d err=%v", path, applied, err)
				return applied, true, nil
			}
			return applied, false, err
		}
		if err := handler(rec, payload); err != nil {
			return applied, false, err
		}
		applied++
	}
}
