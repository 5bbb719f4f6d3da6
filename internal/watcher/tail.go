// Package watcher tails the agent runtime's append-only files: the daily
// debug log and the per-session JSONL transcripts. Both watchers pair
// fsnotify change notification with a fixed-interval fallback poll, since
// notification delivery on append-only files is not always reliable, and
// de-duplicate the two triggers through a byte-offset watermark.
package watcher

import (
	"bufio"
	"io"
	"os"
)

// readNewLines reads complete lines appended to path since offset and returns
// them with the advanced watermark. A file shorter than the watermark (rotated
// or truncated) resets the watermark to the current size without emitting
// anything. Errors are returned for the caller to treat as transient.
func readNewLines(path string, offset int64) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	size := info.Size()
	if size < offset {
		return nil, size, nil
	}
	if size == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	var lines []string
	consumed := offset
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			consumed += int64(len(line))
			if trimmed := trimLine(line); trimmed != "" {
				lines = append(lines, trimmed)
			}
			continue
		}
		if err == io.EOF {
			// Leave a trailing partial line for the next read so we never
			// parse half-written JSON.
			return lines, consumed, nil
		}
		return lines, consumed, err
	}
}

func trimLine(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
