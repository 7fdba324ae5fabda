package cache

import (
	"bytes"
	"fmt"
	"strconv"
)

// Stored snapshots use the format "version|json". The version is the write
// time in Unix milliseconds and lets the Lua script reject stale writes
// without decoding the document.

func encodeSnapshot(jsonData []byte, version int64) string {
	return strconv.FormatInt(version, 10) + "|" + string(jsonData)
}

func decodeSnapshot(raw string) (int64, []byte, error) {
	data := []byte(raw)
	idx := bytes.IndexByte(data, '|')
	if idx <= 0 {
		return 0, nil, fmt.Errorf("malformed cache entry: missing version separator")
	}

	version, err := strconv.ParseInt(raw[:idx], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("malformed cache entry: invalid version: %w", err)
	}

	return version, data[idx+1:], nil
}
