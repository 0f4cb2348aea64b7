package borg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Info is the subset of `borg info --json` used for reporting.
type Info struct {
	Archives   []Archive      `json:"archives"`
	Cache      Cache          `json:"cache"`
	Repository RepositoryInfo `json:"repository"`
}

// RepositoryInfo identifies the repository.
type RepositoryInfo struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// Cache carries repository wide statistics.
type Cache struct {
	Stats CacheStats `json:"stats"`
}

// CacheStats are the repository totals. UniqueCSize is the deduplicated and
// compressed size of the whole repository.
type CacheStats struct {
	TotalChunks  int64 `json:"total_chunks"`
	TotalCSize   int64 `json:"total_csize"`
	TotalSize    int64 `json:"total_size"`
	UniqueChunks int64 `json:"total_unique_chunks"`
	UniqueCSize  int64 `json:"unique_csize"`
	UniqueSize   int64 `json:"unique_size"`
}

// Archive describes one archive.
type Archive struct {
	Name     string       `json:"name"`
	Hostname string       `json:"hostname"`
	Username string       `json:"username"`
	Start    Time         `json:"start"`
	End      Time         `json:"end"`
	Duration Seconds      `json:"duration"`
	Stats    ArchiveStats `json:"stats"`
}

// ArchiveStats are the sizes of one archive in bytes.
type ArchiveStats struct {
	OriginalSize     int64 `json:"original_size"`
	CompressedSize   int64 `json:"compressed_size"`
	DeduplicatedSize int64 `json:"deduplicated_size"`
	NFiles           int64 `json:"nfiles"`
}

// timeLayouts are tried in order. borg 1.x writes naive ISO timestamps in
// the process time zone (UTC, see defaultEnv); newer versions add an offset.
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
}

// Time is a borg timestamp.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range timeLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised borg timestamp %q", s)
}

// Seconds is a duration encoded as fractional seconds.
type Seconds time.Duration

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Seconds(time.Duration(f * float64(time.Second)))
	return nil
}

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// FirstBytes finds the first "<number> <unit>" pair in line, such as
// "compaction freed about 1.53 kB repository space.", and returns it in bytes.
func FirstBytes(line string) (uint64, bool) {
	words := strings.Fields(line)
	for i := 0; i+1 < len(words); i++ {
		if !startsWithDigit(words[i]) {
			continue
		}
		unit := strings.TrimRight(words[i+1], ".,;")
		n, err := humanize.ParseBytes(words[i] + unit)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
