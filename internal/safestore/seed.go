package safestore

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/shadowtrack/internal/domainutil"
)

//go:embed default_seed.txt
var defaultSeed string

// DefaultSeed returns the built-in seed list.
func DefaultSeed() io.Reader {
	return strings.NewReader(defaultSeed)
}

// ParseSeed reads newline-delimited "<url> <key>" records. The first line is
// a header and blank lines are skipped. URLs are reduced to their
// second-level domain.
func ParseSeed(r io.Reader) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			slog.Debug("seed line skipped", "line", line, "text", text)
			continue
		}
		domain, err := domainutil.FromURL(fields[0])
		if err != nil {
			domain = domainutil.FromHost(fields[0])
		}
		if domain == "" {
			slog.Debug("seed line skipped", "line", line, "text", text)
			continue
		}
		records = append(records, Record{Domain: domain, Key: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("safestore: read seed: %w", err)
	}
	return records, nil
}
