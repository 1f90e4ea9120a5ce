package validator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/corpix/uarand"

	"openweb_proxy/internal/shared/logger"
)

// BannedList is a set of hosts that must never be returned as survivors.
type BannedList map[string]struct{}

func (b BannedList) Contains(host string) bool {
	_, ok := b[host]
	return ok
}

func (b BannedList) Len() int {
	return len(b)
}

// ParseBanned reads newline-delimited hosts; blank lines and # comments are skipped.
func ParseBanned(r io.Reader) (BannedList, error) {
	out := make(BannedList)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadBanned 从本地文件或 URL 加载禁用列表。加载失败时返回空列表，不中断流程。
func LoadBanned(ctx context.Context, client *http.Client, source string) BannedList {
	l := logger.WithComponent("ProxyPool/Validator")
	if source == "" {
		return BannedList{}
	}

	data, err := readBannedSource(ctx, client, source)
	if err != nil {
		l.Warn().Err(err).Str("source", source).Msg("Banned list unavailable, continuing without it.")
		return BannedList{}
	}

	list, err := ParseBanned(bytes.NewReader(data))
	if err != nil {
		l.Warn().Err(err).Str("source", source).Msg("Failed to parse banned list, continuing without it.")
		return BannedList{}
	}
	l.Info().Int("count", list.Len()).Str("source", source).Msg("Banned list loaded.")
	return list
}

func readBannedSource(ctx context.Context, client *http.Client, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return os.ReadFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", uarand.GetRandom())
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
