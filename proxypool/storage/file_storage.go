package storage

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"sync"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

// ErrEmptySet is returned by Save when asked to persist nothing.
var ErrEmptySet = errors.New("refusing to persist an empty proxy set")

// Storage 接口定义了代理列表持久化的行为。
type Storage interface {
	// Load returns the persisted endpoints of protocol. A missing store is an empty set.
	Load(protocol model.Protocol) (*model.ProxySet, error)
	// Save replaces the persisted list with set.
	Save(set *model.ProxySet) error
}

// FileStorage 使用纯文本文件持久化，每行一个规范形式的代理地址。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

func (fs *FileStorage) Path() string {
	return fs.filePath
}

// Load 从纯文本文件加载代理。
func (fs *FileStorage) Load(protocol model.Protocol) (*model.ProxySet, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Warn().Str("path", fs.filePath).Msg("Proxy file not found.")
			return model.NewProxySet(), nil
		}
		return nil, err
	}
	defer file.Close()

	set := model.NewProxySet()
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, err := parseEntry(protocol, line)
		if err != nil {
			l.Warn().Err(err).Int("line", lineNum).Msg("Skipping invalid line in proxy file.")
			continue
		}
		set.Add(e)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Info().Int("count", set.Len()).Str("path", fs.filePath).Msg("Successfully loaded proxies from file.")
	return set, nil
}

// Save 将代理集合写入文件，按规范形式排序。
func (fs *FileStorage) Save(set *model.ProxySet) error {
	if set.Len() == 0 {
		return ErrEmptySet
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	var sb strings.Builder
	for _, s := range set.Strings() {
		sb.WriteString(s)
		sb.WriteString("\n")
	}

	// Write to a sibling file first so a crash never leaves a truncated list.
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	l.Info().Int("count", set.Len()).Str("path", fs.filePath).Msg("Successfully saved proxies to file.")
	return nil
}
