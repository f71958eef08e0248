package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"trainer-bot/internal/core/ports"
)

// JSONStorage keeps every key in one JSON document on disk. It suits a single
// host running the bot from cron.
type JSONStorage struct {
	FilePath string
	mu       sync.RWMutex
	Data     map[string]string
}

func NewJSONStorage(filePath string) (*JSONStorage, error) {
	s := &JSONStorage{
		FilePath: filePath,
		Data:     make(map[string]string),
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := s.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

var _ ports.Storage = (*JSONStorage)(nil)

func (s *JSONStorage) loadFromFile() error {
	file, err := os.ReadFile(s.FilePath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(file, &s.Data); err != nil {
		return fmt.Errorf("parse %s: %w", s.FilePath, err)
	}
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	return nil
}

// saveToFile writes through a temp file so a crash never leaves half a document.
func (s *JSONStorage) saveToFile() error {
	data, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.FilePath)
}

func (s *JSONStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Data[key]
	return v, ok, nil
}

func (s *JSONStorage) Put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data[key] = value
	return s.saveToFile()
}
