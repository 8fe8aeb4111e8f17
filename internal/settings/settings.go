// Package settings persists the small user-editable settings blob: the
// expense category vocabulary and the preferred folders.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

var DefaultCategories = []string{
	"Packaging",
	"Courier",
	"Product Purchase",
	"Marketing",
	"Customs",
	"Logistics",
	"Other",
}

type document struct {
	ExpenseCategories []string          `yaml:"expense_categories"`
	OutputFolder      string            `yaml:"output_folder,omitempty"`
	DataFolder        string            `yaml:"data_folder,omitempty"`
	Extra             map[string]string `yaml:"extra,omitempty"`
}

type Store struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open loads path, creating it with the default categories when absent.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.doc = document{ExpenseCategories: append([]string(nil), DefaultCategories...)}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", filepath.Base(path), err)
	}
	if s.doc.ExpenseCategories == nil {
		s.doc.ExpenseCategories = append([]string(nil), DefaultCategories...)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.doc.ExpenseCategories...)
}

// AddCategory appends name unless it is already present. The bool reports
// whether the vocabulary changed.
func (s *Store) AddCategory(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("category name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if indexOf(s.doc.ExpenseCategories, name) >= 0 {
		return false, nil
	}
	s.doc.ExpenseCategories = append(s.doc.ExpenseCategories, name)
	if err := s.save(); err != nil {
		s.doc.ExpenseCategories = s.doc.ExpenseCategories[:len(s.doc.ExpenseCategories)-1]
		return false, err
	}
	return true, nil
}

// DeleteCategory removes name. Expenses already filed under it keep their
// category text.
func (s *Store) DeleteCategory(name string) (bool, error) {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.doc.ExpenseCategories, name)
	if idx < 0 {
		return false, nil
	}
	previous := s.doc.ExpenseCategories
	next := make([]string, 0, len(previous)-1)
	next = append(next, previous[:idx]...)
	next = append(next, previous[idx+1:]...)
	s.doc.ExpenseCategories = next
	if err := s.save(); err != nil {
		s.doc.ExpenseCategories = previous
		return false, err
	}
	return true, nil
}

func (s *Store) OutputFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.OutputFolder
}

func (s *Store) DataFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.DataFolder
}

// Get returns a free-form setting.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "output_folder":
		return s.doc.OutputFolder, s.doc.OutputFolder != ""
	case "data_folder":
		return s.doc.DataFolder, s.doc.DataFolder != ""
	}
	value, ok := s.doc.Extra[key]
	return value, ok
}

// Set stores key and persists the file. output_folder and data_folder are
// first-class keys; anything else lands in the extra map.
func (s *Store) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("setting key is required")
	}
	if key == "expense_categories" {
		return fmt.Errorf("use AddCategory and DeleteCategory for %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "output_folder":
		s.doc.OutputFolder = value
	case "data_folder":
		s.doc.DataFolder = value
	default:
		if s.doc.Extra == nil {
			s.doc.Extra = map[string]string{}
		}
		s.doc.Extra[key] = value
	}
	return s.save()
}

func (s *Store) save() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func indexOf(values []string, target string) int {
	for idx, value := range values {
		if value == target {
			return idx
		}
	}
	return -1
}
