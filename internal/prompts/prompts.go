// Package prompts loads the instruction pairs the stages send to the
// model. Prompts live on the filesystem under a task root:
//
//	<root>/instructions/system.txt            classification
//	<root>/instructions/user.txt
//	<root>/instructions/<CATEGORY>/system.txt extraction, per category
//	<root>/instructions/<CATEGORY>/user.txt
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lhuarcayat/BedrockAgent/internal/documents"
)

// ErrPromptNotFound indicates a missing prompt file.
var ErrPromptNotFound = errors.New("prompt not found")

// Pair is a system instruction and its user message template.
type Pair struct {
	System string
	User   string
}

// Source provides the prompts each stage sends to the model.
type Source interface {
	// Classification returns the prompt pair for document classification.
	Classification() (Pair, error)
	// Extraction returns the prompt pair for extracting a category.
	Extraction(category documents.Category) (Pair, error)
}

// Config holds prompt filesystem parameters.
type Config struct {
	// Root is the task root directory holding instructions/.
	Root string `toml:"root"`
}

type fsSource struct {
	root string
}

// New creates a filesystem-backed prompt source. Prompts are read per
// call so instruction updates apply without a restart.
func New(cfg *Config) Source {
	return &fsSource{root: cfg.Root}
}

func (s *fsSource) Classification() (Pair, error) {
	return s.load(filepath.Join(s.root, "instructions"))
}

func (s *fsSource) Extraction(category documents.Category) (Pair, error) {
	if category.Terminal() {
		return Pair{}, fmt.Errorf("%w: category %s has no extraction prompts", ErrPromptNotFound, category)
	}
	return s.load(filepath.Join(s.root, "instructions", string(category)))
}

func (s *fsSource) load(dir string) (Pair, error) {
	system, err := readPrompt(filepath.Join(dir, "system.txt"))
	if err != nil {
		return Pair{}, err
	}
	user, err := readPrompt(filepath.Join(dir, "user.txt"))
	if err != nil {
		return Pair{}, err
	}
	return Pair{System: system, User: user}, nil
}

func readPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrPromptNotFound, path)
		}
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrPromptNotFound, path)
	}
	return content, nil
}
