package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/secretshub/policy-core/pkg/types"
)

// Loader loads and parses policy files from disk
type Loader struct {
	validator *Validator
	logger    *zap.Logger
}

// NewLoader creates a new policy loader. Loaded policies pass through the
// validator before they are returned; a nil validator skips validation.
func NewLoader(validator *Validator, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loader{
		validator: validator,
		logger:    logger,
	}
}

// LoadFromDirectory loads all policy files from a directory. Files that fail
// to parse or validate are skipped with a warning so one bad file does not
// take down the whole set.
func (l *Loader) LoadFromDirectory(path string) ([]*types.Policy, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var policies []*types.Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		policy, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Warn("failed to load policy file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}

		policies = append(policies, policy)
	}

	return policies, nil
}

// LoadFromFile loads a single policy file. YAML is the canonical format;
// JSON parses through the same path since it is a YAML subset.
func (l *Loader) LoadFromFile(filePath string) (*types.Policy, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	policy := &types.Policy{}
	if err := yaml.Unmarshal(content, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if policy.ID == "" {
		// File-loaded policies default their id to the file basename
		base := filepath.Base(filePath)
		policy.ID = base[:len(base)-len(filepath.Ext(base))]
	}
	if policy.Status == "" {
		policy.Status = types.StatusActive
	}

	if l.validator != nil {
		if err := l.validator.ValidatePolicy(policy); err != nil {
			return nil, fmt.Errorf("policy validation failed: %w", err)
		}
	}

	return policy, nil
}
