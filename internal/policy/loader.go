package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/authguard/go-core/internal/condition"
	"github.com/authguard/go-core/pkg/types"
)

// Loader loads and validates policy files from disk
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a policy loader
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// policyFile is the on-disk document shape: one or more policies per file
type policyFile struct {
	Policies []policyDoc `yaml:"policies"`
}

type policyDoc struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Effect      string `yaml:"effect"`
	Condition   string `yaml:"condition"`
	Priority    int    `yaml:"priority"`
	Active      *bool  `yaml:"active"`
}

// LoadFromDirectory loads all policy files from a directory. Files that fail
// to parse are logged and skipped so one bad file never blocks a reload.
func (l *Loader) LoadFromDirectory(path string) ([]types.Policy, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory: %w", err)
	}

	var policies []types.Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		filePath := filepath.Join(path, entry.Name())
		loaded, err := l.LoadFromFile(filePath)
		if err != nil {
			l.logger.Warn("Failed to load policy file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}
		policies = append(policies, loaded...)
	}

	return policies, nil
}

// LoadFromFile loads a single policy file
func (l *Loader) LoadFromFile(path string) ([]types.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	policies := make([]types.Policy, 0, len(doc.Policies))
	for i, pd := range doc.Policies {
		pol, err := l.toPolicy(pd)
		if err != nil {
			return nil, fmt.Errorf("policy %d (%q): %w", i, pd.Name, err)
		}
		policies = append(policies, pol)
	}
	return policies, nil
}

func (l *Loader) toPolicy(pd policyDoc) (types.Policy, error) {
	if pd.Name == "" {
		return types.Policy{}, fmt.Errorf("name is required")
	}
	if pd.Resource == "" || pd.Action == "" {
		return types.Policy{}, fmt.Errorf("resource and action patterns are required")
	}

	effect := types.Effect(pd.Effect)
	if !effect.Valid() {
		return types.Policy{}, fmt.Errorf("effect must be %q or %q, got %q", types.EffectAllow, types.EffectDeny, pd.Effect)
	}

	id := uuid.New()
	if pd.ID != "" {
		parsed, err := uuid.Parse(pd.ID)
		if err != nil {
			return types.Policy{}, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	}

	// A condition that does not parse is reported here but kept: the
	// engine skips it at evaluation time, matching the runtime contract.
	if _, err := condition.Parse(pd.Condition); err != nil {
		l.logger.Warn("Policy has malformed condition; it will never match",
			zap.String("policy", pd.Name),
			zap.Error(err),
		)
	}

	active := true
	if pd.Active != nil {
		active = *pd.Active
	}

	now := time.Now().UTC()
	return types.Policy{
		ID:          id,
		Name:        pd.Name,
		Description: pd.Description,
		Resource:    pd.Resource,
		Action:      pd.Action,
		Effect:      effect,
		Condition:   pd.Condition,
		Priority:    pd.Priority,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
