// Package rights derives profile, entity and group assignments for
// users provisioned from assertion claims.
package rights

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// Rule maps a claim predicate to a rights assignment. A rule matches
// when every non-empty predicate field matches the projection; the
// first matching rule wins.
type Rule struct {
	// Predicates. Group matches any of the subject's group claims,
	// EmailSuffix is a case-insensitive suffix match on the email
	// address, JobTitle and Country compare case-insensitively.
	Group       string `yaml:"group"`
	EmailSuffix string `yaml:"email_suffix"`
	JobTitle    string `yaml:"job_title"`
	Country     string `yaml:"country"`

	// Assignment.
	ProfileID int64 `yaml:"profile_id"`
	EntityID  int64 `yaml:"entity_id"`
	GroupID   int64 `yaml:"group_id"`
	Recursive bool  `yaml:"recursive"`
}

// Validate checks that the rule has at least one predicate and assigns
// something.
func (r *Rule) Validate() error {
	if r.Group == "" && r.EmailSuffix == "" && r.JobTitle == "" && r.Country == "" {
		return fmt.Errorf("rule has no predicate")
	}
	if r.ProfileID == 0 && r.EntityID == 0 && r.GroupID == 0 {
		return fmt.Errorf("rule assigns nothing")
	}
	return nil
}

// RulesFile represents the structure of the rights rules file.
type RulesFile struct {
	Defaults struct {
		ProfileID int64 `yaml:"profile_id"`
		EntityID  int64 `yaml:"entity_id"`
	} `yaml:"defaults"`
	Rules []Rule `yaml:"rules"`
}

// FileAssigner loads assignment rules from a local YAML file.
type FileAssigner struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	defaults domain.RightsResult
	rules    []Rule
}

// NewFileAssigner creates a file-based rights assigner. Call Refresh
// before first use.
func NewFileAssigner(path string, logger *zap.Logger) *FileAssigner {
	return &FileAssigner{path: path, logger: logger}
}

// Assign returns the assignment of the first matching rule, or the
// file's defaults when no rule matches.
func (a *FileAssigner) Assign(_ context.Context, in domain.RightsInput) (*domain.RightsResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i := range a.rules {
		r := &a.rules[i]
		if !r.matches(in) {
			continue
		}
		return &domain.RightsResult{
			ProfileID: r.ProfileID,
			EntityID:  r.EntityID,
			GroupID:   r.GroupID,
			Recursive: r.Recursive,
			Matched:   true,
		}, nil
	}

	out := a.defaults
	return &out, nil
}

func (r *Rule) matches(in domain.RightsInput) bool {
	if r.Group != "" && !containsFold(in.Groups, r.Group) {
		return false
	}
	if r.EmailSuffix != "" && !strings.HasSuffix(strings.ToLower(in.Email), strings.ToLower(r.EmailSuffix)) {
		return false
	}
	if r.JobTitle != "" && !strings.EqualFold(r.JobTitle, in.JobTitle) {
		return false
	}
	if r.Country != "" && !strings.EqualFold(r.Country, in.Country) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// Refresh reloads the rules from the file.
func (a *FileAssigner) Refresh(_ context.Context) error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("read rights rules file: %w", err)
	}

	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rights rules file: %w", err)
	}

	for i := range file.Rules {
		if err := file.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}

	a.mu.Lock()
	a.defaults = domain.RightsResult{
		ProfileID: file.Defaults.ProfileID,
		EntityID:  file.Defaults.EntityID,
	}
	a.rules = file.Rules
	a.mu.Unlock()

	a.logger.Info("rights rules loaded",
		zap.String("path", a.path),
		zap.Int("rules", len(file.Rules)))

	return nil
}

var _ ports.RightsAssigner = (*FileAssigner)(nil)
