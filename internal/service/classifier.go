package service

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
)

//go:embed classification.yaml
var defaultClassificationTable []byte

type Outcome string

const (
	OutcomeTransient Outcome = "transient"
	OutcomeHard      Outcome = "hard"
	// OutcomeUnknown is retried like a transient failure but counted and
	// alerted separately.
	OutcomeUnknown Outcome = "unknown"
)

type ClassificationRule struct {
	Name           string               `yaml:"name"`
	Statuses       []int                `yaml:"statuses"`
	Types          []string             `yaml:"types"`
	Contains       []string             `yaml:"contains"`
	ContainsAll    []string             `yaml:"contains_all"`
	Outcome        Outcome              `yaml:"outcome"`
	ProspectStatus model.ProspectStatus `yaml:"prospect_status"`
	Throttle       bool                 `yaml:"throttle"`
}

type Classification struct {
	Outcome        Outcome
	Rule           string
	ProspectStatus model.ProspectStatus
	Throttled      bool
	Detail         string
}

func (c Classification) Retryable() bool {
	return c.Outcome == OutcomeTransient || c.Outcome == OutcomeUnknown
}

type Classifier struct {
	rules []ClassificationRule
}

// LoadClassifier reads the table at path, or the built-in table when path is empty.
func LoadClassifier(path string) (*Classifier, error) {
	data := defaultClassificationTable
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read classification table: %w", err)
		}
		data = raw
	}
	return ParseClassifier(data)
}

func ParseClassifier(data []byte) (*Classifier, error) {
	var table struct {
		Rules []ClassificationRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse classification table: %w", err)
	}
	if len(table.Rules) == 0 {
		return nil, errors.New("classification table has no rules")
	}
	for i, r := range table.Rules {
		if r.Outcome != OutcomeTransient && r.Outcome != OutcomeHard {
			return nil, fmt.Errorf("rule %d (%s): outcome must be transient or hard", i, r.Name)
		}
		if r.ProspectStatus != "" && !model.CanTransition(model.ProspectStatusProcessing, r.ProspectStatus) {
			return nil, fmt.Errorf("rule %d (%s): prospect status %q is not reachable", i, r.Name, r.ProspectStatus)
		}
		for j := range r.Types {
			table.Rules[i].Types[j] = strings.ToLower(r.Types[j])
		}
		for j := range r.Contains {
			table.Rules[i].Contains[j] = strings.ToLower(r.Contains[j])
		}
		for j := range r.ContainsAll {
			table.Rules[i].ContainsAll[j] = strings.ToLower(r.ContainsAll[j])
		}
	}
	return &Classifier{rules: table.Rules}, nil
}

// MustDefaultClassifier panics if the embedded table is invalid.
func MustDefaultClassifier() *Classifier {
	c, err := ParseClassifier(defaultClassificationTable)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify is a pure function of the error's status, type and text.
func (c *Classifier) Classify(err error) Classification {
	status, typ, text := describe(err)
	for _, r := range c.rules {
		if !r.matches(status, typ, text) {
			continue
		}
		ps := r.ProspectStatus
		if r.Outcome == OutcomeHard && ps == "" {
			ps = model.ProspectStatusFailed
		}
		return Classification{
			Outcome:        r.Outcome,
			Rule:           r.Name,
			ProspectStatus: ps,
			Throttled:      r.Throttle,
			Detail:         err.Error(),
		}
	}
	return Classification{Outcome: OutcomeUnknown, Rule: "unmatched", Detail: err.Error()}
}

func (r ClassificationRule) matches(status int, typ, text string) bool {
	for _, s := range r.Statuses {
		if s == status {
			return true
		}
	}
	if typ != "" {
		for _, t := range r.Types {
			if strings.Contains(typ, t) {
				return true
			}
		}
	}
	for _, frag := range r.Contains {
		if strings.Contains(text, frag) {
			return true
		}
	}
	return containsAll(text, r.ContainsAll)
}

// containsAll reports whether every fragment occurs in text, in any order.
func containsAll(text string, frags []string) bool {
	if len(frags) == 0 {
		return false
	}
	for _, frag := range frags {
		if !strings.Contains(text, frag) {
			return false
		}
	}
	return true
}

func describe(err error) (status int, typ, text string) {
	text = strings.ToLower(err.Error())

	var perr *provider.Error
	if errors.As(err, &perr) {
		status = perr.StatusCode
		typ = strings.ToLower(perr.Type)
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() && !strings.Contains(text, "timeout") {
		text += " timeout"
	}
	return status, typ, text
}
