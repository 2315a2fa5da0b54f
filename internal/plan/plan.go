// Package plan loads sequence definitions from YAML or CUE files and turns
// them into runnable sequences and queue units.
//
// A plan names a start and an end key and lists steps. Each step names the
// step that follows it and one built-in operation:
//
//	name: accumulate
//	start: "45"
//	end: "5"
//	steps:
//	  - key: "45"
//	    next: "1"
//	    op: add
//	    value: 1
//
// Keys are NFC-normalized on load so visually identical keys compare equal.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpNoop  = "noop"
	OpLog   = "log"
	OpAdd   = "add"
	OpSleep = "sleep"
	OpFail  = "fail"
)

// Ops lists the supported operations.
var Ops = []string{OpNoop, OpLog, OpAdd, OpSleep, OpFail}

// Plan is a named sequence definition.
type Plan struct {
	Name  string `yaml:"name" json:"name"`
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one node of a plan.
type Step struct {
	Key  string `yaml:"key" json:"key"`
	Next string `yaml:"next,omitempty" json:"next,omitempty"`

	// Op defaults to noop.
	Op string `yaml:"op,omitempty" json:"op,omitempty"`

	// Value is the addend for add.
	Value int64 `yaml:"value,omitempty" json:"value,omitempty"`

	// Message is logged by log and returned by fail.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`

	// Duration is a Go duration string for sleep.
	Duration string `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// Load reads a plan, choosing the decoder by file extension
// (.yaml, .yml or .cue).
func Load(path string) (*Plan, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	case ".cue":
		return LoadCUE(path)
	default:
		return nil, fmt.Errorf("unsupported plan file %q: want .yaml, .yml or .cue", path)
	}
}

// LoadYAML reads and parses a YAML plan file.
func LoadYAML(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML plan. Unknown fields are rejected.
func ParseYAML(data []byte) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	p.normalize()
	return &p, nil
}

// Step returns the step with key k.
func (p *Plan) Step(k string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Key == k {
			return s, true
		}
	}
	return Step{}, false
}

func (p *Plan) normalize() {
	p.Start = norm.NFC.String(p.Start)
	p.End = norm.NFC.String(p.End)
	for i := range p.Steps {
		s := &p.Steps[i]
		s.Key = norm.NFC.String(s.Key)
		s.Next = norm.NFC.String(s.Next)
		if s.Op == "" {
			s.Op = OpNoop
		}
	}
}
