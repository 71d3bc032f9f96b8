// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plan defines the prune plan file: a YAML document listing the parameters to prune, each with a ratio
// or an explicit list of channels, and the pruning options.
//
// Example:
//
//	criterion: l1_norm
//	lazy: false
//	params:
//	  - name: conv1.w
//	    ratio: 0.25
//	  - name: conv2.w
//	    indices: [0, 3, 5]
package plan

import (
	"os"

	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/ml/prune"
	"github.com/gomlx/prune/pkg/ml/scope"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultCriterion is used when the plan doesn't set one.
const DefaultCriterion = "l1_norm"

// Entry is one parameter to prune. Exactly one of Ratio or Indices must be set.
type Entry struct {
	// Name of the parameter in the program.
	Name string `yaml:"name"`

	// Ratio of the output channels to prune, in [0, 1).
	// Use pointer to tell an unset ratio from 0.
	Ratio *float64 `yaml:"ratio,omitempty"`

	// Indices of the output channels to prune.
	Indices []int `yaml:"indices,omitempty"`
}

// Plan of a pruning.
type Plan struct {
	// Criterion used to select channels for ratio entries: "l1_norm", "l2_norm".
	Criterion string `yaml:"criterion,omitempty"`

	// Lazy sets pruned channels to zero instead of removing them.
	Lazy bool `yaml:"lazy,omitempty"`

	// OnlyGraph only changes the shapes in the program, values are left untouched.
	OnlyGraph bool `yaml:"onlyGraph,omitempty"`

	// Place is the placement hint given to the pruned values.
	Place int `yaml:"place,omitempty"`

	Params []Entry `yaml:"params"`
}

// Validate checks for invalid plan values.
func (e *Entry) Validate() error {
	if e.Name == "" {
		return errors.New("entry without name")
	}
	if (e.Ratio == nil) == (len(e.Indices) == 0) {
		return errors.Errorf("%q: exactly one of ratio or indices must be given", e.Name)
	}
	if e.Ratio != nil && (*e.Ratio < 0 || *e.Ratio >= 1) {
		return errors.Errorf("%q: ratio must be in [0, 1), got %g", e.Name, *e.Ratio)
	}
	for _, idx := range e.Indices {
		if idx < 0 {
			return errors.Errorf("%q: negative index %d", e.Name, idx)
		}
	}
	return nil
}

// Validate checks for invalid plan values.
func (p *Plan) Validate() error {
	if len(p.Params) == 0 {
		return errors.New("plan has no params to prune")
	}
	if p.Place < 0 {
		return errors.Errorf("place must be >= 0, got %d", p.Place)
	}
	for ii := range p.Params {
		if err := p.Params[ii].Validate(); err != nil {
			return errors.WithMessagef(err, "params[%d]", ii)
		}
	}
	return nil
}

// Parse a YAML plan and validate it. Unset criterion defaults to DefaultCriterion.
func Parse(data []byte) (*Plan, error) {
	p := &Plan{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "parsing prune plan")
	}
	if p.Criterion == "" {
		p.Criterion = DefaultCriterion
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid prune plan")
	}
	return p, nil
}

// Load and parse the plan in filePath.
func Load(filePath string) (*Plan, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading prune plan from %q", filePath)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "in %q", filePath)
	}
	return p, nil
}

// Marshal the plan back to YAML.
func (p *Plan) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "serializing prune plan")
	}
	return data, nil
}

// Config creates a prune.Pruner with the plan's criterion and returns the configuration of the pruning of prog
// and values. Ratio entries are given in order, followed by the index entries.
func (p *Plan) Config(prog *program.Program, values prune.Scope) (*prune.Config, error) {
	pruner, err := prune.New(p.Criterion)
	if err != nil {
		return nil, err
	}
	var names []string
	var ratios []float64
	for _, e := range p.Params {
		if e.Ratio != nil {
			names = append(names, e.Name)
			ratios = append(ratios, *e.Ratio)
		}
	}
	config := pruner.Prune(prog, values, names, ratios).Place(scope.Place(p.Place))
	for _, e := range p.Params {
		if e.Ratio == nil {
			config.WithIndices(e.Name, e.Indices)
		}
	}
	if p.Lazy {
		config.Lazy()
	}
	if p.OnlyGraph {
		config.OnlyGraph()
	}
	return config, nil
}
