// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package prune implements structural channel pruning of a trained Program.
//
// Given parameters (typically convolution filters) and prune ratios, or explicit lists of channel indices, it
// removes the selected output channels of each parameter and propagates the removal to every structurally
// dependent tensor: the input channels of the following convolutions, biases, batch-normalization statistics,
// fully-connected weights and the matching slices after concatenations. The resulting Program keeps consistent
// shapes and can be executed with the pruned values.
//
// Example:
//
//	pruner := must.M1(prune.New("l1_norm"))
//	result, err := pruner.Prune(prog, values, []string{"conv1.w", "conv2.w"}, []float64{0.25, 0.5}).
//		BackupShapes().
//		Done()
//
// The returned result.Program is a pruned copy of prog, and the values in the scope are replaced in place.
package prune

import (
	"fmt"

	"github.com/gomlx/prune/pkg/core/program"
	"github.com/gomlx/prune/pkg/core/tensors"
	"github.com/gomlx/prune/pkg/ml/scope"
	"github.com/gomlx/prune/pkg/support/sets"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownCriterion is returned by New (and GetCriterion) for criteria not registered.
	ErrUnknownCriterion = errors.New("unknown pruning criterion")

	// ErrUnknownParameter is returned when a requested name is not a variable of the program, or
	// when the value of a variable to prune is missing from the scope.
	ErrUnknownParameter = errors.New("unknown parameter")

	// ErrShapeMismatch is returned when the value of a variable in the scope doesn't have the
	// shape the program declares for it.
	ErrShapeMismatch = errors.New("value shape doesn't match variable shape")
)

// IndexError is returned when an index to prune is out of range for the axis of a variable,
// or repeated.
type IndexError struct {
	Name             string
	Axis, Index, Dim int
	Duplicate        bool
}

// Error implements error.
func (e *IndexError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("pruning %q: index %d repeated for axis %d", e.Name, e.Index, e.Axis)
	}
	return fmt.Sprintf("pruning %q: index %d out of range for axis %d with dimension %d", e.Name, e.Index, e.Axis, e.Dim)
}

// recoverable returns whether err only invalidates the current request: the pruning continues with the
// following ones.
func recoverable(err error) bool {
	var indexErr *IndexError
	return errors.As(err, &indexErr) || errors.Is(err, ErrShapeMismatch)
}

// Scope is the store of variable values used by Prune. It is implemented by *scope.Scope.
type Scope interface {
	Find(name string) (value *tensors.Tensor, found bool)
	Set(name string, value *tensors.Tensor, place scope.Place)
}

var _ Scope = (*scope.Scope)(nil)

// Rule re-expresses the pruning of channels of one of the inputs of step.Op: indices are the pruned channels of
// the tensor flowing from step.From. Rules prune the related parameters with Session.PruneVar and may continue the
// propagation with Session.PropagateFromOp.
type Rule func(s *Session, step Step, indices []int) error

// Pruner prunes programs. It holds the criterion used to select channels, the rule table keyed by operator type and
// the operator types where the search for affected operators stops.
//
// A Pruner is configured at construction (New, RegisterRule, RegisterBoundary) and is read-only afterwards: it can
// then be used for any number of Prune calls.
type Pruner struct {
	criterionName string
	criterion     Criterion
	rules         map[string]Rule
	boundaries    sets.Set[string]
}

// New returns a Pruner with the default rules, selecting channels with the named criterion ("l1_norm", "l2_norm" or
// one added with RegisterCriterion).
func New(criterion string) (*Pruner, error) {
	c, err := GetCriterion(criterion)
	if err != nil {
		return nil, err
	}
	p := &Pruner{
		criterionName: criterion,
		criterion:     c,
		rules:         defaultRules(),
		boundaries:    sets.MakeWith("conv2d", "deformable_conv", "mul", "concat"),
	}
	return p, nil
}

// CriterionName returns the name of the criterion used to select channels.
func (p *Pruner) CriterionName() string { return p.criterionName }

// RegisterRule sets the rule applied to operators of type opType, replacing the previous one if any.
// It returns the Pruner itself, for chaining.
func (p *Pruner) RegisterRule(opType string, rule Rule) *Pruner {
	p.rules[opType] = rule
	return p
}

// RegisterBoundary makes the search for affected operators stop at operators of type opType: their
// outputs don't carry the pruned channels (or their rule takes care of continuing the propagation).
func (p *Pruner) RegisterBoundary(opType string) *Pruner {
	p.boundaries.Insert(opType)
	return p
}

// Result of a Prune call.
type Result struct {
	// Program is the pruned copy of the given program.
	Program *program.Program

	// ValueBackup holds the values of the pruned variables before they were first pruned.
	// Only filled if Config.BackupValues is set.
	ValueBackup map[string]*tensors.Tensor

	// ShapeBackup holds the dimensions of the pruned variables before they were first pruned.
	// Only filled if Config.BackupShapes is set.
	ShapeBackup map[string][]int

	// Failed holds the requests (by parameter name) whose propagation was abandoned, and the reason.
	Failed map[string]error
}

type indicesRequest struct {
	name    string
	indices []int
}

// Config of a Prune call, created by Pruner.Prune. Set the options and call Done to run it.
type Config struct {
	pruner  *Pruner
	program *program.Program
	scope   Scope

	names   []string
	ratios  []float64
	indices []indicesRequest

	lazy, onlyGraph            bool
	backupValues, backupShapes bool
	place                      scope.Place
}

// Prune configures the pruning of the output channels (axis 0) of the named parameters of prog, each with the
// corresponding ratio. Values are read from and written to values.
//
// prog itself is not modified: the pruned program is returned in Result.Program.
//
// It returns a Config object that can be further configured. Call Config.Done to actually prune.
func (p *Pruner) Prune(prog *program.Program, values Scope, names []string, ratios []float64) *Config {
	return &Config{
		pruner:  p,
		program: prog,
		scope:   values,
		names:   names,
		ratios:  ratios,
		place:   scope.HostPlace,
	}
}

// Lazy sets the pruned slices to zero, instead of removing them. Shapes are kept.
func (c *Config) Lazy() *Config {
	c.lazy = true
	return c
}

// OnlyGraph only changes the shapes of the variables in the program: values are not read nor changed.
// Ratio requests then prune the first channels of each parameter.
func (c *Config) OnlyGraph() *Config {
	c.onlyGraph = true
	return c
}

// BackupValues keeps the values of all pruned variables, as they were before pruning, in Result.ValueBackup.
func (c *Config) BackupValues() *Config {
	c.backupValues = true
	return c
}

// BackupShapes keeps the original dimensions of all pruned variables in Result.ShapeBackup.
func (c *Config) BackupShapes() *Config {
	c.backupShapes = true
	return c
}

// Place sets the placement hint used when storing pruned values in the scope. Default is scope.HostPlace.
func (c *Config) Place(place scope.Place) *Config {
	c.place = place
	return c
}

// WithIndices adds a request to prune the given output channels (axis 0) of the named parameter.
// Index requests are processed after the ratio requests, in the order they were added, and they
// don't propagate to sibling operators.
func (c *Config) WithIndices(name string, indices []int) *Config {
	c.indices = append(c.indices, indicesRequest{name: name, indices: indices})
	return c
}

// validate the requests before anything is changed.
func (c *Config) validate() error {
	if c.program == nil {
		return errors.New("Prune: nil program")
	}
	if c.scope == nil && !c.onlyGraph {
		return errors.New("Prune: nil scope, a scope is required unless OnlyGraph is set")
	}
	if len(c.names) != len(c.ratios) {
		return errors.Errorf("Prune: %d parameter names given, but %d ratios", len(c.names), len(c.ratios))
	}
	for ii, name := range c.names {
		if _, found := c.program.Var(name); !found {
			return errors.Wrapf(ErrUnknownParameter, "Prune: %q not in program", name)
		}
		if ratio := c.ratios[ii]; ratio < 0 || ratio >= 1 {
			return errors.Errorf("Prune: ratio %g for %q out of range [0, 1)", ratio, name)
		}
	}
	for _, req := range c.indices {
		if _, found := c.program.Var(req.name); !found {
			return errors.Wrapf(ErrUnknownParameter, "Prune: %q not in program", req.name)
		}
	}
	return nil
}

// Done prunes a copy of the program, and the values in the scope, as configured.
//
// Requests that fail with an *IndexError or ErrShapeMismatch are logged, recorded in Result.Failed and
// the pruning continues with the following requests. Any other error aborts the pruning: in that case the
// values in the scope may have been partially pruned.
func (c *Config) Done() (*Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	s := newSession(c)
	for ii, name := range c.names {
		if err := s.pruneByRatio(name, c.ratios[ii]); err != nil {
			return nil, err
		}
	}
	for _, req := range c.indices {
		if err := s.pruneByIndices(req.name, req.indices); err != nil {
			return nil, err
		}
	}
	s.fixDepthwiseGroups()
	return s.result, nil
}
