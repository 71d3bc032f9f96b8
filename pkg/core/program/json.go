// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package program

import (
	"encoding/json"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/prune/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ProgramFileName is the default file name of a Program stored in a model directory.
const ProgramFileName = "program.json"

type jsonVar struct {
	Name        string `json:"name"`
	DType       string `json:"dtype"`
	Dimensions  []int  `json:"dimensions"`
	Parameter   bool   `json:"parameter,omitempty"`
	Persistable bool   `json:"persistable,omitempty"`
}

type jsonOp struct {
	Type    string              `json:"type"`
	Role    string              `json:"role,omitempty"`
	Inputs  map[string][]string `json:"inputs,omitempty"`
	Outputs map[string][]string `json:"outputs,omitempty"`
	Attrs   map[string]any      `json:"attrs,omitempty"`
}

type jsonProgram struct {
	Vars []jsonVar `json:"vars"`
	Ops  []jsonOp  `json:"ops"`
}

// MarshalJSON implements json.Marshaler.
func (p *Program) MarshalJSON() ([]byte, error) {
	var jp jsonProgram
	for _, v := range p.Vars() {
		jp.Vars = append(jp.Vars, jsonVar{
			Name:        v.Name,
			DType:       v.Shape.DType.String(),
			Dimensions:  v.Shape.Dimensions,
			Parameter:   v.Parameter,
			Persistable: v.Persistable,
		})
	}
	names := func(slots Slots) map[string][]string {
		if len(slots) == 0 {
			return nil
		}
		m := make(map[string][]string, len(slots))
		for slot, vars := range slots {
			for _, v := range vars {
				m[slot] = append(m[slot], v.Name)
			}
		}
		return m
	}
	for _, op := range p.ops {
		jop := jsonOp{Type: op.Type, Inputs: names(op.inputs), Outputs: names(op.outputs), Attrs: op.attrs}
		if op.Role != RoleForward {
			jop.Role = op.Role.String()
		}
		jp.Ops = append(jp.Ops, jop)
	}
	return json.MarshalIndent(jp, "", "  ")
}

// UnmarshalJSON implements json.Unmarshaler. The program must be empty.
func (p *Program) UnmarshalJSON(data []byte) error {
	if p.vars == nil {
		*p = *New()
	}
	if len(p.ops) > 0 || len(p.vars) > 0 {
		return errors.New("program: cannot unmarshal into a non-empty Program")
	}
	var jp jsonProgram
	if err := json.Unmarshal(data, &jp); err != nil {
		return errors.Wrap(err, "program: failed to parse JSON")
	}
	for _, jv := range jp.Vars {
		dtype, err := dtypes.DTypeString(jv.DType)
		if err != nil {
			return errors.Wrapf(err, "program: variable %q has invalid dtype %q", jv.Name, jv.DType)
		}
		if _, found := p.vars[jv.Name]; found {
			return errors.Errorf("program: variable %q defined more than once", jv.Name)
		}
		for _, dim := range jv.Dimensions {
			if dim < 0 {
				return errors.Errorf("program: variable %q has negative dimension %v", jv.Name, jv.Dimensions)
			}
		}
		p.addVar(&Var{
			Name:        jv.Name,
			Shape:       shapes.Make(dtype, jv.Dimensions...),
			Parameter:   jv.Parameter,
			Persistable: jv.Persistable || jv.Parameter,
		})
	}
	for ii, jop := range jp.Ops {
		toSlots := func(m map[string][]string) (Slots, error) {
			slots := make(Slots, len(m))
			for slot, varNames := range m {
				for _, name := range varNames {
					v, found := p.vars[name]
					if !found {
						return nil, errors.Errorf("program: op #%d (%s) refers to unknown variable %q", ii, jop.Type, name)
					}
					slots[slot] = append(slots[slot], v)
				}
			}
			return slots, nil
		}
		inputs, err := toSlots(jop.Inputs)
		if err != nil {
			return err
		}
		outputs, err := toSlots(jop.Outputs)
		if err != nil {
			return err
		}
		role := RoleForward
		if jop.Role != "" {
			var ok bool
			role, ok = RoleFromString(jop.Role)
			if !ok {
				return errors.Errorf("program: op #%d (%s) has unknown role %q", ii, jop.Type, jop.Role)
			}
		}
		p.AddOp(jop.Type, inputs, outputs, jop.Attrs).WithRole(role)
	}
	return nil
}

// Save the program as JSON to filePath.
func (p *Program) Save(filePath string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize program to %q", filePath)
	}
	if err = os.WriteFile(filePath, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write program to %q", filePath)
	}
	return nil
}

// Load a program saved with Program.Save.
func Load(filePath string) (*Program, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read program from %q", filePath)
	}
	p := New()
	if err = json.Unmarshal(data, p); err != nil {
		return nil, errors.WithMessagef(err, "loading program from %q", filePath)
	}
	return p, nil
}
