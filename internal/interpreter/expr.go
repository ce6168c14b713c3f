// Copyright 2026 AgentFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package interpreter

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/agentflow/agentflow/internal/engineerr"
)

// Evaluator compiles and caches expr-lang programs keyed by source text,
// so a statement reached many times (e.g. inside an AndMap's body)
// compiles once.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

// NewEvaluator returns an empty Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: map[string]*vm.Program{}}
}

// Evaluate compiles (or reuses a cached compile of) expression and runs
// it against scope. scope's keys are addressable directly as identifiers
// (e.g. "inputs.n", "vars.total", "item.value").
func (e *Evaluator) Evaluate(expression string, scope map[string]any) (any, error) {
	program, err := e.compile(expression, scope)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindParse, expression, err)
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindReference, expression, err)
	}
	return out, nil
}

func (e *Evaluator) compile(expression string, scope map[string]any) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[expression]; ok {
		return p, nil
	}
	p, err := expr.Compile(expression, expr.Env(scope), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.cache[expression] = p
	return p, nil
}

// EvaluateBool evaluates expression and requires a bool result. The
// engine has no caller of it; AndMatch compares its discriminant with
// case keys by plain string equality.
func (e *Evaluator) EvaluateBool(expression string, scope map[string]any) (bool, error) {
	v, err := e.Evaluate(expression, scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, engineerr.New(engineerr.KindValidation, fmt.Sprintf("expression %q did not evaluate to a bool", expression))
	}
	return b, nil
}
