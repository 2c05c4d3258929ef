package expr

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Protects CEL environment creation and compilation.
var celMutex sync.Mutex

// Environment is a CEL environment with the watchdo library loaded.
type Environment struct {
	env *cel.Env
}

// NewEnvironment creates a new [Environment]. Additional options, such as
// variable declarations, are applied on top of the library.
func NewEnvironment(opts ...cel.EnvOption) (*Environment, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	env, err := cel.NewEnv(append(opts, cel.Lib(lib{}))...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &Environment{env: env}, nil
}

// Compile compiles expression into a program.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) Compile(expression string) (cel.Program, error) {
	return e.compile(expression, nil)
}

// CompileBool is like [Environment.Compile], but rejects expressions whose
// type is known to not be a boolean.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) CompileBool(expression string) (cel.Program, error) {
	return e.compile(expression, func(out *cel.Type) error {
		if out.IsExactType(cel.BoolType) || out.IsExactType(cel.DynType) {
			return nil
		}

		return fmt.Errorf("%w: got %s", ErrNotBool, out)
	})
}

//nolint:ireturn // Following CEL's function signature.
func (e *Environment) compile(expression string, checkOutput func(*cel.Type) error) (cel.Program, error) {
	celMutex.Lock()
	defer celMutex.Unlock()

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}

	if checkOutput != nil {
		err := checkOutput(ast.OutputType())
		if err != nil {
			return nil, err
		}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}

	return program, nil
}
