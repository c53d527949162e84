package lifecycle

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/remitwatch/kestrel/internal/domain"
)

// Operators can attach extra guards to lifecycle edges as CEL expressions
// over the transition context, without recompiling the engine. Expressions
// see actor_id, reason, metadata, from and to, and must return bool.

var (
	guardEnvOnce sync.Once
	guardEnv     *cel.Env
	guardEnvErr  error
)

func celEnv() (*cel.Env, error) {
	guardEnvOnce.Do(func() {
		guardEnv, guardEnvErr = cel.NewEnv(
			cel.Variable("actor_id", cel.StringType),
			cel.Variable("reason", cel.StringType),
			cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("from", cel.StringType),
			cel.Variable("to", cel.StringType),
		)
	})
	return guardEnv, guardEnvErr
}

// CELGuard compiles a CEL predicate into a guard. A false result rejects
// with the configured reason; an evaluation error rejects rather than
// letting an unguarded transition through.
func CELGuard[S ~string](name, expression, reason string) (Guard[S], error) {
	env, err := celEnv()
	if err != nil {
		return Guard[S]{}, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return Guard[S]{}, fmt.Errorf("failed to compile guard %s: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Guard[S]{}, fmt.Errorf("guard %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return Guard[S]{}, fmt.Errorf("failed to create program for guard %s: %w", name, err)
	}

	if reason == "" {
		reason = fmt.Sprintf("guard %s rejected the transition", name)
	}

	return Guard[S]{
		Name: name,
		Check: func(from, to S, ctx Context) Result {
			metadata := ctx.Metadata
			if metadata == nil {
				metadata = map[string]interface{}{}
			}
			out, _, err := program.Eval(map[string]any{
				"actor_id": ctx.ActorID,
				"reason":   ctx.Reason,
				"metadata": metadata,
				"from":     string(from),
				"to":       string(to),
			})
			if err != nil {
				return Reject(fmt.Sprintf("guard %s evaluation failed: %v", name, err))
			}
			if out == types.True {
				return OK()
			}
			return Reject(reason)
		},
	}, nil
}

// AttachConfigGuards compiles and registers every configured guard whose
// entity matches the machine. From "*" registers a wildcard guard.
func AttachConfigGuards[S ~string](m *Machine[S], cfgs []domain.GuardConfig) error {
	for _, cfg := range cfgs {
		if cfg.Entity != m.EntityType() {
			continue
		}

		g, err := CELGuard[S](cfg.Name, cfg.Expression, cfg.Reason)
		if err != nil {
			return err
		}

		if cfg.From == "*" {
			m.RegisterWildcardGuard(S(cfg.To), g)
			continue
		}
		m.RegisterGuard(S(cfg.From), S(cfg.To), g)
	}
	return nil
}
