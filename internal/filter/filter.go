// Package filter provides CEL expressions for selecting alerts.
//
// A filter is a boolean expression over one alert, for example
//
//	severity_rank >= 3 && type != "VPN_DETECTED"
//	"10.0.0.5" in entities
//	type == "DUPLICATE_BURST" && data.duplicateRate >= 90.0
package filter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/leadwatch/internal/domain"
)

// ErrInvalidFilter is returned when an expression does not compile to a bool.
var ErrInvalidFilter = errors.New("invalid alert filter")

// Filter is a compiled alert expression. It is safe for concurrent use.
type Filter struct {
	expression string
	program    cel.Program
}

// Compiler compiles filter expressions and keeps them for reuse.
type Compiler struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*Filter
	maxSize  int
}

// NewCompiler creates a compiler holding at most maxSize expressions.
// When full, the stored set is dropped and rebuilt from new requests.
func NewCompiler(maxSize int) (*Compiler, error) {
	if maxSize <= 0 {
		maxSize = 128
	}

	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("severity_rank", cel.IntType),
		cel.Variable("title", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("entities", cel.ListType(cel.StringType)),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("age_seconds", cel.IntType),
		// Evidence decoded from a JSON cache carries doubles where the
		// detectors produced ints.
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Compiler{
		env:      env,
		compiled: make(map[string]*Filter),
		maxSize:  maxSize,
	}, nil
}

// Compile returns the filter for expr, compiling it on first use.
func (c *Compiler) Compile(expr string) (*Filter, error) {
	c.mu.RLock()
	f, ok := c.compiled[expr]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	f, err := c.compile(expr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.compiled) >= c.maxSize {
		c.compiled = make(map[string]*Filter)
	}
	c.compiled[expr] = f
	c.mu.Unlock()

	return f, nil
}

// Validate compiles expr without storing it.
func (c *Compiler) Validate(expr string) error {
	_, err := c.compile(expr)
	return err
}

// Len returns the number of stored expressions.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

func (c *Compiler) compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: expression is empty", ErrInvalidFilter)
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}

	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidFilter, outputType)
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	return &Filter{expression: expr, program: program}, nil
}

// Expression returns the source text.
func (f *Filter) Expression() string {
	return f.expression
}

// Match evaluates the filter against one alert. now anchors age_seconds.
func (f *Filter) Match(alert domain.FraudAlert, now time.Time) (bool, error) {
	data := alert.Data
	if data == nil {
		data = map[string]any{}
	}
	entities := alert.AffectedEntities
	if entities == nil {
		entities = []string{}
	}

	out, _, err := f.program.Eval(map[string]any{
		"type":          string(alert.Type),
		"severity":      string(alert.Severity),
		"severity_rank": int64(alert.Severity.Rank()),
		"title":         alert.Title,
		"description":   alert.Description,
		"entities":      entities,
		"data":          data,
		"age_seconds":   int64(now.Sub(alert.CreatedAt) / time.Second),
	})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("evaluation error: non-bool result %v", out)
	}
	return bool(matched), nil
}

// Apply keeps the alerts the filter matches, preserving order. Alerts whose
// evaluation fails are dropped. The result is never nil.
func (f *Filter) Apply(alerts []domain.FraudAlert, now time.Time) []domain.FraudAlert {
	kept := make([]domain.FraudAlert, 0, len(alerts))
	for _, a := range alerts {
		if ok, err := f.Match(a, now); err == nil && ok {
			kept = append(kept, a)
		}
	}
	return kept
}
