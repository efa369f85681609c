package condition

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"
)

// Derivation is a named expression whose result is added to the field map.
type Derivation struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

type compiledDerivation struct {
	name    string
	program *vm.Program
}

// Deriver computes derived fields. Derivations run in declaration order and
// later ones can read the results of earlier ones.
type Deriver struct {
	derivations []compiledDerivation
	logger      *slog.Logger
}

// NewDeriver compiles every derivation up front. A nil logger uses slog.Default.
func NewDeriver(derivations []Derivation, logger *slog.Logger) (*Deriver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []expr.Option{
		expr.Env(map[string]interface{}{}),
		expr.AllowUndefinedVariables(),
	}

	d := &Deriver{logger: logger.With("component", "condition.deriver")}
	seen := make(map[string]struct{}, len(derivations))
	for _, def := range derivations {
		if def.Name == "" {
			return nil, fmt.Errorf("derived field name is required")
		}
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("derived field %q is defined twice", def.Name)
		}
		seen[def.Name] = struct{}{}

		program, err := expr.Compile(def.Expression, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to compile derived field %q: %w", def.Name, err)
		}
		d.derivations = append(d.derivations, compiledDerivation{name: def.Name, program: program})
	}
	return d, nil
}

// Names returns the derived field names in sorted order.
func (d *Deriver) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.derivations))
	for _, c := range d.derivations {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// Apply returns a copy of fields extended with the derived values. The input
// map is not modified. A derivation that fails or yields nil leaves its field
// absent.
func (d *Deriver) Apply(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	if d == nil || len(d.derivations) == 0 {
		return out
	}

	env := make(map[string]interface{}, len(out))
	for k, v := range out {
		env[k] = exprValue(v)
	}

	for _, c := range d.derivations {
		result, err := expr.Run(c.program, env)
		if err != nil {
			d.logger.Debug("derived field failed", "field", c.name, "error", err)
			continue
		}
		if result == nil {
			continue
		}
		out[c.name] = result
		env[c.name] = exprValue(result)
	}
	return out
}

// exprValue converts values expr cannot do arithmetic on.
func exprValue(v interface{}) interface{} {
	switch n := v.(type) {
	case decimal.Decimal:
		f, _ := n.Float64()
		return f
	case *decimal.Decimal:
		if n == nil {
			return nil
		}
		f, _ := n.Float64()
		return f
	}
	return v
}
