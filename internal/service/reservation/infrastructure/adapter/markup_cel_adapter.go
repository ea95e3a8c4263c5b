package adapter

import (
	"context"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"bazaar/internal/service/reservation/domain"
)

// DefaultMarkupRule 要求售价不低于成本乘以保护系数。
const DefaultMarkupRule = `price >= int(double(cost) * floor_rate)`

// CELMarkupValidator 用一条可配置的 CEL 表达式校验报价没有击穿保护毛利。
// 规则在配置里声明，改规则不需要发版。
type CELMarkupValidator struct {
	program   cel.Program
	floorRate float64
}

// NewCELMarkupValidator 编译规则表达式。表达式可以引用
// price、cost（单位都是分）与 floor_rate 三个变量，求值结果必须是布尔。
func NewCELMarkupValidator(rule string, floorRate float64) (*CELMarkupValidator, error) {
	if rule == "" {
		rule = DefaultMarkupRule
	}
	env, err := cel.NewEnv(
		cel.Variable("price", cel.IntType),
		cel.Variable("cost", cel.IntType),
		cel.Variable("floor_rate", cel.DoubleType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile markup rule %q", rule)
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.Errorf("markup rule %q must evaluate to bool, got %s", rule, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build cel program")
	}
	return &CELMarkupValidator{program: program, floorRate: floorRate}, nil
}

func (v *CELMarkupValidator) Validate(_ context.Context, itemID string, proposedPriceCents, costCents int64) error {
	out, _, err := v.program.Eval(map[string]interface{}{
		"price":      proposedPriceCents,
		"cost":       costCents,
		"floor_rate": v.floorRate,
	})
	if err != nil {
		return errors.Wrapf(err, "evaluate markup rule for item %s", itemID)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return errors.Errorf("markup rule produced non-bool result for item %s", itemID)
	}
	if !ok {
		return errors.Wrapf(domain.ErrValidation,
			"price %d breaches markup floor for item %s (cost %d, floor rate %.2f)",
			proposedPriceCents, itemID, costCents, v.floorRate)
	}
	return nil
}
