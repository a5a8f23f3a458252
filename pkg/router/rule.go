package router

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// RuleConfig is one config-driven classification override. If is a boolean
// expression over the request attributes ("is_navigation && !is_api_path"),
// Class names the strategy to dispatch to when it matches.
type RuleConfig struct {
	If    string `yaml:"if"`
	Class string `yaml:"class"`
}

type rule struct {
	src   string
	expr  *govaluate.EvaluableExpression
	class Class
}

func parseRule(rc RuleConfig) (*rule, error) {
	class, ok := ParseClass(rc.Class)
	if !ok {
		return nil, fmt.Errorf("invalid rule class [%s]", rc.Class)
	}

	expr, err := govaluate.NewEvaluableExpression(rc.If)
	if err != nil {
		return nil, fmt.Errorf("invalid rule expression [%s]: %w", rc.If, err)
	}

	// Type-check at load time with dummy params so a broken expression
	// fails startup, not a live request.
	expr.ChecksTypes = true
	params := make(govaluate.MapParameters)
	for _, v := range expr.Vars() {
		if !knownAttribute(v) {
			return nil, fmt.Errorf("unknown attribute %s in rule [%s]", v, rc.If)
		}
		params[v] = true
	}
	if _, err := expr.Eval(params); err != nil {
		return nil, fmt.Errorf("invalid rule expression [%s]: %w", rc.If, err)
	}

	return &rule{src: rc.If, expr: expr, class: class}, nil
}

func knownAttribute(name string) bool {
	switch name {
	case "is_navigation", "is_ai_path", "is_api_path", "is_api_host",
		"is_font_host", "is_get", "is_mutation":
		return true
	default:
		return false
	}
}

func (r *rule) match(attrs map[string]interface{}) (bool, error) {
	out, err := r.expr.Evaluate(attrs)
	if err != nil {
		return false, err
	}
	res, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule expression [%s] returned non-boolean: %v", r.src, out)
	}
	return res, nil
}
