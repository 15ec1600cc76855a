package actioneval

import (
	"fmt"

	"github.com/dop251/goja"
)

// Criterion is the decoded form of an <ACTR>/<DEPR> "evc" attribute: an
// evaluation criterion of subject attribute, comparison operator, and
// threshold, per spec.md §3's Action/Dependency module ("an evaluation
// criterion (subject attribute, operator, threshold)").
type Criterion struct {
	Subject   string      // attribute short name read off the subject resource
	Operator  string      // eq|ne|lt|le|gt|ge|contains
	Threshold interface{} // thld, compared against the subject's current value
}

// jsExpr maps each supported operator to the goja expression evaluated with
// "value" and "threshold" bound in scope. Comparisons run inside a goja VM
// rather than hand-rolled Go switches so that the ordering operators
// (lt/le/gt/ge) get JavaScript's usual numeric/string coercion rules when a
// subject attribute's JSON-decoded value (float64, string, bool) is compared
// against a threshold that arrived as a different JSON type. eq and ne use
// strict (in)equality, so values of different types are never equal.
var jsExpr = map[string]string{
	"eq":       "value === threshold",
	"ne":       "value !== threshold",
	"lt":       "value < threshold",
	"le":       "value <= threshold",
	"gt":       "value > threshold",
	"ge":       "value >= threshold",
	"contains": "String(value).indexOf(String(threshold)) >= 0",
}

// DecodeCriterion parses a "evc" attribute value (as decoded from JSON,
// i.e. a map[string]interface{}) into a Criterion.
func DecodeCriterion(evc interface{}) (Criterion, error) {
	m, ok := evc.(map[string]interface{})
	if !ok {
		return Criterion{}, fmt.Errorf("evc must be an object with sbjt/op/thld")
	}
	sbjt, _ := m["sbjt"].(string)
	op, _ := m["op"].(string)
	if sbjt == "" {
		return Criterion{}, fmt.Errorf("evc.sbjt is required")
	}
	if _, ok := jsExpr[op]; !ok {
		return Criterion{}, fmt.Errorf("evc.op %q is not a supported operator", op)
	}
	return Criterion{Subject: sbjt, Operator: op, Threshold: m["thld"]}, nil
}

// Evaluate reports whether the criterion holds given the subject resource's
// current attribute value.
func (c Criterion) Evaluate(value interface{}) (bool, error) {
	vm := goja.New()
	if err := vm.Set("value", value); err != nil {
		return false, fmt.Errorf("binding value: %w", err)
	}
	if err := vm.Set("threshold", c.Threshold); err != nil {
		return false, fmt.Errorf("binding threshold: %w", err)
	}
	result, err := vm.RunString(jsExpr[c.Operator])
	if err != nil {
		return false, fmt.Errorf("evaluating criterion: %w", err)
	}
	return result.ToBoolean(), nil
}

// ActionPrimitive is the decoded form of an <ACTR>'s "apv" attribute: the
// operation to perform against a target resource when the criterion fires.
type ActionPrimitive struct {
	Operation string // C|U|D
	To        string
	Content   map[string]interface{}
}

// DecodeActionPrimitive parses an "apv" attribute value.
func DecodeActionPrimitive(apv interface{}) (ActionPrimitive, error) {
	m, ok := apv.(map[string]interface{})
	if !ok {
		return ActionPrimitive{}, fmt.Errorf("apv must be an object with op/to/pc")
	}
	op, _ := m["op"].(string)
	to, _ := m["to"].(string)
	if op == "" || to == "" {
		return ActionPrimitive{}, fmt.Errorf("apv.op and apv.to are required")
	}
	pc, _ := m["pc"].(map[string]interface{})
	return ActionPrimitive{Operation: op, To: to, Content: pc}, nil
}
