package fields

import (
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/petal/pkg/mapping"
	"github.com/Ramsey-B/petal/pkg/utils"
)

// FilterPayloadByDependsOn returns a shallow copy of payload without the keys
// whose depends_on conditions are not met. It never consults the JSON Schema.
func FilterPayloadByDependsOn(payload map[string]any, fields Fields) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	for _, key := range fields.Keys() {
		field := fields[key]
		if field.DependsOn == nil {
			continue
		}
		if !EvaluateConditions(payload, *field.DependsOn) {
			delete(out, key)
		}
	}
	return out
}

// EvaluateConditions combines each condition with the match mode (all by default).
func EvaluateConditions(payload map[string]any, deps DependsOnConditions) bool {
	if len(deps.Conditions) == 0 {
		return true
	}

	met := ectolinq.Filter(deps.Conditions, func(c Condition) bool {
		return evaluateCondition(payload, c)
	})

	if deps.MatchMode() == MatchAny {
		return len(met) > 0
	}
	return len(met) == len(deps.Conditions)
}

func evaluateCondition(payload map[string]any, c Condition) bool {
	var actual any = mapping.Undefined
	if v, ok := payload[c.FieldKey]; ok {
		actual = v
	} else if strings.ContainsAny(c.FieldKey, ".[") {
		actual = mapping.Get(payload, c.FieldKey)
	}

	var matches bool
	if values, ok := c.Value.([]any); ok {
		for _, v := range values {
			if utils.DeepEqual(actual, v) {
				matches = true
				break
			}
		}
	} else {
		matches = utils.DeepEqual(actual, c.Value)
	}

	if c.Operator == OperatorIsNot {
		return !matches
	}
	return matches
}
