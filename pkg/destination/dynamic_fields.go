package destination

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ramsey-B/petal/pkg/fields"
	"github.com/Ramsey-B/petal/pkg/request"
)

const (
	dynamicKeysSegment   = "__keys__"
	dynamicValuesSegment = "__values__"
)

var arrayIndexSegment = regexp.MustCompile(`^\[(\d+)\]$`)

// DynamicFieldContext tells a handler which nested element it is resolving.
type DynamicFieldContext struct {
	SelectedArrayIndex *int
	SelectedKey        string
}

type DynamicFieldInput struct {
	Settings map[string]any
	Payload  map[string]any
	Page     string
	Auth     *AuthTokens
	Context  DynamicFieldContext
}

type DynamicFieldError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type DynamicFieldResponse struct {
	Choices  []fields.Choice    `json:"choices"`
	NextPage string             `json:"nextPage,omitempty"`
	Error    *DynamicFieldError `json:"error,omitempty"`
}

type DynamicFieldFunc func(ctx context.Context, client *request.Client, in DynamicFieldInput) (DynamicFieldResponse, error)

// DynamicField resolves choices for a top level field. Object fields can
// resolve their keys, their values or individual properties instead.
type DynamicField struct {
	Handler    DynamicFieldFunc
	Keys       DynamicFieldFunc
	Values     DynamicFieldFunc
	Properties map[string]DynamicFieldFunc
}

type DynamicFields map[string]DynamicField

// lookup resolves `key`, `key.__keys__`, `key.__values__`, `key.sub` and
// `key.[0].sub`.
func (d DynamicFields) lookup(fieldPath string) (DynamicFieldFunc, DynamicFieldContext) {
	var fieldCtx DynamicFieldContext
	parts := strings.Split(fieldPath, ".")
	entry, ok := d[parts[0]]
	if !ok {
		return nil, fieldCtx
	}

	switch len(parts) {
	case 1:
		return entry.Handler, fieldCtx
	case 2:
		switch parts[1] {
		case dynamicKeysSegment:
			return entry.Keys, fieldCtx
		case dynamicValuesSegment:
			return entry.Values, fieldCtx
		}
		fieldCtx.SelectedKey = parts[1]
		return entry.Properties[parts[1]], fieldCtx
	case 3:
		match := arrayIndexSegment.FindStringSubmatch(parts[1])
		if match == nil {
			return nil, fieldCtx
		}
		index, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fieldCtx
		}
		fieldCtx.SelectedArrayIndex = &index
		fieldCtx.SelectedKey = parts[2]
		return entry.Properties[parts[2]], fieldCtx
	default:
		return nil, fieldCtx
	}
}

func notFoundDynamicField(fieldPath string) DynamicFieldResponse {
	return DynamicFieldResponse{
		Choices: []fields.Choice{},
		Error: &DynamicFieldError{
			Message: fmt.Sprintf("No dynamic field named %s found.", fieldPath),
			Code:    "404",
		},
	}
}
