package policy

import (
	"encoding/json"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/austinylin/carapace/internal/carapaceerr"
)

// Decision is the outcome of a validation check, paired with a reason
// string that identifies which rule produced it.
type Decision struct {
	Allowed bool
	Reason  string
}

// ValidateMethod applies JSON-RPC method allow/deny lists. Deny always
// wins, even when the method also appears in allow. An empty allow list
// means "no restriction" (unlike argv matching, where an empty allow list
// denies everything) — see spec.md's Open Questions.
func ValidateMethod(method string, allowMethods, denyMethods []string) Decision {
	for _, d := range denyMethods {
		if d == method {
			return Decision{Allowed: false, Reason: fmt.Sprintf("method %q is in jsonrpc_deny_methods", method)}
		}
	}
	if len(allowMethods) > 0 {
		found := false
		for _, a := range allowMethods {
			if a == method {
				found = true
				break
			}
		}
		if !found {
			return Decision{Allowed: false, Reason: fmt.Sprintf("method %q is not in jsonrpc_allow_methods", method)}
		}
	}
	return Decision{Allowed: true, Reason: "method allowed"}
}

// ValidateParams applies a method's parameter filter, if one is
// configured, against the raw JSON-RPC request body. A method with no
// configured filter always passes.
func ValidateParams(method string, body []byte, filters map[string]ParamFilter) (Decision, error) {
	filter, ok := filters[method]
	if !ok {
		return Decision{Allowed: true, Reason: "no param filter configured"}, nil
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Decision{}, carapaceerr.Wrap(carapaceerr.CodeInvalidMessage, "invalid JSON-RPC body", err)
	}
	rawParams, ok := parsed["params"]
	if !ok {
		return Decision{}, carapaceerr.New(carapaceerr.CodeInvalidMessage, "missing params field in JSON-RPC request")
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return Decision{}, carapaceerr.New(carapaceerr.CodeInvalidMessage, "params is not a JSON object")
	}
	rawField, ok := params[filter.Field]
	if !ok {
		return Decision{}, carapaceerr.New(carapaceerr.CodeInvalidMessage, fmt.Sprintf("missing field %q in params", filter.Field))
	}

	value, err := extractFieldValue(rawField)
	if err != nil {
		return Decision{}, carapaceerr.New(carapaceerr.CodeInvalidMessage, fmt.Sprintf("field %q in params: %v", filter.Field, err))
	}

	for _, pattern := range filter.DenyPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return Decision{}, carapaceerr.Wrap(carapaceerr.CodeConfigError, "invalid deny pattern", err)
		}
		if g.Match(value) {
			return Decision{Allowed: false, Reason: fmt.Sprintf("param %q value %q matches deny pattern %q", filter.Field, value, pattern)}, nil
		}
	}

	if len(filter.AllowPatterns) > 0 {
		for _, pattern := range filter.AllowPatterns {
			g, err := glob.Compile(pattern)
			if err != nil {
				return Decision{}, carapaceerr.Wrap(carapaceerr.CodeConfigError, "invalid allow pattern", err)
			}
			if g.Match(value) {
				return Decision{Allowed: true, Reason: "param matched allow pattern"}, nil
			}
		}
		return Decision{Allowed: false, Reason: fmt.Sprintf("param %q value %q not in allow list", filter.Field, value)}, nil
	}

	return Decision{Allowed: true, Reason: "param passed deny check, no allow list configured"}, nil
}

// extractFieldValue resolves a params field to a single string: either the
// field is itself a JSON string, or it is an array whose first element is
// a string. Any other shape is an error.
func extractFieldValue(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asArray []json.RawMessage
	if err := json.Unmarshal(raw, &asArray); err == nil {
		if len(asArray) == 0 {
			return "", fmt.Errorf("array is empty")
		}
		var first string
		if err := json.Unmarshal(asArray[0], &first); err != nil {
			return "", fmt.Errorf("array's first element is not a string")
		}
		return first, nil
	}
	return "", fmt.Errorf("value is neither a string nor an array")
}
