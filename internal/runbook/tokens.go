package runbook

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\$\{Token\[(\d+)\]\}`)

func tokenString(i int) string {
	return "${Token[" + strconv.Itoa(i) + "]}"
}

func isIntrinsic(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return k == "Ref" || strings.HasPrefix(k, "Fn::")
	}
	return false
}

// tokenize copies v, replacing every intrinsic with a placeholder string and
// appending the intrinsic to tokens.
func tokenize(v any, tokens *[]any) any {
	switch x := v.(type) {
	case map[string]any:
		if isIntrinsic(x) {
			*tokens = append(*tokens, x)
			return tokenString(len(*tokens) - 1)
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		// token numbers follow key order so renders are reproducible
		sort.Strings(keys)
		out := make(map[string]any, len(x))
		for _, k := range keys {
			out[k] = tokenize(x[k], tokens)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = tokenize(child, tokens)
		}
		return out
	default:
		return v
	}
}

// joinTokens splits body around placeholders and returns an Fn::Join whose
// parts interleave the literal text with the recorded intrinsics.
func joinTokens(body string, tokens []any) (any, error) {
	var parts []any
	last := 0
	for _, loc := range tokenPattern.FindAllStringSubmatchIndex(body, -1) {
		idx, err := strconv.Atoi(body[loc[2]:loc[3]])
		if err != nil || idx >= len(tokens) {
			return nil, fmt.Errorf("unresolved token %q", body[loc[0]:loc[1]])
		}
		if loc[0] > last {
			parts = append(parts, body[last:loc[0]])
		}
		parts = append(parts, tokens[idx])
		last = loc[1]
	}
	if last < len(body) {
		parts = append(parts, body[last:])
	}
	return map[string]any{"Fn::Join": []any{"", parts}}, nil
}
