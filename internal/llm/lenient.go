package llm

import (
	"strconv"
	"strings"
)

// Keys the model has been seen to use instead of make/model, in preference order.
var (
	makeKeys  = []string{"make", "manufacturer", "brand", "car_make"}
	modelKeys = []string{"model", "model_name", "car_model"}
)

// NormalizeCarFields reads make and model out of a parsed completion, accepting the
// common synonyms and numeric models (Mazda 3). The second return value lists the
// synonym keys that were used.
func NormalizeCarFields(m map[string]any) (CarFields, []string) {
	var used []string
	mk, k := firstString(m, makeKeys)
	if k != "" && k != "make" {
		used = append(used, k)
	}
	md, k := firstString(m, modelKeys)
	if k != "" && k != "model" {
		used = append(used, k)
	}
	return CarFields{Make: mk, Model: md}, used
}

func firstString(m map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s, k
		}
	}
	return "", ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "unknown") {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
