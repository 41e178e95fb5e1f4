package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
)

type chatEnvelope struct {
	Choices []struct {
		Message *struct {
			Content json.RawMessage `json:"content"`
			Refusal string          `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

type contentPart struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

// ExtractCompletion pulls the completion text out of a chat-completions response body:
// choices[0].message.content, either a plain string or an array of parts (first text wins).
func ExtractCompletion(body []byte) (string, error) {
	var env chatEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", common.NewAppError(common.CodeEnvelope, "response is not a chat completion", err)
	}
	if len(env.Choices) == 0 {
		return "", envelopeError("response has no choices")
	}
	msg := env.Choices[0].Message
	if msg == nil {
		return "", envelopeError("first choice has no message")
	}
	content := strings.TrimSpace(string(msg.Content))
	if content == "" || content == "null" {
		if msg.Refusal != "" {
			return "", envelopeError("model refused: " + msg.Refusal)
		}
		return "", envelopeError("first choice has no content")
	}

	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		return s, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(msg.Content, &parts); err == nil {
		for _, p := range parts {
			if p.Text != nil && *p.Text != "" {
				return *p.Text, nil
			}
		}
		return "", envelopeError("content parts carry no text")
	}
	return "", envelopeError("unsupported message content shape")
}

func envelopeError(msg string) error {
	return common.NewAppError(common.CodeEnvelope, msg, nil)
}

// StripFences trims whitespace and removes a surrounding markdown code fence,
// including a "json" language tag after the opening fence.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseCompletion strips fences and parses the completion as a JSON object.
// Anything else yields a KindParseError result carrying the original text.
func ParseCompletion(text string) Result {
	cleaned := StripFences(text)
	if cleaned == "" {
		return Result{Kind: KindParseError, Error: "completion is empty", Raw: text}
	}

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return Result{Kind: KindParseError, Error: "completion is not valid JSON: " + err.Error(), Raw: text}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Result{Kind: KindParseError, Error: fmt.Sprintf("completion is a JSON %s, not an object", jsonKind(v)), Raw: text}
	}

	fields, synonyms := NormalizeCarFields(m)
	return Result{
		Kind:        KindOK,
		Data:        m,
		Fields:      fields,
		Complete:    fields.Make != "" && fields.Model != "",
		SchemaValid: ValidateCar(v) == nil,
		Synonyms:    synonyms,
	}
}

// Interpret turns a raw response body into a Result. It never fails: a malformed
// envelope becomes KindEnvelopeError with the whole body as Raw.
func Interpret(body []byte) Result {
	text, err := ExtractCompletion(body)
	if err != nil {
		return Result{Kind: KindEnvelopeError, Error: err.Error(), Raw: string(body)}
	}
	return ParseCompletion(text)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	}
	return "value"
}
