package forecast

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

const (
	minProbability  = 0.01
	maxProbability  = 0.99
	maxReasoningLen = 500
)

var (
	jsonObject  = regexp.MustCompile(`(?s)\{[^{}]+\}`)
	textPercent = []*regexp.Regexp{
		regexp.MustCompile(`(?i)probability[:\s]+(\d+(?:\.\d+)?)\s*%`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`),
	}
	textDecimal = []*regexp.Regexp{
		regexp.MustCompile(`(?i)probability["\s:]+(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`\b(0\.\d+)\b`),
	}
)

// ParseProbability extrae la probabilidad YES de la respuesta. Acepta JSON con
// "probability", "prob" o "p" y texto libre ("65%", "probability: 0.65").
// Valores > 1 se interpretan como porcentaje. El resultado se recorta a [0.01, 0.99].
func ParseProbability(text string) (float64, bool) {
	if obj := jsonObject.FindString(text); obj != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(obj), &data); err == nil {
			for _, key := range []string{"probability", "prob", "p"} {
				if v, ok := number(data[key]); ok {
					return normalize(v), true
				}
			}
		}
	}
	for _, re := range textPercent {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return clamp(v / 100), true
			}
		}
	}
	for _, re := range textDecimal {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return normalize(v), true
			}
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func normalize(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return clamp(v)
}

func clamp(v float64) float64 {
	return min(max(v, minProbability), maxProbability)
}

// ExtractReasoning devuelve el razonamiento (campo JSON o el texto fuera del
// JSON), como mucho 500 caracteres.
func ExtractReasoning(text string) string {
	if obj := jsonObject.FindString(text); obj != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(obj), &data); err == nil {
			for _, key := range []string{"reasoning", "explanation", "rationale"} {
				if s, ok := data[key].(string); ok && s != "" {
					return truncate(s, maxReasoningLen)
				}
			}
		}
	}
	rest := strings.TrimSpace(jsonObject.ReplaceAllString(text, ""))
	if rest == "" {
		return "No reasoning provided"
	}
	return truncate(rest, maxReasoningLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
