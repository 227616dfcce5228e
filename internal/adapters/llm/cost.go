package llm

import "strings"

// Precios en USD por millón de tokens (entrada, salida).
var costTable = map[string][2]float64{
	"claude-sonnet-4-6": {3.0, 15.0},
	"claude-haiku-4-5":  {0.25, 1.25},
	"gpt-4.1":           {2.0, 8.0},
	"gpt-4o-mini":       {0.15, 0.60},
	"deepseek-chat":     {0.14, 0.28},
}

var defaultRate = [2]float64{1.0, 3.0}

// EstimateCost devuelve el coste aproximado de una llamada.
// Los ids con sufijo de fecha ("claude-haiku-4-5-20251001") usan la entrada del prefijo.
func EstimateCost(model string, tokensIn, tokensOut int) float64 {
	r, ok := costTable[model]
	if !ok {
		r = defaultRate
		best := 0
		for name, rate := range costTable {
			if strings.HasPrefix(model, name) && len(name) > best {
				r, best = rate, len(name)
			}
		}
	}
	return float64(tokensIn)/1_000_000*r[0] + float64(tokensOut)/1_000_000*r[1]
}
