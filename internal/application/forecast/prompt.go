package forecast

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// Versiones de las plantillas iniciales del torneo.
const (
	VersionBaseline = "v1-baseline"
	VersionCoT      = "v2-cot"
)

// DefaultSystem se usa cuando el contexto de noticias no trae prefijo.
const DefaultSystem = "You are a calibrated forecaster."

const templateBaseline = `You are a calibrated forecaster. Given this prediction market question:
"{question}"
[Domain: {domain}]
{news_context}
Guidelines:
- Weight base rates equally with recent news
- Distinguish confirmed facts from speculation
- Consider the specific resolution criteria carefully
- Current market price: {market_price}

Provide:
1. Probability (0-100%) that this resolves YES
2. Your reasoning (2-3 sentences)

JSON only: {"probability": <0-100>, "reasoning": "..."}`

const templateCoT = `[Forecasting task]
Question: "{question}"
Domain: {domain}
Current market price: {market_price}
{news_context}
Step 1: What is the base rate for this type of event?
Step 2: What does recent evidence add? (flag if speculative)
Step 3: What is the specific resolution criteria?
Step 4: What is your calibrated probability?

JSON: {"probability": <0-100>, "reasoning": "..."}`

// SeedVariants son las variantes con las que arranca el torneo (globales).
func SeedVariants() []domain.PromptExperiment {
	return []domain.PromptExperiment{
		{Version: VersionBaseline, Template: templateBaseline, Active: true},
		{Version: VersionCoT, Template: templateCoT, Active: true},
	}
}

// Placeholders que toda plantilla debe contener.
var Placeholders = []string{"{question}", "{domain}", "{news_context}", "{market_price}"}

// ValidTemplate comprueba que la plantilla tiene todos los placeholders.
func ValidTemplate(t string) bool {
	for _, p := range Placeholders {
		if !strings.Contains(t, p) {
			return false
		}
	}
	return true
}

// Render sustituye los placeholders de la plantilla.
func Render(template string, m domain.Market, nc domain.NewsContext) string {
	news := ""
	if nc.Used && nc.Body != "" {
		news = "\nRecent news:\n" + nc.Body + "\n"
	}
	d := string(m.Domain)
	if d == "" {
		d = "unknown"
	}
	r := strings.NewReplacer(
		"{question}", m.Question,
		"{domain}", d,
		"{news_context}", news,
		"{market_price}", fmt.Sprintf("%.1f%%", m.Price*100),
	)
	return r.Replace(template)
}

// SelectVariant elige la variante de prompt para un mercado: primero las del
// dominio, si no las globales. La elección rota por hash del id del mercado,
// así cada variante acumula trials y un mismo mercado siempre usa la misma.
func SelectVariant(prompts []domain.PromptExperiment, d domain.Domain, marketID string) domain.PromptExperiment {
	var scoped, global []domain.PromptExperiment
	for _, p := range prompts {
		if !p.Active {
			continue
		}
		switch p.Domain {
		case d:
			scoped = append(scoped, p)
		case "":
			global = append(global, p)
		}
	}
	pool := scoped
	if len(pool) == 0 {
		pool = global
	}
	if len(pool) == 0 {
		return SeedVariants()[0]
	}
	h := fnv.New32a()
	h.Write([]byte(marketID))
	return pool[int(h.Sum32()%uint32(len(pool)))]
}
