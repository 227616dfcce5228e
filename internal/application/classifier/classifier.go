package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

const (
	maxTokens       = 64
	callTimeout     = 20 * time.Second
	fallbackConf    = 0.3
	keywordConf     = 0.5
	defaultConf     = 0.5
	questionLogSize = 50
)

var jsonObject = regexp.MustCompile(`(?s)\{[^}]+\}`)

// Classifier asigna a cada pregunta uno de los seis dominios. Nunca bloquea el
// pipeline: cualquier fallo del modelo degrada al dominio por defecto.
type Classifier struct {
	llm   ports.LLM
	model string
	costs ports.CostStore
}

// New crea el clasificador. Con llm nil se usa el clasificador por palabras clave.
// costs puede ser nil.
func New(llm ports.LLM, model string, costs ports.CostStore) *Classifier {
	return &Classifier{llm: llm, model: model, costs: costs}
}

// Classify devuelve el dominio de la pregunta y la confianza declarada. El
// coste de la llamada queda imputado a marketID.
func (c *Classifier) Classify(ctx context.Context, marketID, question string) (domain.Domain, float64) {
	if c.llm == nil {
		d, conf := KeywordDomain(question)
		slog.Debug("classifier: keyword fallback", "domain", d, "question", truncate(question, questionLogSize))
		return d, conf
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.llm.Complete(callCtx, domain.CompletionRequest{
		Model:       c.model,
		System:      systemPrompt(),
		Prompt:      fmt.Sprintf("Question: %q\n\nClassify this question.", question),
		MaxTokens:   maxTokens,
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("classifier: model call failed, using default domain",
			"model", c.model,
			"market_id", marketID,
			"err", err,
			"question", truncate(question, questionLogSize),
		)
		return domain.DefaultDomain, fallbackConf
	}
	c.recordCost(ctx, marketID, resp)

	d, conf, ok := ParseResponse(resp.Text)
	if !ok {
		slog.Warn("classifier: unparseable output, using default domain",
			"model", c.model,
			"raw", truncate(resp.Text, 100),
		)
	}
	slog.Debug("classified", "question", truncate(question, questionLogSize), "domain", d, "confidence", fmt.Sprintf("%.2f", conf))
	return d, conf
}

func (c *Classifier) recordCost(ctx context.Context, marketID string, resp domain.Completion) {
	if c.costs == nil {
		return
	}
	if err := c.costs.SaveLLMCost(ctx, domain.LLMCost{
		Model:     c.model,
		Purpose:   "classify",
		MarketID:  marketID,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   resp.CostUSD,
	}); err != nil {
		slog.Warn("classifier: save cost failed", "market_id", marketID, "err", err)
	}
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a domain classifier for prediction market questions.\n")
	b.WriteString("Classify each question into exactly one of these domains:\n")
	for _, d := range domain.AllDomains {
		fmt.Fprintf(&b, "- %s: %s\n", d, domain.DomainDefinitions[d])
	}
	b.WriteString("\n")
	b.WriteString(`Respond ONLY with valid JSON: {"domain": "<domain>", "confidence": <0.0-1.0>}`)
	return b.String()
}

// ParseResponse extrae {"domain","confidence"} del texto del modelo. Un dominio
// desconocido se mapea por sinónimos; ok=false si no hay JSON legible.
func ParseResponse(raw string) (d domain.Domain, confidence float64, ok bool) {
	match := jsonObject.FindString(raw)
	if match == "" {
		return domain.DefaultDomain, fallbackConf, false
	}
	var out struct {
		Domain     string   `json:"domain"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return domain.DefaultDomain, fallbackConf, false
	}

	conf := defaultConf
	if out.Confidence != nil {
		conf = min(max(*out.Confidence, 0), 1)
	}
	if parsed, valid := domain.ParseDomain(out.Domain); valid {
		return parsed, conf, true
	}
	return ClosestDomain(out.Domain), conf, true
}

// synonyms en orden: la primera entrada que casa con algún token gana.
// words casa el token entero; stems casa el comienzo del token.
var synonyms = []struct {
	domain domain.Domain
	words  []string
	stems  []string
}{
	{domain.DomainGeopolitics, []string{"war", "wars", "conflict", "diplomacy"}, []string{"geo", "internation", "militar"}},
	{domain.DomainPolitics, []string{"campaign", "policy"}, []string{"elect", "politic", "govern"}},
	{domain.DomainTechnology, []string{"ai", "science"}, []string{"tech", "software", "comput"}},
	{domain.DomainFinance, []string{"business"}, []string{"crypto", "econ", "financ", "market"}},
	{domain.DomainSports, nil, []string{"sport", "athlet"}},
	{domain.DomainEntertainment, []string{"tv", "media", "culture"}, []string{"celebrit", "movie", "film", "music", "award"}},
}

// ClosestDomain mapea un nombre de dominio inesperado al válido más cercano.
func ClosestDomain(raw string) domain.Domain {
	tokens := strings.Fields(Normalize(raw))
	for _, s := range synonyms {
		for _, tok := range tokens {
			if slices.Contains(s.words, tok) {
				return s.domain
			}
			for _, stem := range s.stems {
				if strings.HasPrefix(tok, stem) {
					return s.domain
				}
			}
		}
	}
	return domain.DefaultDomain
}

var keywords = []struct {
	domain domain.Domain
	words  []string
}{
	{domain.DomainGeopolitics, []string{" war", "nato", "sanction", "geopolit", "treaty", "invasion", "ceasefire"}},
	{domain.DomainPolitics, []string{"election", "president", "congress", "senate", "vote", "poll", "governor"}},
	{domain.DomainFinance, []string{"stock", "gdp", " fed ", "inflation", "bitcoin", "earnings", "interest rate"}},
	{domain.DomainSports, []string{"nfl", "nba", "mlb", "soccer", "championship", "super bowl", "world cup"}},
	{domain.DomainTechnology, []string{"apple", "google", "openai", " ai ", "release", "iphone", "gpt"}},
	{domain.DomainEntertainment, []string{"oscar", "emmy", "grammy", "celebrity", "netflix", "film", "box office"}},
}

// KeywordDomain clasifica sin modelo, por palabras clave.
func KeywordDomain(question string) (domain.Domain, float64) {
	text := " " + Normalize(question) + " "
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				return k.domain, keywordConf
			}
		}
	}
	return domain.DefaultDomain, fallbackConf
}

// Normalize deja solo letras, dígitos y espacios simples, en minúsculas.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// truncate corta a n runas para no partir caracteres multibyte en los logs.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
