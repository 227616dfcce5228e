package domain

// Article es un resultado del buscador de noticias.
type Article struct {
	Title       string
	URL         string
	Content     string
	PublishedAt string
	Speculative bool
}

// NewsContext es el contexto ya filtrado que llega al prompt del forecaster.
type NewsContext struct {
	Articles []Article
	Used     bool   // false si el dominio está deshabilitado o no hubo resultados útiles
	Prefix   string // instrucciones de guardas que encabezan el prompt
	Body     string // bloque de artículos formateado
	Dropped  int    // snippets descartados por definition drift
}

// Confirmed cuenta los artículos incluidos que no están marcados como especulativos.
func (n NewsContext) Confirmed() int {
	c := 0
	for _, a := range n.Articles {
		if !a.Speculative {
			c++
		}
	}
	return c
}
