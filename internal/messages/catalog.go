// Package messages holds the user-facing phrases, one YAML file per language.
package messages

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

type Catalog struct {
	fallback string
	phrases  map[string]map[string]string // lang -> key -> phrase
}

// Load reads the embedded locales. fallback must be one of them and is used
// for unknown languages and missing keys.
func Load(fallback string) (*Catalog, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	c := &Catalog{fallback: fallback, phrases: make(map[string]map[string]string)}
	for _, e := range entries {
		b, err := locales.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, err
		}
		m := make(map[string]string)
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("locale %s: %w", e.Name(), err)
		}
		c.phrases[strings.TrimSuffix(e.Name(), path.Ext(e.Name()))] = m
	}
	if _, ok := c.phrases[fallback]; !ok {
		return nil, fmt.Errorf("no locale %q, have %s", fallback, strings.Join(c.Langs(), ", "))
	}
	return c, nil
}

func (c *Catalog) Langs() []string {
	out := make([]string, 0, len(c.phrases))
	for l := range c.phrases {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Missing lists keys of the fallback locale that lang does not define.
func (c *Catalog) Missing(lang string) []string {
	var out []string
	for k := range c.phrases[c.fallback] {
		if _, ok := c.phrases[lang][k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// T renders the phrase key in lang. Region tags ("pt-BR") fall back to the
// base language, then to the fallback locale. An unknown key renders as itself.
func (c *Catalog) T(lang, key string, args ...any) string {
	p, ok := c.lookup(lang, key)
	if !ok {
		return key
	}
	if len(args) == 0 {
		return p
	}
	return fmt.Sprintf(p, args...)
}

func (c *Catalog) lookup(lang, key string) (string, bool) {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if p, ok := c.phrases[lang][key]; ok {
		return p, true
	}
	p, ok := c.phrases[c.fallback][key]
	return p, ok
}
