// Package i18n loads the bot's message catalogs and formats them for a
// user's locale.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// BaseLocale is used when neither the user nor the config names a known locale.
const BaseLocale = "en"

//go:embed locales/*.yaml
var localeFiles embed.FS

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Translator resolves locales and renders message keys.
type Translator struct {
	fallback language.Tag
	tags     []language.Tag
	matcher  language.Matcher
	messages map[language.Tag]map[string]string
	builder  *catalog.Builder
}

// New loads the embedded catalogs. fallback is the locale used for
// unknown or empty user locales; it defaults to BaseLocale.
func New(fallback string) (*Translator, error) {
	return load(localeFiles, "locales", fallback)
}

func load(fsys fs.FS, dir, fallback string) (*Translator, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read locales: %w", err)
	}

	t := &Translator{
		messages: map[language.Tag]map[string]string{},
		builder:  catalog.NewBuilder(catalog.Fallback(language.Make(BaseLocale))),
	}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var lf localeFile
		if err := yaml.Unmarshal(b, &lf); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", e.Name(), err)
		}
		tag, err := language.Parse(strings.TrimSpace(lf.Locale))
		if err != nil {
			return nil, fmt.Errorf("i18n: %s: locale %q: %w", e.Name(), lf.Locale, err)
		}
		if len(lf.Messages) == 0 {
			return nil, fmt.Errorf("i18n: %s has no messages", e.Name())
		}
		for key, msg := range lf.Messages {
			if err := t.builder.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("i18n: %s: %s: %w", e.Name(), key, err)
			}
		}
		t.messages[tag] = lf.Messages
		t.tags = append(t.tags, tag)
	}

	base := language.Make(BaseLocale)
	if _, ok := t.messages[base]; !ok {
		return nil, fmt.Errorf("i18n: base locale %q missing", BaseLocale)
	}
	sort.Slice(t.tags, func(i, j int) bool {
		// base first so the matcher defaults to it
		if t.tags[i] == base {
			return true
		}
		if t.tags[j] == base {
			return false
		}
		return t.tags[i].String() < t.tags[j].String()
	})
	t.matcher = language.NewMatcher(t.tags)

	t.fallback = base
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		t.fallback = t.match(fallback, base)
	}
	return t, nil
}

// Locales lists the loaded locales, base locale first.
func (t *Translator) Locales() []string {
	out := make([]string, 0, len(t.tags))
	for _, tag := range t.tags {
		out = append(out, tag.String())
	}
	return out
}

// Resolve maps a client language code (e.g. Telegram's "de-AT") to a
// loaded locale.
func (t *Translator) Resolve(code string) string {
	return t.match(code, t.fallback).String()
}

func (t *Translator) match(code string, def language.Tag) language.Tag {
	code = strings.TrimSpace(code)
	if code == "" {
		return def
	}
	tag, err := language.Parse(code)
	if err != nil {
		return def
	}
	_, idx, conf := t.matcher.Match(tag)
	if conf == language.No {
		return def
	}
	return t.tags[idx]
}

// Has reports whether key exists in the base catalog.
func (t *Translator) Has(key string) bool {
	_, ok := t.messages[language.Make(BaseLocale)][key]
	return ok
}

// T renders key for locale. Missing keys fall back to the base locale and
// finally to the key itself.
func (t *Translator) T(locale, key string, args ...any) string {
	tag := t.match(locale, t.fallback)
	if _, ok := t.messages[tag][key]; !ok {
		tag = language.Make(BaseLocale)
		if _, ok := t.messages[tag][key]; !ok {
			return key
		}
	}
	p := message.NewPrinter(tag, message.Catalog(t.builder))
	return p.Sprintf(key, args...)
}
