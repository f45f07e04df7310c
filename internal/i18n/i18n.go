// Package i18n serves the bot's message catalogs.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

const (
	localesDir = "locales"
	// FallbackLanguage is consulted when a key is missing from the requested and default catalogs.
	FallbackLanguage = "en"
)

// Translator resolves dot-separated keys such as "errors.save".
type Translator interface {
	T(key string) string
	// Tf formats the translation with fmt verbs.
	Tf(key string, args ...any) string
	Lang() string
}

type catalog map[string]string

// Manager holds one flattened catalog per language.
type Manager struct {
	catalogs    map[string]catalog
	defaultLang string
}

// Load loads the catalogs compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	return LoadFS(embedded, localesDir, defaultLang)
}

// LoadFS reads every *.yaml / *.yml file in dir. Each file maps language codes to nested keys;
// later files override earlier ones key by key.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Manager, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	catalogs := make(map[string]catalog)
	files := 0
	for _, entry := range entries {
		ext := strings.ToLower(path.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files++
		if err := loadFile(fsys, path.Join(dir, entry.Name()), catalogs); err != nil {
			return nil, err
		}
	}
	if files == 0 {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}

	defaultLang = normalizeLang(defaultLang)
	if defaultLang == "" {
		defaultLang = FallbackLanguage
	}
	if _, ok := catalogs[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{catalogs: catalogs, defaultLang: defaultLang}, nil
}

func loadFile(fsys fs.FS, name string, into map[string]catalog) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("i18n: read file %s: %w", name, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("i18n: parse file %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("i18n: %s: top level must map languages to keys", name)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		lang := normalizeLang(root.Content[i].Value)
		if lang == "" {
			continue
		}
		if into[lang] == nil {
			into[lang] = make(catalog)
		}
		flatten("", root.Content[i+1], into[lang])
	}
	return nil
}

func flatten(prefix string, node *yaml.Node, out catalog) {
	switch node.Kind {
	case yaml.ScalarNode:
		if prefix != "" {
			out[prefix] = node.Value
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if key == "" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			flatten(key, node.Content[i+1], out)
		}
	}
}

// normalizeLang lowercases a language tag and drops its region, so "en-US" becomes "en".
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func (m *Manager) Default() Translator {
	if m == nil {
		return translator{}
	}
	return m.Translator(m.defaultLang)
}

// Translator returns a translator for lang, or for the default language when lang is unknown.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	norm := normalizeLang(lang)
	if m.catalogs[norm] == nil {
		norm = m.defaultLang
	}
	chain := []catalog{m.catalogs[norm], m.catalogs[m.defaultLang], m.catalogs[FallbackLanguage]}
	return translator{lang: norm, chain: chain}
}

// Languages returns the loaded language codes, sorted.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.catalogs))
	for lang := range m.catalogs {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// MissingKeys lists the keys the default catalog has and lang lacks, sorted.
func (m *Manager) MissingKeys(lang string) []string {
	if m == nil {
		return nil
	}
	have := m.catalogs[normalizeLang(lang)]
	var missing []string
	for key := range m.catalogs[m.defaultLang] {
		if _, ok := have[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

type translator struct {
	lang  string
	chain []catalog
}

func (t translator) Lang() string { return t.lang }

// T returns the first translation found along the language chain, or key itself.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	for _, c := range t.chain {
		if v, ok := c[key]; ok && v != "" {
			return v
		}
	}
	return key
}

func (t translator) Tf(key string, args ...any) string {
	return fmt.Sprintf(t.T(key), args...)
}
