package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

// DefaultLang is served when nothing in Accept-Language matches.
const DefaultLang = "en"

type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator reads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", langCode+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return newTranslatorFromBytes(langCode, data)
}

func newTranslatorFromBytes(langCode string, data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{lang: langCode, translations: translations}, nil
}

// T returns the translation for key, or key itself when missing.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang }

// Catalog holds one translator per language.
type Catalog struct {
	byLang   map[string]*Translator
	fallback *Translator
}

// NewCatalog loads every locales/*.yaml in fsys. fallback must be among them.
func NewCatalog(fsys fs.FS, fallback string) (*Catalog, error) {
	files, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, err
	}
	c := &Catalog{byLang: make(map[string]*Translator, len(files))}
	for _, f := range files {
		lang := strings.TrimSuffix(path.Base(f), ".yaml")
		tr, err := NewTranslator(fsys, lang)
		if err != nil {
			return nil, err
		}
		c.byLang[lang] = tr
	}
	fb, ok := c.byLang[fallback]
	if !ok {
		return nil, fmt.Errorf("fallback language %q has no translation file", fallback)
	}
	c.fallback = fb
	return c, nil
}

// MustLoadCatalog loads the embedded locales and panics if they are broken.
func MustLoadCatalog() *Catalog {
	c, err := NewCatalog(LocalesFS, DefaultLang)
	if err != nil {
		panic(err)
	}
	return c
}

// For picks the first language in an Accept-Language header we have a
// translation for. Quality values are ignored; browsers already list
// languages in preference order.
func (c *Catalog) For(acceptLanguage string) *Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		primary, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if tr, ok := c.byLang[primary]; ok {
			return tr
		}
	}
	return c.fallback
}
