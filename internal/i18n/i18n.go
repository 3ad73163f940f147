// Package i18n loads the embedded notice and label catalogs and hands out
// x/text printers for them.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"

	"chatclient/internal/api"
)

// DefaultLocale is the locale of the original web client.
const DefaultLocale = "zh-CN"

//go:embed locales/*.yaml
var embeddedLocales embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle is a set of locale catalogs.
type Bundle struct {
	builder  *catalog.Builder
	tags     []language.Tag
	matcher  language.Matcher
	fallback language.Tag
	keys     map[string]map[string]struct{}
}

var (
	defaultOnce   sync.Once
	defaultBundle *Bundle
	defaultErr    error
)

// Default returns the embedded bundle. It panics if the embedded catalogs
// are broken, which the package tests rule out.
func Default() *Bundle {
	defaultOnce.Do(func() {
		defaultBundle, defaultErr = LoadFromFS(embeddedLocales)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultBundle
}

// LoadFromFS reads every locales/*.yaml file of fsys.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, errors.New("no locale catalogs found")
	}
	sort.Strings(paths)

	b := &Bundle{
		builder: catalog.NewBuilder(catalog.Fallback(language.MustParse(DefaultLocale))),
		keys:    make(map[string]map[string]struct{}),
	}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if err := b.add(p, file); err != nil {
			return nil, err
		}
	}

	fallback := language.MustParse(DefaultLocale)
	if _, ok := b.keys[DefaultLocale]; !ok {
		return nil, fmt.Errorf("default locale %s is not defined", DefaultLocale)
	}
	b.fallback = fallback
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

func (b *Bundle) add(p string, file catalogFile) error {
	locale := strings.TrimSpace(file.Locale)
	fromPath := strings.TrimSuffix(path.Base(p), path.Ext(p))
	if locale != fromPath {
		return fmt.Errorf("catalog %s: locale %q must match file name", p, locale)
	}
	if len(file.Messages) == 0 {
		return fmt.Errorf("catalog %s: no messages", p)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", p, err)
	}

	keys := make(map[string]struct{}, len(file.Messages))
	for key, value := range file.Messages {
		if err := b.builder.SetString(tag, key, value); err != nil {
			return fmt.Errorf("catalog %s: key %q: %w", p, key, err)
		}
		keys[key] = struct{}{}
	}
	b.keys[locale] = keys
	// The default locale goes first so the matcher falls back to it.
	if locale == DefaultLocale {
		b.tags = append([]language.Tag{tag}, b.tags...)
	} else {
		b.tags = append(b.tags, tag)
	}
	return nil
}

// Locales returns the loaded locale names, sorted.
func (b *Bundle) Locales() []string {
	out := make([]string, 0, len(b.keys))
	for locale := range b.keys {
		out = append(out, locale)
	}
	sort.Strings(out)
	return out
}

// Keys returns the message keys of one locale, sorted.
func (b *Bundle) Keys(locale string) []string {
	out := make([]string, 0, len(b.keys[locale]))
	for key := range b.keys[locale] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Match resolves a requested locale to the closest loaded one.
func (b *Bundle) Match(locale string) language.Tag {
	requested, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return b.fallback
	}
	_, index, confidence := b.matcher.Match(requested)
	if confidence == language.No {
		return b.fallback
	}
	return b.tags[index]
}

// Printer returns a printer for the closest loaded locale.
func (b *Bundle) Printer(locale string) *message.Printer {
	return message.NewPrinter(b.Match(locale), message.Catalog(b.builder))
}

// Printer is Default().Printer.
func Printer(locale string) *message.Printer {
	return Default().Printer(locale)
}

// Failure renders the alert for a failed user action. A server answer is
// shown under format with its message, anything else as the generic text.
func Failure(p *message.Printer, err error, format, generic string) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return p.Sprintf(format, api.ServerMessage(err))
	}
	return p.Sprintf(generic)
}
