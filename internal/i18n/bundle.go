// Package i18n loads message catalogs and hands out per-locale Translators.
package i18n

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/concierge/model"
)

// Bundle holds the message catalogs of every supported locale. Load all
// catalogs before serving; lookups are safe for concurrent use afterwards.
type Bundle struct {
	bundle   *goi18n.Bundle
	fallback language.Tag
}

// NewBundle creates an empty bundle whose fallback language is
// defaultLocale. An unparsable locale falls back to English.
func NewBundle(defaultLocale string) *Bundle {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	b := goi18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)
	b.RegisterUnmarshalFunc("yml", yaml.Unmarshal)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)
	return &Bundle{bundle: b, fallback: tag}
}

// LoadDir loads every catalog file in dir. The locale is taken from the file
// name, e.g. "fr.yaml" or "messages.pt-BR.json". A missing directory is not
// an error.
func (b *Bundle) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("i18n: reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isCatalog(e) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := b.bundle.LoadMessageFile(path); err != nil {
			return fmt.Errorf("i18n: loading %s: %w", path, err)
		}
	}
	return nil
}

func isCatalog(e fs.DirEntry) bool {
	switch strings.ToLower(filepath.Ext(e.Name())) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// AddMessages registers id → text pairs for locale.
func (b *Bundle) AddMessages(locale string, messages map[string]string) error {
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("i18n: locale %q: %w", locale, err)
	}
	msgs := make([]*goi18n.Message, 0, len(messages))
	for id, text := range messages {
		msgs = append(msgs, &goi18n.Message{ID: id, Other: text})
	}
	return b.bundle.AddMessages(tag, msgs...)
}

// Languages lists the locales with loaded catalogs.
func (b *Bundle) Languages() []string {
	tags := b.bundle.LanguageTags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// Match picks the supported locale closest to the candidates, which may be
// plain tags or an Accept-Language header value. The fallback wins when
// nothing matches.
func (b *Bundle) Match(candidates ...string) string {
	supported := b.bundle.LanguageTags()
	if len(supported) == 0 {
		return b.fallback.String()
	}
	// The matcher prefers its first tag when nothing matches.
	ordered := append([]language.Tag{b.fallback}, supported...)

	var wanted []language.Tag
	for _, c := range candidates {
		tags, _, err := language.ParseAcceptLanguage(c)
		if err == nil {
			wanted = append(wanted, tags...)
		}
	}
	if len(wanted) == 0 {
		return b.fallback.String()
	}
	_, idx, conf := language.NewMatcher(ordered).Match(wanted...)
	if conf == language.No {
		return b.fallback.String()
	}
	return ordered[idx].String()
}

// Translator returns a Translator for locale. Unknown message IDs are
// returned unchanged.
func (b *Bundle) Translator(locale string) model.Translator {
	return &translator{
		localizer: goi18n.NewLocalizer(b.bundle, locale, b.fallback.String()),
	}
}

type translator struct {
	localizer *goi18n.Localizer
}

func (t *translator) T(messageID string) string {
	if messageID == "" {
		return ""
	}
	text, err := t.localizer.Localize(&goi18n.LocalizeConfig{MessageID: messageID})
	if err != nil || text == "" {
		return messageID
	}
	return text
}
