package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadBundle(t *testing.T) *Bundle {
	t.Helper()
	b := NewBundle("en")
	require.NoError(t, b.LoadDir("testdata"))
	return b
}

func TestBundle_LoadDir(t *testing.T) {
	b := loadBundle(t)
	assert.ElementsMatch(t, []string{"en", "fr", "de"}, b.Languages())
}

func TestBundle_LoadDir_missing(t *testing.T) {
	b := NewBundle("en")
	assert.NoError(t, b.LoadDir("testdata/nope"))
	assert.Equal(t, []string{"en"}, b.Languages())
}

func TestTranslator_nested_keys(t *testing.T) {
	tr := loadBundle(t).Translator("en")
	assert.Equal(t, "Hotels", tr.T("tables.hotels.title"))
	assert.Equal(t, "Name", tr.T("tables.hotels.columns.name"))
	assert.Equal(t, "Active", tr.T("statuses.active"))
}

func TestTranslator_locale(t *testing.T) {
	b := loadBundle(t)

	fr := b.Translator("fr")
	assert.Equal(t, "Hôtels", fr.T("tables.hotels.title"))
	assert.Equal(t, "Ville", fr.T("tables.hotels.columns.city"))

	// Regional variants resolve to the base catalog.
	assert.Equal(t, "Nom", b.Translator("fr-CA").T("tables.hotels.columns.name"))

	assert.Equal(t, "Hotels (DE)", b.Translator("de").T("tables.hotels.title"))
}

func TestTranslator_fallbacks(t *testing.T) {
	b := loadBundle(t)

	// Missing in fr, present in the default catalog.
	assert.Equal(t, "Status", b.Translator("fr").T("tables.hotels.columns.status"))
	// Unknown locale uses the default catalog.
	assert.Equal(t, "Hotels", b.Translator("ja").T("tables.hotels.title"))
	// Unknown IDs come back unchanged.
	assert.Equal(t, "tables.rooms.title", b.Translator("en").T("tables.rooms.title"))
	assert.Equal(t, "", b.Translator("en").T(""))
}

func TestBundle_AddMessages(t *testing.T) {
	b := NewBundle("en")
	require.NoError(t, b.AddMessages("es", map[string]string{"statuses.active": "Activo"}))
	assert.Equal(t, "Activo", b.Translator("es").T("statuses.active"))

	assert.Error(t, b.AddMessages("not a locale!", map[string]string{"x": "y"}))
}

func TestBundle_Match(t *testing.T) {
	b := loadBundle(t)

	assert.Equal(t, "fr", b.Match("fr-CA"))
	assert.Equal(t, "de", b.Match("ja, de;q=0.8, en;q=0.5"))
	assert.Equal(t, "en", b.Match("ja"))
	assert.Equal(t, "en", b.Match(""))
	assert.Equal(t, "en", b.Match())
}

func TestNewBundle_bad_default(t *testing.T) {
	b := NewBundle("???")
	assert.Equal(t, "en", b.Match())
}
