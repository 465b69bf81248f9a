package offline

import (
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"
)

var resolveTagTests = []struct {
	name   string
	query  string
	accept string
	out    language.Tag
}{
	{"nothing set", "", "", language.English},
	{"query wins over header", "?lang=mr", "hi", language.Marathi},
	{"unsupported query falls through to header", "?lang=fr", "hi", language.Hindi},
	{"garbage query", "?lang=%21%21", "", language.English},
	{"regional variant", "", "hi-IN,en;q=0.5", language.Hindi},
	{"higher q wins regardless of order", "", "hi;q=0.1, mr;q=0.9", language.Marathi},
	{"zero q is not acceptable", "", "hi;q=0, en", language.English},
	{"unsupported only", "", "fr-FR,de;q=0.8", language.English},
	{"unsupported first", "", "fr;q=0.9, mr;q=0.8", language.Marathi},
}

func TestResolveTag(t *testing.T) {
	for _, tt := range resolveTagTests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/status"+tt.query, nil)
			if tt.accept != "" {
				r.Header.Set("Accept-Language", tt.accept)
			}
			if got := resolveTag(r); got != tt.out {
				t.Errorf("got %s, want %s", got, tt.out)
			}
		})
	}
}

func TestCatalogsAreComplete(t *testing.T) {
	keys := []messageKey{
		msgOfflineMode, msgConnectivityRequired, msgFeatureUnavailable, msgActionQueued,
		msgActionLost, msgNotFound, msgInvalidInput, msgGenericError,
	}
	for _, tag := range supportedTags {
		for _, key := range keys {
			got := localize(tag, key)
			if got == string(key) || got != catalogs[tag][key] {
				t.Errorf("%s/%s: got %q", tag, key, got)
			}
		}
	}
	if localize(language.Hindi, msgActionQueued) == localize(language.English, msgActionQueued) {
		t.Error("hindi catalog not registered")
	}
}
