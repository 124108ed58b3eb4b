package metadata

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ppiankov/kohai/internal/catalog"
)

func newTestResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cat := catalog.New(srv.URL, "ja-JP", time.Second, time.Second)
	cat.HTTPClient = srv.Client()
	return &Resolver{Catalog: cat}
}

func TestTranslatedTitleChildPrefersSimplifiedChinese(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		title := ""
		if req.URL.Query().Get("locale") == "zh-CN" {
			title = "简体中文标题"
		}
		json.NewEncoder(w).Encode([]map[string]string{{"work_name": title}})
	})

	info := &catalog.TranslationInfo{IsOriginal: false, IsChild: true, Lang: "ENG"}
	title, ok := r.translatedTitle("RJ000001", info)
	if !ok || title != "简体中文标题" {
		t.Fatalf("translatedTitle = %q, %v", title, ok)
	}
}

// A record that is both an original AND a translation parent must
// still run the availability-gated original branch (is_translation_agree),
// not the translated-child waterfall — the bug the !IsOriginal /
// IsTranslationAgree gates fix.
func TestTranslatedTitleOriginalAndParentUsesTranslationAgreeGate(t *testing.T) {
	calls := 0
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]map[string]string{{"work_name": "简体版"}})
	})

	info := &catalog.TranslationInfo{
		IsOriginal:         true,
		IsParent:           true,
		IsTranslationAgree: true,
		TranslationStatusForTranslator: map[string]catalog.LangStatus{
			"CHI_HANS": {IsAvailable: true, IsDenied: false},
		},
	}
	title, ok := r.translatedTitle("RJ000002", info)
	if !ok || title != "简体版" {
		t.Fatalf("translatedTitle = %q, %v, want simplified title via translation-agree gate", title, ok)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one fetch, got %d", calls)
	}
}

func TestTranslatedTitleOriginalWithoutTranslationAgreeSkipsFetch(t *testing.T) {
	calls := 0
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]map[string]string{{"work_name": "should not be used"}})
	})

	info := &catalog.TranslationInfo{IsOriginal: true, IsTranslationAgree: false}
	if _, ok := r.translatedTitle("RJ000003", info); ok {
		t.Fatal("expected no translated title when translation agreement is absent")
	}
	if calls != 0 {
		t.Fatalf("expected no catalog fetch, got %d", calls)
	}
}

func TestTranslatedTitleOriginalDeniedAvailabilitySkipsFetch(t *testing.T) {
	calls := 0
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]map[string]string{{"work_name": "denied"}})
	})

	info := &catalog.TranslationInfo{
		IsOriginal:         true,
		IsTranslationAgree: true,
		TranslationStatusForTranslator: map[string]catalog.LangStatus{
			"CHI_HANS": {IsAvailable: true, IsDenied: true},
			"CHI_HANT": {IsAvailable: false, IsDenied: false},
		},
	}
	if _, ok := r.translatedTitle("RJ000004", info); ok {
		t.Fatal("expected no translated title when both availability gates fail")
	}
	if calls != 0 {
		t.Fatalf("expected no catalog fetch, got %d", calls)
	}
}

func TestAgeCategoryLabel(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{1, "All"},
		{2, "R15"},
		{3, "Adult"},
		{0, "Adult"},
		{99, "Adult"},
	}
	for _, tc := range cases {
		if got := ageCategoryLabel(tc.in); got != tc.want {
			t.Errorf("ageCategoryLabel(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractWorkCode(t *testing.T) {
	code, err := ExtractWorkCode("RJ123456 Some Work.zip")
	if err != nil || code != "RJ123456" {
		t.Fatalf("ExtractWorkCode = %q, %v", code, err)
	}
}
