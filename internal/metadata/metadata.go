// Package metadata implements the C8 metadata resolver: extracting a
// work code from a path, consulting the persisted cache, and falling
// back to the catalog with the translation-title preference waterfall
// (spec.md §4.4 "Metadata resolution").
package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/kohai/internal/catalog"
	"github.com/ppiankov/kohai/internal/store"
)

// Resolver resolves work metadata for an archive or folder name.
type Resolver struct {
	Catalog *catalog.Client
	Store   *store.Store
	CacheTTL time.Duration
}

// New builds a metadata resolver with the given cache lifetime.
func New(c *catalog.Client, s *store.Store, cacheTTL time.Duration) *Resolver {
	return &Resolver{Catalog: c, Store: s, CacheTTL: cacheTTL}
}

var workCodePattern = regexp.MustCompile(`(?i)([rvb]j(?:\d{8}|\d{6}))(?:\D|$)`)

// ErrNoWorkCode is returned when no recognizable work code is present.
var ErrNoWorkCode = fmt.Errorf("metadata: no work code found")

// ExtractWorkCode finds and normalizes the work code in a path or name.
func ExtractWorkCode(name string) (string, error) {
	m := workCodePattern.FindStringSubmatch(name)
	if m == nil {
		return "", ErrNoWorkCode
	}
	return strings.ToUpper(m[1]), nil
}

// localeMap translates DLsite language codes to catalog locale strings
// used for the waterfall's final fallback (dlsite_service.py locale_map).
var localeMap = map[string]string{
	"CHI_HANS": "zh-CN",
	"CHI_HANT": "zh-TW",
	"ENG":      "en-US",
	"KO_KR":    "ko-KR",
	"JPN":      "ja-JP",
}

// Resolve returns the metadata for name, consulting the cache first.
func (r *Resolver) Resolve(name string) (*store.WorkMetadata, error) {
	code, err := ExtractWorkCode(name)
	if err != nil {
		return nil, err
	}

	if cached, err := r.Store.GetMetadata(code); err == nil {
		if !cached.Expired(time.Now()) {
			return cached, nil
		}
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("metadata: cache lookup %s: %w", code, err)
	}

	rec, err := r.Catalog.Fetch(code)
	if err != nil {
		return nil, fmt.Errorf("metadata: fetch %s: %w", code, err)
	}

	m := &store.WorkMetadata{
		WorkCode:    code,
		WorkName:    rec.WorkName,
		MakerID:     rec.MakerID,
		MakerName:   rec.MakerName,
		SeriesID:    rec.SeriesID,
		SeriesName:  rec.SeriesName,
		ReleaseDate: rec.RegistDate,
		AgeCategory: ageCategoryLabel(rec.AgeCategory),
		CachedAt:    time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(r.CacheTTL),
	}
	for _, g := range rec.Genres {
		m.Tags = append(m.Tags, g.Name)
	}
	for _, cv := range rec.Creaters.VoiceBy {
		m.CVs = append(m.CVs, cv.Name)
	}

	if rec.TranslationInfo != nil {
		title, ok := r.translatedTitle(code, rec.TranslationInfo)
		if ok {
			m.TranslatedTitle = title
		}
	}

	if err := r.Store.PutMetadata(m); err != nil {
		return nil, fmt.Errorf("metadata: cache put %s: %w", code, err)
	}
	return m, nil
}

// translatedTitle runs the three-strategy waterfall against the
// catalog and validates each candidate's kana ratio (spec.md §4.4).
func (r *Resolver) translatedTitle(code string, info *catalog.TranslationInfo) (string, bool) {
	switch {
	case !info.IsOriginal:
		// Translated work: prefer Simplified, then Traditional, then its own lang.
		if info.Lang != "CHI_HANS" {
			if title, ok := r.tryLocale(code, "zh-CN", true); ok {
				return title, true
			}
		}
		if info.Lang != "CHI_HANT" {
			if title, ok := r.tryLocale(code, "zh-TW", true); ok {
				return title, true
			}
		}
		locale := localeMap[info.Lang]
		if locale == "" {
			locale = info.Lang
		}
		validate := info.Lang == "CHI_HANS" || info.Lang == "CHI_HANT"
		if title, ok := r.tryLocale(code, locale, validate); ok {
			return title, true
		}

	case info.IsTranslationAgree:
		// Original work with open translation requests: check availability
		// before spending a fetch (dlsite_service.py translation_status_for_translator).
		if status, ok := info.TranslationStatusForTranslator["CHI_HANS"]; ok && status.IsAvailable && !status.IsDenied {
			if title, ok := r.tryLocale(code, "zh-CN", true); ok {
				return title, true
			}
		}
		if status, ok := info.TranslationStatusForTranslator["CHI_HANT"]; ok && status.IsAvailable && !status.IsDenied {
			if title, ok := r.tryLocale(code, "zh-TW", true); ok {
				return title, true
			}
		}
	}
	return "", false
}

func (r *Resolver) tryLocale(code, locale string, validateChinese bool) (string, bool) {
	title, err := r.Catalog.FetchTranslatedTitle(code, locale)
	if err != nil || title == "" {
		return "", false
	}
	if validateChinese && kanaRatio(title) > 0.05 {
		return "", false
	}
	return title, true
}

// kanaRatio returns the fraction of non-space runes that are Japanese
// kana, used to reject falsely-labeled Chinese titles (spec.md §4.4).
func kanaRatio(s string) float64 {
	var kana, nonSpace int
	for _, r := range s {
		if r == ' ' || r == '　' {
			continue
		}
		nonSpace++
		if (r >= 0x3040 && r <= 0x309F) || (r >= 0x30A0 && r <= 0x30FF) {
			kana++
		}
	}
	if nonSpace == 0 {
		return 0
	}
	return float64(kana) / float64(nonSpace)
}

// AgeCategoryAdult mirrors the DLsite age_category=3 "adult" sentinel,
// exposed for classifier rules that branch on it.
const AgeCategoryAdult = 3

// ageCategoryLabel maps the DLsite numeric age_category to the
// three-value label stored on WorkMetadata.
func ageCategoryLabel(n int) string {
	switch n {
	case 1:
		return "All"
	case 2:
		return "R15"
	case AgeCategoryAdult:
		return "Adult"
	default:
		return "Adult"
	}
}
