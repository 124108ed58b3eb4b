// Package catalog implements the C3 remote catalog client: fetching
// a work record and its translation-linkage graph over HTTP, with a
// 24h in-process memo on top of the persisted metadata cache.
package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client fetches work records from the remote catalog JSON API
// (spec.md §6 "Catalog API").
type Client struct {
	BaseURL    string
	Locale     string
	HTTPClient *http.Client

	memo map[string]memoEntry
}

type memoEntry struct {
	record    *ProductRecord
	cachedAt  time.Time
}

const memoTTL = 24 * time.Hour

// New builds a catalog client with the given connect/read timeouts.
func New(baseURL, locale string, connectTimeout, readTimeout time.Duration) *Client {
	_ = connectTimeout // net/http.Client does not separate connect/read; both bound the overall deadline
	timeout := readTimeout
	if connectTimeout > timeout {
		timeout = connectTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		Locale:     locale,
		HTTPClient: &http.Client{Timeout: timeout},
		memo:       make(map[string]memoEntry),
	}
}

// TranslationInfo mirrors the `translation_info` object of a product record.
type TranslationInfo struct {
	IsOriginal               bool                        `json:"is_original"`
	IsParent                 bool                        `json:"is_parent"`
	IsChild                  bool                        `json:"is_child"`
	IsTranslationAgree       bool                        `json:"is_translation_agree"`
	ParentWorkno             string                      `json:"parent_workno"`
	OriginalWorkno           string                      `json:"original_workno"`
	Lang                     string                      `json:"lang"`
	TranslationStatusForTranslator map[string]LangStatus `json:"translation_status_for_translator"`
	ChildWorknos             []string                    `json:"child_worknos"`
	LanguageEditions         []LanguageEdition           `json:"language_editions"`
}

// LangStatus is one entry of translation_status_for_translator.
type LangStatus struct {
	IsAvailable bool `json:"is_available"`
	IsDenied    bool `json:"is_denied"`
}

// LanguageEdition is one sibling edition of an original work.
type LanguageEdition struct {
	Workno string `json:"workno"`
	Lang   string `json:"lang"`
}

// ProductRecord is the first element of a catalog product.json response.
type ProductRecord struct {
	Workno          string           `json:"workno"`
	WorkName        string           `json:"work_name"`
	MakerID         string           `json:"maker_id"`
	MakerName       string           `json:"maker_name"`
	RegistDate      string           `json:"regist_date"`
	SeriesID        string           `json:"series_id"`
	SeriesName      string           `json:"series_name"`
	AgeCategory     int              `json:"age_category"`
	Genres          []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Creaters struct {
		VoiceBy []struct {
			Name string `json:"name"`
		} `json:"voice_by"`
	} `json:"creaters"`
	ImageMain struct {
		URL string `json:"url"`
	} `json:"image_main"`
	TranslationInfo *TranslationInfo `json:"translation_info"`
}

// ErrNotFound is returned when the catalog has no record for a work code.
var ErrNotFound = fmt.Errorf("catalog: work not found")

// Fetch returns the product record for a work code, using the 24h memo
// before hitting the network (spec.md §4.4).
func (c *Client) Fetch(workCode string) (*ProductRecord, error) {
	if entry, ok := c.memo[workCode]; ok && time.Since(entry.cachedAt) < memoTTL {
		return entry.record, nil
	}

	url := fmt.Sprintf("%s/product.json?workno=%s&locale=%s", strings.TrimRight(c.BaseURL, "/"), workCode, c.Locale)
	rec, err := c.fetchURL(url)
	if err != nil {
		return nil, err
	}

	c.memo[workCode] = memoEntry{record: rec, cachedAt: time.Now()}
	return rec, nil
}

// FetchTranslatedTitle fetches the work name under a different locale,
// used by the translation-preference waterfall (spec.md §4.4).
func (c *Client) FetchTranslatedTitle(workCode, locale string) (string, error) {
	url := fmt.Sprintf("%s/product.json?workno=%s&locale=%s", strings.TrimRight(c.BaseURL, "/"), workCode, locale)
	rec, err := c.fetchURL(url)
	if err != nil {
		return "", err
	}
	return rec.WorkName, nil
}

func (c *Client) fetchURL(url string) (*ProductRecord, error) {
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: fetch %s: HTTP %d", url, resp.StatusCode)
	}

	var records []ProductRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", url, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}
