// Package companion implements the C4 companion-server client: a
// token-authenticated duplicate lookup against a local external
// library server (spec.md §4.6 point 3, §6 "Companion server API").
package companion

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Client queries a companion library server by work id.
type Client struct {
	Enabled    bool
	ServerURL  string
	APIToken   string
	HTTPClient *http.Client
	CacheTTL   time.Duration

	cache map[string]cacheEntry
}

type cacheEntry struct {
	result   Result
	cachedAt time.Time
}

// Result is one resolved companion-server lookup (spec.md §6 response shape).
type Result struct {
	Found      bool
	WorkID     int64
	Title      string
	CircleName string
	Tags       []string
	TotalCount int
	// AuthError is set when the server returned 401 — recorded, not fatal
	// (spec.md §7 "Companion auth").
	AuthError bool
}

type searchResponse struct {
	Works []struct {
		ID    json.Number `json:"id"`
		Title string      `json:"title"`
		Circle struct {
			Name string `json:"name"`
		} `json:"circle"`
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	} `json:"works"`
}

// New builds a companion-server client.
func New(enabled bool, serverURL, apiToken string, timeout, cacheTTL time.Duration) *Client {
	return &Client{
		Enabled:    enabled,
		ServerURL:  strings.TrimRight(serverURL, "/"),
		APIToken:   apiToken,
		HTTPClient: &http.Client{Timeout: timeout},
		CacheTTL:   cacheTTL,
		cache:      make(map[string]cacheEntry),
	}
}

var numericSuffix = regexp.MustCompile(`(\d+)$`)

// numericID extracts the numeric suffix of a work code, used to match
// against the companion server's integer work id (spec.md §6).
func numericID(workCode string) (int64, error) {
	m := numericSuffix.FindString(workCode)
	if m == "" {
		return 0, fmt.Errorf("companion: no numeric suffix in %q", workCode)
	}
	return strconv.ParseInt(m, 10, 64)
}

// CheckDuplicate queries the companion server for a work code.
func (c *Client) CheckDuplicate(workCode string) (Result, error) {
	if !c.Enabled {
		return Result{}, nil
	}

	if entry, ok := c.cache[workCode]; ok && time.Since(entry.cachedAt) < c.CacheTTL {
		return entry.result, nil
	}

	wantID, err := numericID(workCode)
	if err != nil {
		return Result{}, err
	}

	url := fmt.Sprintf("%s/api/search?page=1&sort=desc&order=release&nsfw=0&keyword=%s", c.ServerURL, workCode)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("companion: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport failure: recorded, not fatal (spec.md §7 "Companion transport").
		return Result{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Result{AuthError: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, nil
	}

	result := Result{TotalCount: len(parsed.Works)}
	for _, w := range parsed.Works {
		id, err := w.ID.Int64()
		if err != nil {
			continue
		}
		if id == wantID {
			result.Found = true
			result.WorkID = id
			result.Title = w.Title
			result.CircleName = w.Circle.Name
			for _, t := range w.Tags {
				result.Tags = append(result.Tags, t.Name)
			}
			break
		}
	}

	c.cache[workCode] = cacheEntry{result: result, cachedAt: time.Now()}
	return result, nil
}
