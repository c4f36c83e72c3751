package perf

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// serverPerformanceResponse mirrors the GET /performance response body.
type serverPerformanceResponse struct {
	SessionID string   `json:"session_id"`
	Records   []Record `json:"records"`
}

// FetchServerRecords pulls the server-observed records for sessionID
// from baseURL's /performance endpoint, for merging into a local
// Tracker's session via MergeServerRecords.
func FetchServerRecords(client *http.Client, baseURL, sessionID string) ([]Record, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing performance base URL %q: %w", baseURL, err)
	}
	u.Path = joinPath(u.Path, "performance")
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	resp, err := client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("fetching server performance records: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching server performance records: status %d", resp.StatusCode)
	}

	var body serverPerformanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding server performance records: %w", err)
	}
	return body.Records, nil
}

func joinPath(base, elem string) string {
	if base == "" || base == "/" {
		return "/" + elem
	}
	if base[len(base)-1] == '/' {
		return base + elem
	}
	return base + "/" + elem
}
