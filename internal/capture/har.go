package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// HAR 1.2 document model, restricted to the fields the downstream spec
// synthesizer consumes.

type harFile struct {
	Log harLog `json:"log"`
}

type harLog struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type harEntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         harRequest  `json:"request"`
	Response        harResponse `json:"response"`
	Comment         string      `json:"comment,omitempty"`
}

type harRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Headers     []harPair    `json:"headers"`
	QueryString []harPair    `json:"queryString"`
	PostData    *harPostData `json:"postData,omitempty"`
}

type harResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"statusText"`
	HTTPVersion string     `json:"httpVersion"`
	Headers     []harPair  `json:"headers"`
	Content     harContent `json:"content"`
}

type harPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type harContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// WriteHAR serializes the exchanges as a HAR 1.2 log. The comment field
// carries the correlation id and phase so crawl and probe traffic remain
// distinguishable in the merged document.
func WriteHAR(w io.Writer, exchanges []Exchange) error {
	entries := make([]harEntry, 0, len(exchanges))
	for _, ex := range exchanges {
		entries = append(entries, toHAREntry(ex))
	}
	doc := harFile{
		Log: harLog{
			Version: "1.2",
			Creator: harCreator{Name: "knowlet-scanner", Version: "0.1"},
			Entries: entries,
		},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode har: %w", err)
	}
	return nil
}

func toHAREntry(ex Exchange) harEntry {
	entry := harEntry{
		StartedDateTime: ex.Start.UTC().Format(time.RFC3339Nano),
		Time:            float64(ex.Duration.Milliseconds()),
		Request: harRequest{
			Method:      ex.Method,
			URL:         ex.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     headerPairs(ex.ReqHeaders),
			QueryString: queryPairs(ex.URL),
		},
		Response: harResponse{
			Status:      ex.StatusCode,
			StatusText:  http.StatusText(ex.StatusCode),
			HTTPVersion: "HTTP/1.1",
			Headers:     headerPairs(ex.RespHeaders),
			Content: harContent{
				Size:     len(ex.RespBody),
				MimeType: ex.MimeType,
				Text:     string(ex.RespBody),
			},
		},
		Comment: fmt.Sprintf("%s %s", ex.Phase, ex.ID),
	}
	if len(ex.ReqBody) > 0 {
		entry.Request.PostData = &harPostData{
			MimeType: ex.ReqHeaders.Get("Content-Type"),
			Text:     string(ex.ReqBody),
		}
	}
	return entry
}

func headerPairs(h http.Header) []harPair {
	pairs := make([]harPair, 0, len(h))
	for _, name := range sortedKeys(h) {
		for _, v := range h[name] {
			pairs = append(pairs, harPair{Name: name, Value: v})
		}
	}
	return pairs
}

func queryPairs(rawURL string) []harPair {
	u, err := url.Parse(rawURL)
	if err != nil {
		return []harPair{}
	}
	q := u.Query()
	pairs := make([]harPair, 0, len(q))
	for _, name := range sortedKeys(q) {
		for _, v := range q[name] {
			pairs = append(pairs, harPair{Name: name, Value: v})
		}
	}
	return pairs
}

func sortedKeys[M ~map[string][]string](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
