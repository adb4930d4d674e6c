package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/promptcap/pkg/types"
)

type HARFile struct {
	Log struct {
		Entries []Entry `json:"entries"`
	} `json:"log"`
}

type Entry struct {
	StartedDateTime string `json:"startedDateTime"`
	Request         struct {
		URL      string `json:"url"`
		PostData struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"postData"`
	} `json:"request"`
}

// Parse reads a HAR file and returns its requests in start-time order.
func Parse(filePath string) ([]types.ObservedRequest, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var hf HARFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse har: %w", err)
	}

	type timed struct {
		at  time.Time
		req types.ObservedRequest
	}
	items := make([]timed, 0, len(hf.Log.Entries))
	for _, e := range hf.Log.Entries {
		ts, err := time.Parse(time.RFC3339Nano, e.StartedDateTime)
		if err != nil {
			return nil, fmt.Errorf("parse startedDateTime: %w", err)
		}
		u, err := url.Parse(e.Request.URL)
		if err != nil {
			return nil, fmt.Errorf("parse request url: %w", err)
		}
		items = append(items, timed{
			at: ts,
			req: types.ObservedRequest{
				Host:    u.Host,
				Path:    u.RequestURI(),
				Content: decodeBody(e.Request.PostData.Text, e.Request.PostData.Encoding, e.Request.PostData.MimeType),
			},
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].at.Before(items[j].at)
	})
	reqs := make([]types.ObservedRequest, len(items))
	for i := range items {
		reqs[i] = items[i].req
	}
	return reqs, nil
}

func decodeBody(text, encoding, mimeType string) []byte {
	if text == "" || isBinaryContentType(mimeType) {
		return nil
	}
	if strings.EqualFold(encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil
		}
		return decoded
	}
	return []byte(text)
}

func isBinaryContentType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/") || mt == "application/octet-stream"
}
