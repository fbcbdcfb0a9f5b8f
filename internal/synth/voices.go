package synth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Voice describes one voice offered by the server.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

type voiceEntry struct {
	voices  []Voice
	fetched time.Time
}

// Voices lists the voices offered at opts.Endpoint. Listings are cached per
// endpoint; when a refresh fails a stale listing is returned instead of the
// error.
func (c *Client) Voices(ctx context.Context, opts Options) ([]Voice, error) {
	key := strings.TrimRight(opts.Endpoint, "/")

	c.mu.Lock()
	cached, ok := c.voices[key]
	c.mu.Unlock()

	if ok && c.now().Sub(cached.fetched) < c.voiceTTL {
		return cached.voices, nil
	}

	voices, err := c.fetchVoices(ctx, opts)
	if err != nil {
		if ok {
			c.logger.Warn("Using stale voice list", "endpoint", key, "err", err)
			return cached.voices, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.voices[key] = voiceEntry{voices: voices, fetched: c.now()}
	c.mu.Unlock()

	return voices, nil
}

func (c *Client) fetchVoices(ctx context.Context, opts Options) ([]Voice, error) {
	resp, err := c.do(ctx, http.MethodGet, opts, "/voices", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, rejected(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: ErrorCodeNetwork, StatusCode: resp.StatusCode, Message: "reading voices", Cause: err}
	}

	voices, err := ParseVoices(data)
	if err != nil {
		return nil, &APIError{Code: ErrorCodeDecode, StatusCode: resp.StatusCode, Message: "parsing voices", Cause: err}
	}
	return voices, nil
}

// ParseVoices accepts a bare array, {"voices": [...]} or {"data": [...]}.
// Entries may be plain strings or objects. The result is sorted by name.
func ParseVoices(data []byte) ([]Voice, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var wrapped struct {
			Voices []json.RawMessage `json:"voices"`
			Data   []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		raw = wrapped.Voices
		if raw == nil {
			raw = wrapped.Data
		}
	}

	voices := make([]Voice, 0, len(raw))
	for _, r := range raw {
		var id string
		if err := json.Unmarshal(r, &id); err == nil {
			if id != "" {
				voices = append(voices, Voice{ID: id, Name: id})
			}
			continue
		}

		var obj struct {
			ID       string `json:"id"`
			VoiceID  string `json:"voice_id"`
			Name     string `json:"name"`
			Language string `json:"language"`
			Lang     string `json:"lang"`
			Gender   string `json:"gender"`
		}
		if err := json.Unmarshal(r, &obj); err != nil {
			continue
		}

		v := Voice{ID: firstNonEmpty(obj.ID, obj.VoiceID, obj.Name), Name: firstNonEmpty(obj.Name, obj.ID, obj.VoiceID)}
		if v.ID == "" {
			continue
		}
		v.Language = firstNonEmpty(obj.Language, obj.Lang)
		v.Gender = obj.Gender
		voices = append(voices, v)
	}

	sort.SliceStable(voices, func(i, j int) bool {
		return strings.ToLower(voices[i].Name) < strings.ToLower(voices[j].Name)
	})
	return voices, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// DefaultPreviewText is spoken when a voice is previewed without text.
const DefaultPreviewText = "Hello, this is a preview of the selected voice."

const previewLimit = 50

// PreviewText returns the text to synthesize for a voice preview, cut to a
// short sample.
func PreviewText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultPreviewText
	}
	r := []rune(text)
	if len(r) > previewLimit {
		return string(r[:previewLimit]) + "..."
	}
	return text
}
