package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bubble-level/internal/level"
)

type SettingsPayload struct {
	ToleranceDeg float64 `json:"tolerance_deg"`
	InvertX      bool    `json:"invert_x"`
	InvertY      bool    `json:"invert_y"`
	SwapXY       bool    `json:"swap_xy"`
	DarkTheme    bool    `json:"dark_theme"`
	Sound        bool    `json:"sound"`
}

// SettingsPayloadIn is the strict POST schema. Omitted keys are left
// unchanged; unknown, duplicate and null keys are rejected.
type SettingsPayloadIn struct {
	ToleranceDeg *float64 `json:"tolerance_deg"`
	InvertX      *bool    `json:"invert_x"`
	InvertY      *bool    `json:"invert_y"`
	SwapXY       *bool    `json:"swap_xy"`
	DarkTheme    *bool    `json:"dark_theme"`
	Sound        *bool    `json:"sound"`
}

var settingsPostKeys = []string{
	"tolerance_deg",
	"invert_x",
	"invert_y",
	"swap_xy",
	"dark_theme",
	"sound",
}

func decodeSettingsPayloadInStrict(body []byte) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	// First pass: stream tokens to enforce strict object rules and detect duplicate keys.
	allowed := make(map[string]struct{}, len(settingsPostKeys))
	for _, k := range settingsPostKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(settingsPostKeys))

	tok, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected object")
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return SettingsPayloadIn{}, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected end of object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}
	if len(seen) == 0 {
		return SettingsPayloadIn{}, errors.New("invalid json: no settings given")
	}

	// Second pass: decode into the typed struct.
	var out SettingsPayloadIn
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func stateToSettingsPayload(st level.State) SettingsPayload {
	return SettingsPayload{
		ToleranceDeg: st.ToleranceDeg,
		InvertX:      st.InvertX,
		InvertY:      st.InvertY,
		SwapXY:       st.SwapXY,
		DarkTheme:    st.DarkTheme,
		Sound:        st.Sound,
	}
}

// applySettingsPayload runs one setter per given key. Each setter persists
// on its own.
func applySettingsPayload(ctl Controller, p SettingsPayloadIn) {
	if p.ToleranceDeg != nil {
		ctl.SetTolerance(*p.ToleranceDeg)
	}
	if p.InvertX != nil {
		ctl.SetInvertX(*p.InvertX)
	}
	if p.InvertY != nil {
		ctl.SetInvertY(*p.InvertY)
	}
	if p.SwapXY != nil {
		ctl.SetSwapXY(*p.SwapXY)
	}
	if p.DarkTheme != nil {
		ctl.SetDarkTheme(*p.DarkTheme)
	}
	if p.Sound != nil {
		ctl.SetSound(*p.Sound)
	}
}

func settingsHandler(ctl Controller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
			if err != nil {
				http.Error(w, "read body failed", http.StatusBadRequest)
				return
			}
			in, err := decodeSettingsPayloadInStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			applySettingsPayload(ctl, in)
		}
		writeJSON(w, stateToSettingsPayload(ctl.Snapshot()))
	})
}
