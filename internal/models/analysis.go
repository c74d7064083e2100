package models

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Analysis is the structured half of an image turn's answer.
//
// Model output drifts from the requested shape, so decoding is lenient: a
// field with an unusable value is left unset instead of failing the object,
// and keys outside the known set are kept in Extra.
type Analysis struct {
	CommonName *string  `json:"common_name"`
	Genus      *string  `json:"genus"`
	Confidence *float64 `json:"confidence,omitempty"`
	Visible    []string `json:"visible,omitempty"` // cap, hymenium, stipe, ...
	Color      string   `json:"color,omitempty"`
	Edible     *bool    `json:"edible"`

	Extra map[string]json.RawMessage `json:"-"`
}

var errNotObject = errors.New("analysis must be a JSON object")

// IsEmpty reports whether no field was filled in.
func (a *Analysis) IsEmpty() bool {
	return a == nil || (a.CommonName == nil && a.Genus == nil && a.Confidence == nil &&
		len(a.Visible) == 0 && a.Color == "" && a.Edible == nil && len(a.Extra) == 0)
}

// Normalize clamps confidence into [0,1].
func (a *Analysis) Normalize() {
	if a == nil || a.Confidence == nil {
		return
	}
	c := *a.Confidence
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	a.Confidence = &c
}

func (a *Analysis) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}

	*a = Analysis{}
	for key, raw := range fields {
		switch key {
		case "common_name":
			a.CommonName = decodeString(raw)
		case "genus":
			a.Genus = decodeString(raw)
		case "confidence":
			a.Confidence = decodeFloat(raw)
		case "visible":
			a.Visible = decodeStrings(raw)
		case "color":
			if s := decodeString(raw); s != nil {
				a.Color = *s
			}
		case "edible":
			a.Edible = decodeBool(raw)
		default:
			if a.Extra == nil {
				a.Extra = make(map[string]json.RawMessage)
			}
			a.Extra[key] = raw
		}
	}
	return nil
}

// MarshalJSON writes Extra back at the top level next to the known fields.
func (a Analysis) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(a.Extra)+6)
	for k, v := range a.Extra {
		out[k] = v
	}
	out["common_name"] = a.CommonName
	out["genus"] = a.Genus
	out["edible"] = a.Edible
	if a.Confidence != nil {
		out["confidence"] = *a.Confidence
	}
	if len(a.Visible) > 0 {
		out["visible"] = a.Visible
	}
	if a.Color != "" {
		out["color"] = a.Color
	}
	return json.Marshal(out)
}

func decodeString(raw json.RawMessage) *string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// decodeFloat accepts numbers, numeric strings and percentages ("80%").
func decodeFloat(raw json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	s := decodeString(raw)
	if s == nil {
		return nil
	}
	v := *s
	percent := strings.HasSuffix(v, "%")
	v = strings.TrimSpace(strings.TrimSuffix(v, "%"))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	if percent {
		f /= 100
	}
	return &f
}

// decodeStrings accepts a list of strings or one comma-separated string.
func decodeStrings(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s := decodeString(raw)
		if s == nil {
			return nil
		}
		var out []string
		for _, part := range strings.Split(*s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}

	var out []string
	for _, item := range items {
		if s := decodeString(item); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// decodeBool accepts booleans and yes/no style strings. Anything else,
// "unknown" included, is left unset.
func decodeBool(raw json.RawMessage) *bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	s := decodeString(raw)
	if s == nil {
		return nil
	}
	switch strings.ToLower(*s) {
	case "true", "yes", "edible":
		b = true
	case "false", "no", "inedible", "poisonous", "toxic":
		b = false
	default:
		return nil
	}
	return &b
}
