package model

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes Content's Parts with a kind discriminator so the
// concrete ContentPart implementations survive a round trip through a
// store that serializes messages as JSON (store/redisstore, store/pgstore).
func (c Content) MarshalJSON() ([]byte, error) {
	type alias struct {
		Text  *string `json:"text,omitempty"`
		Parts []any   `json:"parts,omitempty"`
	}
	out := alias{Text: c.Text}
	for i, p := range c.Parts {
		enc, err := encodeContentPart(p)
		if err != nil {
			return nil, fmt.Errorf("model: encode content part %d: %w", i, err)
		}
		out.Parts = append(out.Parts, enc)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes Content, materializing concrete ContentPart
// implementations from each part's kind discriminator.
func (c *Content) UnmarshalJSON(data []byte) error {
	type alias struct {
		Text  *string           `json:"text,omitempty"`
		Parts []json.RawMessage `json:"parts,omitempty"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	c.Text = tmp.Text
	if len(tmp.Parts) == 0 {
		c.Parts = nil
		return nil
	}
	c.Parts = make([]ContentPart, 0, len(tmp.Parts))
	for i, raw := range tmp.Parts {
		part, err := decodeContentPart(raw)
		if err != nil {
			return fmt.Errorf("model: decode content part %d: %w", i, err)
		}
		c.Parts = append(c.Parts, part)
	}
	return nil
}

func encodeContentPart(p ContentPart) (any, error) {
	switch v := p.(type) {
	case TextContentPart:
		return struct {
			Kind string `json:"kind"`
			TextContentPart
		}{Kind: "text", TextContentPart: v}, nil
	case ImageContentPart:
		return struct {
			Kind string `json:"kind"`
			ImageContentPart
		}{Kind: "image", ImageContentPart: v}, nil
	default:
		return nil, fmt.Errorf("unknown content part type %T", p)
	}
}

func decodeContentPart(raw json.RawMessage) (ContentPart, error) {
	var disc struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}
	switch disc.Kind {
	case "text":
		var part TextContentPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case "image":
		var part ImageContentPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	default:
		return nil, fmt.Errorf("unknown content part kind %q", disc.Kind)
	}
}
