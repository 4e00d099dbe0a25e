package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

type VertexGemini struct {
	client *vertexgenai.Client
	json   *vertexgenai.GenerativeModel
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	if projectID == "" {
		return nil, errors.New("vertex project id is empty")
	}
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	jm := c.GenerativeModel(modelName)
	jm.ResponseMIMEType = "application/json"
	jm.SetTemperature(0.2)

	return &VertexGemini{client: c, json: jm}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// CompleteJSON streams a JSON reply, joins the chunks and decodes them into dst.
func (v *VertexGemini) CompleteJSON(ctx context.Context, prompt string, dst any) error {
	var sb strings.Builder
	it := v.json.GenerateContentStream(ctx, vertexgenai.Text(prompt))
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		for _, t := range textParts(resp) {
			sb.WriteString(t)
		}
	}
	if sb.Len() == 0 {
		return errors.New("empty model response")
	}
	return DecodeJSON(sb.String(), dst)
}

// DecodeJSON decodes a model reply that may be wrapped in a markdown code fence.
func DecodeJSON(text string, dst any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return json.Unmarshal([]byte(strings.TrimSpace(s)), dst)
}

func textParts(resp *vertexgenai.GenerateContentResponse) []string {
	if resp == nil {
		return nil
	}
	var out []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
				out = append(out, string(t))
			}
		}
	}
	return out
}
