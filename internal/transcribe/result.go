// Package transcribe turns the loosely shaped results returned by the
// worker's transcription commands into text plus metadata.
package transcribe

import (
	"bytes"
	"encoding/json"
)

// Result is a transcription outcome as returned by the worker. It is either
// a TextResult or a StructuredResult.
type Result interface {
	isResult()
}

// TextResult is a bare transcript string.
type TextResult string

func (TextResult) isResult() {}

// StructuredResult is an object result. The three text fields are nil when
// absent or not strings; every other field is kept in Fields.
type StructuredResult struct {
	Transcript    *string
	Transcription *string
	Text          *string
	Fields        map[string]any
}

func (StructuredResult) isResult() {}

// Normalized is the text and metadata stored on a completed job.
type Normalized struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

const (
	fieldTranscript    = "transcript"
	fieldTranscription = "transcription"
	fieldText          = "text"
	fieldTitle         = "title"
	fieldVideoTitle    = "videoTitle"
)

// Parse classifies a raw worker result. Anything that is neither a string
// nor an object yields an empty StructuredResult.
func Parse(raw json.RawMessage) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return StructuredResult{}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return StructuredResult{}
		}
		return TextResult(s)
	case '{':
		var fields map[string]any
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return StructuredResult{}
		}
		return FromMap(fields)
	default:
		return StructuredResult{}
	}
}

// FromMap builds a StructuredResult from decoded JSON fields.
func FromMap(fields map[string]any) StructuredResult {
	out := StructuredResult{Fields: make(map[string]any, len(fields))}
	for key, value := range fields {
		s, isString := value.(string)
		switch {
		case key == fieldTranscript && isString:
			out.Transcript = &s
		case key == fieldTranscription && isString:
			out.Transcription = &s
		case key == fieldText && isString:
			out.Text = &s
		default:
			out.Fields[key] = value
		}
	}
	return out
}

// Normalize extracts the transcript text, preferring transcript, then
// transcription, then text; the first non-empty one wins. A result without
// any text normalizes to an empty string.
func Normalize(r Result) Normalized {
	switch v := r.(type) {
	case TextResult:
		return Normalized{Text: string(v), Metadata: map[string]any{}}
	case StructuredResult:
		return normalizeStructured(v)
	case *StructuredResult:
		if v == nil {
			return Normalized{Metadata: map[string]any{}}
		}
		return normalizeStructured(*v)
	default:
		return Normalized{Metadata: map[string]any{}}
	}
}

// NormalizeRaw parses and normalizes in one step.
func NormalizeRaw(raw json.RawMessage) Normalized {
	return Normalize(Parse(raw))
}

func normalizeStructured(r StructuredResult) Normalized {
	var text string
	for _, candidate := range []*string{r.Transcript, r.Transcription, r.Text} {
		if candidate != nil && *candidate != "" {
			text = *candidate
			break
		}
	}

	metadata := make(map[string]any, len(r.Fields)+1)
	for key, value := range r.Fields {
		metadata[key] = value
	}
	if _, ok := metadata[fieldTitle]; !ok {
		if title, ok := r.Fields[fieldVideoTitle].(string); ok && title != "" {
			metadata[fieldTitle] = title
		}
	}
	return Normalized{Text: text, Metadata: metadata}
}
