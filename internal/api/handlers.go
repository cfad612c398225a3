package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// ToProtoSummary converts a scored summary into a Struct keyed by its JSON field names.
// finishedAt is carried as an RFC 3339 string alongside a `finishedAtUnix` number.
func ToProtoSummary(summary models.Summary) (*structpb.Struct, error) {
	fields, err := toMap(summary)
	if err != nil {
		return nil, err
	}
	if !summary.FinishedAt.IsZero() {
		fields["finishedAtUnix"] = float64(timestamppb.New(summary.FinishedAt).GetSeconds())
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("convert summary: %w", err)
	}
	return out, nil
}

// FromProtoSummary is the inverse of ToProtoSummary.
func FromProtoSummary(in *structpb.Struct) (models.Summary, error) {
	if in == nil {
		return models.Summary{}, fmt.Errorf("summary is nil")
	}
	data, err := in.MarshalJSON()
	if err != nil {
		return models.Summary{}, fmt.Errorf("marshal summary: %w", err)
	}
	summary := models.NewSummary()
	if err := json.Unmarshal(data, &summary); err != nil {
		return models.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}

// ToProtoHistory converts history entries into a list of Structs, oldest first.
func ToProtoHistory(entries []models.HistoryEntry) (*structpb.ListValue, error) {
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		m, err := toMap(e)
		if err != nil {
			return nil, err
		}
		values = append(values, m)
	}
	out, err := structpb.NewList(values)
	if err != nil {
		return nil, fmt.Errorf("convert history: %w", err)
	}
	return out, nil
}

// FromProtoHistory is the inverse of ToProtoHistory.
func FromProtoHistory(in *structpb.ListValue) ([]models.HistoryEntry, error) {
	if in == nil {
		return nil, fmt.Errorf("history is nil")
	}
	data, err := in.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	var entries []models.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return entries, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return out, nil
}
