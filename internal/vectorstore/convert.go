package vectorstore

import (
	"github.com/qdrant/go-client/qdrant"
)

// toQdrantPayload converts a payload map to protobuf values. Unsupported
// value types are dropped rather than failing the write.
func toQdrantPayload(payload map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			out[key] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		case bool:
			out[key] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
		case int:
			out[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
		case int64:
			out[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
		case float64:
			out[key] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
		case float32:
			out[key] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(v)}}
		case []string:
			values := make([]*qdrant.Value, len(v))
			for i, s := range v {
				values[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
			}
			out[key] = &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
		}
	}
	return out
}

// fromQdrantPayload converts protobuf values back to a plain map.
func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[key] = v.StringValue
		case *qdrant.Value_BoolValue:
			out[key] = v.BoolValue
		case *qdrant.Value_IntegerValue:
			out[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[key] = v.DoubleValue
		case *qdrant.Value_ListValue:
			var list []string
			for _, item := range v.ListValue.GetValues() {
				if s, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					list = append(list, s.StringValue)
				}
			}
			out[key] = list
		}
	}
	return out
}

// toQdrantFilter converts a Filter to the protobuf form.
func toQdrantFilter(filter *Filter) *qdrant.Filter {
	if filter == nil || len(filter.Must) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter.Must))
	for _, cond := range filter.Must {
		var match *qdrant.Match
		switch v := cond.Match.(type) {
		case string:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
		case []string:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
				Keywords: &qdrant.RepeatedStrings{Strings: v},
			}}
		case bool:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
		case int64:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
		case int:
			match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
		default:
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: cond.Field, Match: match},
			},
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// pointIDString extracts the uuid form of a point id.
func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return ""
}
