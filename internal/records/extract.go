package records

// containerKeys are searched, in order, for a nested records payload.
var containerKeys = []string{"json", "data", "result", "results", "response", "payload"}

// ExtractRecords finds the record list inside payload: the "records" key of
// an object, the same looked up under common wrapper keys, or a bare list of
// records. ok is false when nothing resembling records was found.
func ExtractRecords(payload interface{}) (recs []interface{}, ok bool) {
	switch val := payload.(type) {
	case nil:
		return []interface{}{}, true
	case []interface{}:
		for _, elem := range val {
			if found, ok := ExtractRecords(elem); ok && elem != nil {
				return found, true
			}
		}
		if looksLikeRecordList(val) {
			return val, true
		}
		return nil, false
	case map[string]interface{}:
		if list, isList := val["records"].([]interface{}); isList {
			return list, true
		}
		for _, key := range containerKeys {
			if inner, has := val[key]; has {
				if found, ok := ExtractRecords(inner); ok {
					return found, true
				}
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// looksLikeRecordList accepts an empty list, or a list of objects at least one
// of which has a field wrapper ({"value": ...} or {"type": ...}).
func looksLikeRecordList(list []interface{}) bool {
	if len(list) == 0 {
		return true
	}
	score := 0
	for _, elem := range list {
		m, ok := elem.(map[string]interface{})
		if !ok {
			return false
		}
		for _, v := range m {
			if w, ok := v.(map[string]interface{}); ok {
				_, hasValue := w["value"]
				_, hasType := w["type"]
				if hasValue || hasType {
					score++
					break
				}
			}
		}
	}
	return score > 0
}

// FilterFields keeps only the listed codes of rec, in no particular order.
// An empty filter returns rec unchanged.
func FilterFields(rec Record, fields []string) Record {
	if len(fields) == 0 {
		return rec
	}
	out := make(Record, len(fields))
	for _, code := range fields {
		if v, ok := rec[code]; ok {
			out[code] = v
		}
	}
	return out
}

// CollectSubtableRows gathers the flattened rows of subtable code across
// recs. With a field filter, each row also receives the listed parent fields.
func CollectSubtableRows(recs []interface{}, code string, fields []string) []interface{} {
	collected := []interface{}{}
	for _, r := range recs {
		rec, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		field, has := rec[code]
		if !has || field == nil {
			continue
		}
		rows, ok := FlattenSubtable(field).([]interface{})
		if !ok {
			continue
		}

		var parent Record
		if len(fields) > 0 {
			parent = FilterFields(FlattenRecord(rec), fields)
		}

		for _, row := range rows {
			if len(fields) == 0 {
				collected = append(collected, row)
				continue
			}
			var out map[string]interface{}
			if m, isMap := row.(map[string]interface{}); isMap {
				out = make(map[string]interface{}, len(m)+len(parent))
				for k, v := range m {
					out[k] = v
				}
			} else {
				out = map[string]interface{}{"value": row}
			}
			for k, v := range parent {
				out[k] = v
			}
			collected = append(collected, out)
		}
	}
	return collected
}
