// Package records transforms kintone record payloads: flattening field
// wrappers and subtables, and rendering values for human-readable digests.
package records

// Record is one kintone record keyed by field code.
type Record = map[string]interface{}

const subtableType = "SUBTABLE"

// ExtractValue unwraps one level of {"value": ...}; anything else is returned as is.
func ExtractValue(field interface{}) interface{} {
	if m, ok := field.(map[string]interface{}); ok {
		if v, has := m["value"]; has {
			return v
		}
	}
	return field
}

// IsSubtable reports whether field is a {"type": "SUBTABLE", ...} wrapper.
func IsSubtable(field interface{}) bool {
	m, ok := field.(map[string]interface{})
	return ok && m["type"] == subtableType
}

// LooksLikeSubtableRows reports whether v is a row list such as the value of
// a subtable: a list holding at least one object with a "value" key.
func LooksLikeSubtableRows(v interface{}) bool {
	rows, ok := v.([]interface{})
	if !ok {
		return false
	}
	for _, row := range rows {
		if m, ok := row.(map[string]interface{}); ok {
			if _, has := m["value"]; has {
				return true
			}
		}
	}
	return false
}

// FlattenSubtable replaces each row's {"value": {code: field}} with the row's
// own keys plus {code: extracted value}. It accepts either the subtable
// wrapper or its row list. A value that is not a list is returned unchanged.
func FlattenSubtable(field interface{}) interface{} {
	var rows interface{}
	if m, ok := field.(map[string]interface{}); ok {
		v, has := m["value"]
		if !has {
			return []interface{}{}
		}
		rows = v
	} else {
		rows = field
	}

	list, ok := rows.([]interface{})
	if !ok {
		return field
	}

	flattened := make([]interface{}, 0, len(list))
	for _, row := range list {
		m, ok := row.(map[string]interface{})
		if !ok {
			flattened = append(flattened, row)
			continue
		}
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			if _, isMap := v.(map[string]interface{}); k == "value" && isMap {
				continue
			}
			out[k] = v
		}
		// sub-field codes win over row keys such as "id"
		if inner, ok := m["value"].(map[string]interface{}); ok {
			for code, sub := range inner {
				out[code] = ExtractValue(sub)
			}
		}
		flattened = append(flattened, out)
	}
	return flattened
}

// FlattenField turns one field wrapper into its plain value, flattening subtables.
func FlattenField(field interface{}) interface{} {
	if IsSubtable(field) {
		return FlattenSubtable(field)
	}
	extracted := ExtractValue(field)
	if LooksLikeSubtableRows(extracted) {
		return FlattenSubtable(extracted)
	}
	return extracted
}

// FlattenRecord maps every field code of rec to its flattened value.
func FlattenRecord(rec Record) Record {
	row := make(Record, len(rec))
	for code, field := range rec {
		row[code] = FlattenField(field)
	}
	return row
}
