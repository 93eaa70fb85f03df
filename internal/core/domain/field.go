package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)

type FieldKind uint8

const (
	KindNull FieldKind = iota
	KindString
	KindNumber
	KindBoolean
	KindDate
	KindFile
	KindObject
)

func (k FieldKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindFile:
		return "file"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FileReference points at a document held by the file storage collaborator.
type FileReference struct {
	Path             string `json:"path"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	MimeType         string `json:"mimeType"`
}

// FieldValue is a closed variant of the values a declaration or annotation
// field may hold. On the wire dates are "YYYY-MM-DD" strings and file
// references are objects with "path" and "mimeType".
type FieldValue struct {
	kind FieldKind
	str  string
	num  float64
	b    bool
	file FileReference
	obj  Fields
}

// Fields maps field ids to values.
type Fields map[string]FieldValue

func Null() FieldValue                   { return FieldValue{kind: KindNull} }
func String(s string) FieldValue         { return FieldValue{kind: KindString, str: s} }
func Number(n float64) FieldValue        { return FieldValue{kind: KindNumber, num: n} }
func Bool(b bool) FieldValue             { return FieldValue{kind: KindBoolean, b: b} }
func File(ref FileReference) FieldValue  { return FieldValue{kind: KindFile, file: ref} }
func Object(fields Fields) FieldValue    { return FieldValue{kind: KindObject, obj: fields.Clone()} }
func Date(t time.Time) FieldValue        { return FieldValue{kind: KindDate, str: t.UTC().Format(DateLayout)} }
func (v FieldValue) Kind() FieldKind     { return v.kind }
func (v FieldValue) IsNull() bool        { return v.kind == KindNull }
func (v FieldValue) File() FileReference { return v.file }
func (v FieldValue) Object() Fields      { return v.obj.Clone() }

func (v FieldValue) String() string {
	switch v.kind {
	case KindString, KindDate:
		return v.str
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBoolean:
		return fmt.Sprintf("%t", v.b)
	case KindFile:
		return v.file.Path
	case KindObject:
		b, _ := json.Marshal(v.obj)
		return string(b)
	default:
		return ""
	}
}

func (v FieldValue) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v FieldValue) Bool() (bool, bool) {
	return v.b, v.kind == KindBoolean
}

func (v FieldValue) Date() (time.Time, bool) {
	if v.kind != KindDate {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, v.str)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Plain converts the value into the untyped shape used for JSON schema validation.
func (v FieldValue) Plain() any {
	switch v.kind {
	case KindString, KindDate:
		return v.str
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	case KindFile:
		m := map[string]any{"path": v.file.Path, "mimeType": v.file.MimeType}
		if v.file.OriginalFilename != "" {
			m["originalFilename"] = v.file.OriginalFilename
		}
		return m
	case KindObject:
		return v.obj.Plain()
	default:
		return nil
	}
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString, KindDate:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBoolean:
		return json.Marshal(v.b)
	case KindFile:
		return json.Marshal(v.file)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]FieldValue(v.obj))
	default:
		return nil, fmt.Errorf("unknown field kind %d", v.kind)
	}
}

var errUnsupportedFieldValue = errors.New("unsupported field value")

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errUnsupportedFieldValue
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if datePattern.MatchString(s) {
			if _, err := time.Parse(DateLayout, s); err == nil {
				*v = FieldValue{kind: KindDate, str: s}
				return nil
			}
		}
		*v = String(s)
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if isFileReference(raw) {
			var ref FileReference
			if err := json.Unmarshal(data, &ref); err != nil {
				return err
			}
			*v = File(ref)
			return nil
		}
		fields := make(Fields, len(raw))
		for key, item := range raw {
			var nested FieldValue
			if err := nested.UnmarshalJSON(item); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			fields[key] = nested
		}
		*v = FieldValue{kind: KindObject, obj: fields}
		return nil
	case '[':
		return fmt.Errorf("%w: arrays are not supported", errUnsupportedFieldValue)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %v", errUnsupportedFieldValue, err)
		}
		*v = Number(n)
		return nil
	}
}

func isFileReference(raw map[string]json.RawMessage) bool {
	_, hasPath := raw["path"]
	_, hasMime := raw["mimeType"]
	if !hasPath || !hasMime {
		return false
	}
	for key := range raw {
		switch key {
		case "path", "mimeType", "originalFilename":
		default:
			return false
		}
	}
	return true
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns a copy of f with every key of other written over it.
func (f Fields) Merge(other Fields) Fields {
	out := make(Fields, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (f Fields) Plain() map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v.Plain()
	}
	return out
}

func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
