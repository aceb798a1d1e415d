package ticket

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loonworks/loonflow/store"
)

// Layouts accepted for date and datetime field values.
const (
	dateLayout       = "2006-01-02"
	datetimeLayout   = "2006-01-02 15:04:05"
	datetimeLayoutTZ = time.RFC3339
)

// fieldCodec reads and writes the one typed column a field type selects.
type fieldCodec struct {
	// write coerces a raw request value into the typed column.
	write func(fv *store.FieldValue, raw any) error
	// read returns the stored value in JSON-friendly form, or nil when
	// the column is unset.
	read func(fv *store.FieldValue) any
	// str renders the stored value for participant resolution and
	// display, using the comma conventions for multi-valued fields.
	str func(fv *store.FieldValue) string
}

// fieldCodecs maps every field type to its codec. A table keyed by type
// replaces the original's twelve-branch conditional ladder.
var fieldCodecs = map[store.FieldType]fieldCodec{
	store.FieldTypeStr:         charCodec(func(fv *store.FieldValue) **string { return &fv.ValueChar }),
	store.FieldTypeInt:         intCodec(),
	store.FieldTypeFloat:       floatCodec(),
	store.FieldTypeBool:        boolCodec(),
	store.FieldTypeDate:        dateCodec(),
	store.FieldTypeDatetime:    datetimeCodec(),
	store.FieldTypeRadio:       charCodec(func(fv *store.FieldValue) **string { return &fv.ValueRadio }),
	store.FieldTypeCheckbox:    setCodec(func(fv *store.FieldValue) **string { return &fv.ValueCheckbox }),
	store.FieldTypeSelect:      charCodec(func(fv *store.FieldValue) **string { return &fv.ValueSelect }),
	store.FieldTypeMultiSelect: setCodec(func(fv *store.FieldValue) **string { return &fv.ValueMultiSelect }),
	store.FieldTypeText:        charCodec(func(fv *store.FieldValue) **string { return &fv.ValueText }),
	store.FieldTypeUsername:    setCodec(func(fv *store.FieldValue) **string { return &fv.ValueUsername }),
}

// encodeFieldValue builds a field row for (key, raw) typed per the schema
// entry. Exactly one typed column is populated.
func encodeFieldValue(cf *store.CustomField, raw any) (*store.FieldValue, error) {
	codec, ok := fieldCodecs[cf.FieldTypeID]
	if !ok {
		return nil, fmt.Errorf("%w: field %s has unknown type %d", ErrInvariant, cf.FieldKey, cf.FieldTypeID)
	}
	fv := &store.FieldValue{FieldKey: cf.FieldKey}
	if err := codec.write(fv, raw); err != nil {
		return nil, fmt.Errorf("%w: field %s: %v", ErrBadArgument, cf.FieldKey, err)
	}
	return fv, nil
}

// decodeFieldValue returns the stored value of a field row in
// JSON-friendly form, or nil when unset.
func decodeFieldValue(cf *store.CustomField, fv *store.FieldValue) any {
	codec, ok := fieldCodecs[cf.FieldTypeID]
	if !ok {
		return nil
	}
	return codec.read(fv)
}

// fieldValueString renders a field row for participant resolution.
func fieldValueString(cf *store.CustomField, fv *store.FieldValue) string {
	codec, ok := fieldCodecs[cf.FieldTypeID]
	if !ok {
		return ""
	}
	return codec.str(fv)
}

// baseField returns the value of a ticket header field, or (nil, false)
// when key is not a header field.
func baseField(t *store.Ticket, key string) (any, bool) {
	switch key {
	case "sn":
		return t.SN, true
	case "title":
		return t.Title, true
	case "workflow_id":
		return t.WorkflowID, true
	case "state_id":
		return t.StateID, true
	case "parent_ticket_id":
		return t.ParentTicketID, true
	case "parent_ticket_state_id":
		return t.ParentTicketStateID, true
	case "participant_type_id":
		return int16(t.ParticipantTypeID), true
	case "participant":
		return t.Participant, true
	case "creator":
		return t.Creator, true
	case "relation":
		return t.Relation, true
	case "gmt_created":
		return t.GmtCreated.Format(datetimeLayout), true
	case "gmt_modified":
		return t.GmtModified.Format(datetimeLayout), true
	}
	return nil, false
}

// baseFieldOrder gives header fields their fixed display positions among
// the custom fields of a detail response.
var baseFieldOrder = map[string]int{
	"sn":           0,
	"title":        20,
	"state_id":     40,
	"participant":  41,
	"creator":      80,
	"gmt_created":  100,
	"gmt_modified": 120,
}

// --- per-kind codecs ---

func charCodec(col func(fv *store.FieldValue) **string) fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			s, err := coerceString(raw)
			if err != nil {
				return err
			}
			*col(fv) = &s
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if p := *col(fv); p != nil {
				return *p
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if p := *col(fv); p != nil {
				return *p
			}
			return ""
		},
	}
}

// setCodec canonicalizes multi-valued input to single-comma separators.
func setCodec(col func(fv *store.FieldValue) **string) fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			s, err := coerceSet(raw)
			if err != nil {
				return err
			}
			*col(fv) = &s
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if p := *col(fv); p != nil {
				return *p
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if p := *col(fv); p != nil {
				return *p
			}
			return ""
		},
	}
}

func intCodec() fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			n, err := coerceInt(raw)
			if err != nil {
				return err
			}
			fv.ValueInt = &n
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if fv.ValueInt != nil {
				return *fv.ValueInt
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if fv.ValueInt != nil {
				return strconv.FormatInt(*fv.ValueInt, 10)
			}
			return ""
		},
	}
}

func floatCodec() fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			f, err := coerceFloat(raw)
			if err != nil {
				return err
			}
			fv.ValueFloat = &f
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if fv.ValueFloat != nil {
				return *fv.ValueFloat
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if fv.ValueFloat != nil {
				return strconv.FormatFloat(*fv.ValueFloat, 'f', -1, 64)
			}
			return ""
		},
	}
}

func boolCodec() fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			b, err := coerceBool(raw)
			if err != nil {
				return err
			}
			fv.ValueBool = &b
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if fv.ValueBool != nil {
				return *fv.ValueBool
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if fv.ValueBool != nil {
				return strconv.Itoa(int(*fv.ValueBool))
			}
			return ""
		},
	}
}

func dateCodec() fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			s, err := coerceString(raw)
			if err != nil {
				return err
			}
			t, err := time.ParseInLocation(dateLayout, s, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid date %q, want %s", s, dateLayout)
			}
			fv.ValueDate = &t
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if fv.ValueDate != nil {
				return fv.ValueDate.Format(dateLayout)
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if fv.ValueDate != nil {
				return fv.ValueDate.Format(dateLayout)
			}
			return ""
		},
	}
}

func datetimeCodec() fieldCodec {
	return fieldCodec{
		write: func(fv *store.FieldValue, raw any) error {
			s, err := coerceString(raw)
			if err != nil {
				return err
			}
			t, err := time.Parse(datetimeLayoutTZ, s)
			if err != nil {
				t, err = time.ParseInLocation(datetimeLayout, s, time.UTC)
			}
			if err != nil {
				return fmt.Errorf("invalid datetime %q, want RFC 3339 or %s", s, datetimeLayout)
			}
			fv.ValueDatetime = &t
			return nil
		},
		read: func(fv *store.FieldValue) any {
			if fv.ValueDatetime != nil {
				return fv.ValueDatetime.Format(datetimeLayout)
			}
			return nil
		},
		str: func(fv *store.FieldValue) string {
			if fv.ValueDatetime != nil {
				return fv.ValueDatetime.Format(datetimeLayout)
			}
			return ""
		},
	}
}

// --- coercions over decoded JSON values ---

func coerceString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	}
	return "", fmt.Errorf("cannot use %T as string", raw)
}

func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		n := int64(v)
		if float64(n) != v {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return n, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot use %T as integer", raw)
}

func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot use %T as float", raw)
}

// coerceBool stores booleans as 0/1.
func coerceBool(raw any) (int16, error) {
	switch v := raw.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		switch v {
		case 0:
			return 0, nil
		case 1:
			return 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return 1, nil
		case "false", "0", "":
			return 0, nil
		}
	}
	return 0, fmt.Errorf("cannot use %v as bool", raw)
}

// coerceSet accepts a list or a comma-separated string and canonicalizes
// to single-comma separators with empties dropped.
func coerceSet(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return store.JoinSet(store.SplitSet(v)), nil
	case []string:
		return store.JoinSet(store.DedupSet(v)), nil
	case []any:
		tokens := make([]string, 0, len(v))
		for _, item := range v {
			s, err := coerceString(item)
			if err != nil {
				return "", err
			}
			if s = strings.TrimSpace(s); s != "" {
				tokens = append(tokens, s)
			}
		}
		return store.JoinSet(store.DedupSet(tokens)), nil
	}
	return "", fmt.Errorf("cannot use %T as value set", raw)
}
