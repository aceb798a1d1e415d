package ticket

import (
	"errors"
	"testing"

	"github.com/loonworks/loonflow/store"
)

func TestEncodeFieldValueTypedColumns(t *testing.T) {
	tests := []struct {
		name    string
		ftype   store.FieldType
		raw     any
		check   func(t *testing.T, fv *store.FieldValue)
		wantStr string
	}{
		{
			name: "str", ftype: store.FieldTypeStr, raw: "vpn access",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueChar == nil || *fv.ValueChar != "vpn access" {
					t.Errorf("ValueChar = %v", fv.ValueChar)
				}
			},
			wantStr: "vpn access",
		},
		{
			name: "int from json number", ftype: store.FieldTypeInt, raw: float64(7),
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueInt == nil || *fv.ValueInt != 7 {
					t.Errorf("ValueInt = %v", fv.ValueInt)
				}
			},
			wantStr: "7",
		},
		{
			name: "float", ftype: store.FieldTypeFloat, raw: "3.5",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueFloat == nil || *fv.ValueFloat != 3.5 {
					t.Errorf("ValueFloat = %v", fv.ValueFloat)
				}
			},
			wantStr: "3.5",
		},
		{
			name: "bool true stores one", ftype: store.FieldTypeBool, raw: true,
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueBool == nil || *fv.ValueBool != 1 {
					t.Errorf("ValueBool = %v", fv.ValueBool)
				}
			},
			wantStr: "1",
		},
		{
			name: "bool false stores zero", ftype: store.FieldTypeBool, raw: "false",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueBool == nil || *fv.ValueBool != 0 {
					t.Errorf("ValueBool = %v", fv.ValueBool)
				}
			},
			wantStr: "0",
		},
		{
			name: "date", ftype: store.FieldTypeDate, raw: "2025-06-01",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueDate == nil {
					t.Fatal("ValueDate unset")
				}
			},
			wantStr: "2025-06-01",
		},
		{
			name: "datetime plain layout", ftype: store.FieldTypeDatetime, raw: "2025-06-01 09:30:00",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueDatetime == nil {
					t.Fatal("ValueDatetime unset")
				}
			},
			wantStr: "2025-06-01 09:30:00",
		},
		{
			name: "checkbox canonicalizes separators", ftype: store.FieldTypeCheckbox, raw: "a, b,,c",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueCheckbox == nil || *fv.ValueCheckbox != "a,b,c" {
					t.Errorf("ValueCheckbox = %v", fv.ValueCheckbox)
				}
			},
			wantStr: "a,b,c",
		},
		{
			name: "username from json list", ftype: store.FieldTypeUsername, raw: []any{"bob", "carol", "bob"},
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueUsername == nil || *fv.ValueUsername != "bob,carol" {
					t.Errorf("ValueUsername = %v", fv.ValueUsername)
				}
			},
			wantStr: "bob,carol",
		},
		{
			name: "text", ftype: store.FieldTypeText, raw: "long body",
			check: func(t *testing.T, fv *store.FieldValue) {
				if fv.ValueText == nil || *fv.ValueText != "long body" {
					t.Errorf("ValueText = %v", fv.ValueText)
				}
			},
			wantStr: "long body",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cf := &store.CustomField{FieldKey: "f", FieldTypeID: tc.ftype}
			fv, err := encodeFieldValue(cf, tc.raw)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			tc.check(t, fv)
			if got := fieldValueString(cf, fv); got != tc.wantStr {
				t.Errorf("string form = %q, want %q", got, tc.wantStr)
			}
		})
	}
}

func TestEncodeFieldValueRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		ftype store.FieldType
		raw   any
	}{
		{"non-integer number", store.FieldTypeInt, float64(1.5)},
		{"garbage int string", store.FieldTypeInt, "seven"},
		{"garbage bool", store.FieldTypeBool, "maybe"},
		{"bad date", store.FieldTypeDate, "01/06/2025"},
		{"bad datetime", store.FieldTypeDatetime, "yesterday"},
		{"object as string", store.FieldTypeStr, map[string]any{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cf := &store.CustomField{FieldKey: "f", FieldTypeID: tc.ftype}
			if _, err := encodeFieldValue(cf, tc.raw); !errors.Is(err, ErrBadArgument) {
				t.Errorf("error = %v, want ErrBadArgument", err)
			}
		})
	}
}

func TestDecodeFieldValueRoundTrip(t *testing.T) {
	cf := &store.CustomField{FieldKey: "due", FieldTypeID: store.FieldTypeDatetime}
	fv, err := encodeFieldValue(cf, "2025-06-01T09:30:00Z")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if got := decodeFieldValue(cf, fv); got != "2025-06-01 09:30:00" {
		t.Errorf("decoded = %v, want 2025-06-01 09:30:00", got)
	}

	// Unset column decodes to nil.
	if got := decodeFieldValue(cf, &store.FieldValue{FieldKey: "due"}); got != nil {
		t.Errorf("decoded empty row = %v, want nil", got)
	}
}

func TestBaseFieldHeaderLookup(t *testing.T) {
	tk := &store.Ticket{SN: "loonflow_202506010001", Title: "t", Creator: "alice"}
	if v, ok := baseField(tk, "sn"); !ok || v != "loonflow_202506010001" {
		t.Errorf("sn = (%v, %v)", v, ok)
	}
	if _, ok := baseField(tk, "reason"); ok {
		t.Error("custom key must not resolve as a header field")
	}
}
