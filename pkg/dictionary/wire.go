package dictionary

import (
	"fmt"

	"github.com/backkem/feedconsumer/pkg/tlv"
)

// Part member tags. The type and version tags appear only in the first
// part of a multi-part refresh.
const (
	tagPartType    = 1
	tagPartVersion = 2
	tagPartEntries = 3

	tagFieldFID        = 1
	tagFieldAcronym    = 2
	tagFieldDDE        = 3
	tagFieldRipple     = 4
	tagFieldType       = 5
	tagFieldLength     = 6
	tagFieldEnumLength = 7
	tagFieldRWFType    = 8
	tagFieldRWFLength  = 9

	tagEnumFIDs   = 1
	tagEnumValues = 2

	tagValueValue   = 1
	tagValueDisplay = 2
	tagValueMeaning = 3
)

// part is one decoded refresh fragment.
type part struct {
	typ     Type // TypeUnspecified unless this is a first part
	version string
	fields  []FieldDef
	enums   []*EnumTable
}

// EncodeFieldParts splits field definitions into refresh payloads holding
// at most perPart entries each.
func EncodeFieldParts(defs []FieldDef, version string, perPart int) ([][]byte, error) {
	if perPart <= 0 {
		perPart = len(defs)
	}
	var parts [][]byte
	for off := 0; off == 0 || off < len(defs); off += perPart {
		end := min(off+perPart, len(defs))
		chunk := defs[off:end]
		first := off == 0
		b, err := tlv.Encode(func(w *tlv.Writer) error {
			if err := startPart(w, first, TypeFieldDefinitions, version); err != nil {
				return err
			}
			for i := range chunk {
				if err := encodeField(w, &chunk[i]); err != nil {
					return err
				}
			}
			return endPart(w)
		})
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
		if len(defs) == 0 {
			break
		}
	}
	return parts, nil
}

// EncodeEnumParts splits enumerated-type tables into refresh payloads
// holding at most perPart tables each.
func EncodeEnumParts(tables []EnumTable, version string, perPart int) ([][]byte, error) {
	if perPart <= 0 {
		perPart = len(tables)
	}
	var parts [][]byte
	for off := 0; off == 0 || off < len(tables); off += perPart {
		end := min(off+perPart, len(tables))
		chunk := tables[off:end]
		first := off == 0
		b, err := tlv.Encode(func(w *tlv.Writer) error {
			if err := startPart(w, first, TypeEnumTables, version); err != nil {
				return err
			}
			for i := range chunk {
				if err := encodeEnum(w, &chunk[i]); err != nil {
					return err
				}
			}
			return endPart(w)
		})
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
		if len(tables) == 0 {
			break
		}
	}
	return parts, nil
}

func startPart(w *tlv.Writer, first bool, t Type, version string) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if first {
		if err := w.PutUint(tlv.ContextTag(tagPartType), uint64(t)); err != nil {
			return err
		}
		if version != "" {
			if err := w.PutString(tlv.ContextTag(tagPartVersion), version); err != nil {
				return err
			}
		}
	}
	return w.StartArray(tlv.ContextTag(tagPartEntries))
}

func endPart(w *tlv.Writer) error {
	if err := w.EndContainer(); err != nil {
		return err
	}
	return w.EndContainer()
}

func encodeField(w *tlv.Writer, f *FieldDef) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutInt(tlv.ContextTag(tagFieldFID), int64(f.FID)); err != nil {
		return err
	}
	strs := []struct {
		tag uint8
		v   string
	}{
		{tagFieldAcronym, f.Acronym},
		{tagFieldDDE, f.DDEAcronym},
		{tagFieldRipple, f.RippleTo},
		{tagFieldType, f.FieldType},
		{tagFieldRWFType, f.RWFType},
	}
	for _, s := range strs {
		if s.v == "" {
			continue
		}
		if err := w.PutString(tlv.ContextTag(s.tag), s.v); err != nil {
			return err
		}
	}
	if err := w.PutUint(tlv.ContextTag(tagFieldLength), uint64(f.Length)); err != nil {
		return err
	}
	if f.EnumLength != 0 {
		if err := w.PutUint(tlv.ContextTag(tagFieldEnumLength), uint64(f.EnumLength)); err != nil {
			return err
		}
	}
	if err := w.PutUint(tlv.ContextTag(tagFieldRWFLength), uint64(f.RWFLength)); err != nil {
		return err
	}
	return w.EndContainer()
}

func encodeEnum(w *tlv.Writer, t *EnumTable) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(tagEnumFIDs)); err != nil {
		return err
	}
	for _, fid := range t.FIDs {
		if err := w.PutInt(tlv.Anonymous(), int64(fid)); err != nil {
			return err
		}
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	if err := w.StartArray(tlv.ContextTag(tagEnumValues)); err != nil {
		return err
	}
	for _, v := range t.Values {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		if err := w.PutUint(tlv.ContextTag(tagValueValue), uint64(v.Value)); err != nil {
			return err
		}
		// Displays may hold raw bytes such as #DE#, so they travel as octets.
		if err := w.PutBytes(tlv.ContextTag(tagValueDisplay), []byte(v.Display)); err != nil {
			return err
		}
		if v.Meaning != "" {
			if err := w.PutString(tlv.ContextTag(tagValueMeaning), v.Meaning); err != nil {
				return err
			}
		}
		if err := w.EndContainer(); err != nil {
			return err
		}
	}
	if err := w.EndContainer(); err != nil {
		return err
	}
	return w.EndContainer()
}

// decodePart parses one refresh payload. kind is the dictionary type
// cached from the first part, or TypeUnspecified when decoding the first
// part itself.
func decodePart(payload []byte, kind Type) (*part, error) {
	p := &part{}
	r := tlv.NewReader(payload)
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().Number() {
		case tagPartType:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			p.typ = Type(v)
			if !p.typ.IsValid() {
				return nil, fmt.Errorf("invalid dictionary type %d", v)
			}
			if kind == TypeUnspecified {
				kind = p.typ
			}
		case tagPartVersion:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			p.version = v
		case tagPartEntries:
			if kind == TypeUnspecified {
				return nil, fmt.Errorf("entries before dictionary type")
			}
			if err := decodeEntries(r, kind, p); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeEntries(r *tlv.Reader, kind Type, p *part) error {
	if err := r.EnterContainer(); err != nil {
		return err
	}
	for {
		if err := r.Next(); err != nil {
			return err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch kind {
		case TypeFieldDefinitions:
			f, err := decodeField(r)
			if err != nil {
				return err
			}
			p.fields = append(p.fields, f)
		case TypeEnumTables:
			t, err := decodeEnum(r)
			if err != nil {
				return err
			}
			p.enums = append(p.enums, t)
		}
	}
	return r.ExitContainer()
}

func decodeField(r *tlv.Reader) (FieldDef, error) {
	var f FieldDef
	haveFID := false
	if err := r.EnterContainer(); err != nil {
		return f, err
	}
	for {
		if err := r.Next(); err != nil {
			return f, err
		}
		if r.IsEndOfContainer() {
			break
		}
		var err error
		switch r.Tag().Number() {
		case tagFieldFID:
			var v int64
			v, err = r.Int()
			f.FID = int16(v)
			haveFID = true
		case tagFieldAcronym:
			f.Acronym, err = r.String()
		case tagFieldDDE:
			f.DDEAcronym, err = r.String()
		case tagFieldRipple:
			f.RippleTo, err = r.String()
		case tagFieldType:
			f.FieldType, err = r.String()
		case tagFieldRWFType:
			f.RWFType, err = r.String()
		case tagFieldLength:
			var v uint64
			v, err = r.Uint()
			f.Length = uint16(v)
		case tagFieldEnumLength:
			var v uint64
			v, err = r.Uint()
			f.EnumLength = uint8(v)
		case tagFieldRWFLength:
			var v uint64
			v, err = r.Uint()
			f.RWFLength = uint16(v)
		}
		if err != nil {
			return f, err
		}
	}
	if !haveFID {
		return f, fmt.Errorf("field definition without fid")
	}
	return f, r.ExitContainer()
}

func decodeEnum(r *tlv.Reader) (*EnumTable, error) {
	t := &EnumTable{}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		switch r.Tag().Number() {
		case tagEnumFIDs:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.IsEndOfContainer() {
					break
				}
				v, err := r.Int()
				if err != nil {
					return nil, err
				}
				t.FIDs = append(t.FIDs, int16(v))
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		case tagEnumValues:
			if err := r.EnterContainer(); err != nil {
				return nil, err
			}
			for {
				if err := r.Next(); err != nil {
					return nil, err
				}
				if r.IsEndOfContainer() {
					break
				}
				v, err := decodeEnumValue(r)
				if err != nil {
					return nil, err
				}
				t.Values = append(t.Values, v)
			}
			if err := r.ExitContainer(); err != nil {
				return nil, err
			}
		}
	}
	return t, r.ExitContainer()
}

func decodeEnumValue(r *tlv.Reader) (EnumValue, error) {
	var v EnumValue
	if err := r.EnterContainer(); err != nil {
		return v, err
	}
	for {
		if err := r.Next(); err != nil {
			return v, err
		}
		if r.IsEndOfContainer() {
			break
		}
		var err error
		switch r.Tag().Number() {
		case tagValueValue:
			var n uint64
			n, err = r.Uint()
			v.Value = uint16(n)
		case tagValueDisplay:
			var b []byte
			b, err = r.Bytes()
			v.Display = string(b)
		case tagValueMeaning:
			v.Meaning, err = r.String()
		}
		if err != nil {
			return v, err
		}
	}
	return v, r.ExitContainer()
}
