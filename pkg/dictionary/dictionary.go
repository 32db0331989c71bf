// Package dictionary holds the reference data dictionary a consumer needs
// to interpret field-list payloads: field definitions keyed by field id and
// the enumerated-type tables that map enum values to display strings.
//
// A Dictionary can be loaded from local files or assembled from the
// multi-part refreshes a provider sends on the dictionary domain. The
// Reassembler implements the latter.
package dictionary

import (
	"sort"
	"sync"
)

// Type identifies the kind of dictionary carried by a payload.
type Type uint8

const (
	TypeUnspecified Type = 0
	// TypeFieldDefinitions is the field dictionary ("RWFFld").
	TypeFieldDefinitions Type = 1
	// TypeEnumTables is the enumerated types dictionary ("RWFEnum").
	TypeEnumTables Type = 2
)

// String returns a human-readable name for the dictionary type.
func (t Type) String() string {
	switch t {
	case TypeFieldDefinitions:
		return "FieldDefinitions"
	case TypeEnumTables:
		return "EnumTables"
	default:
		return "Unspecified"
	}
}

// IsValid returns true if the type is a defined dictionary kind.
func (t Type) IsValid() bool {
	return t == TypeFieldDefinitions || t == TypeEnumTables
}

// FieldDef describes one field.
type FieldDef struct {
	FID        int16
	Acronym    string
	DDEAcronym string
	RippleTo   string
	FieldType  string
	Length     uint16
	EnumLength uint8
	RWFType    string
	RWFLength  uint16
}

// EnumValue is one entry of an enumerated type.
type EnumValue struct {
	Value   uint16
	Display string
	Meaning string
}

// EnumTable is an enumerated type shared by one or more fields.
type EnumTable struct {
	FIDs   []int16
	Values []EnumValue
}

// Display returns the display string for v.
func (t *EnumTable) Display(v uint16) (string, bool) {
	i := sort.Search(len(t.Values), func(i int) bool { return t.Values[i].Value >= v })
	if i < len(t.Values) && t.Values[i].Value == v {
		return t.Values[i].Display, true
	}
	return "", false
}

func (t *EnumTable) sortValues() {
	sort.Slice(t.Values, func(i, j int) bool { return t.Values[i].Value < t.Values[j].Value })
}

// Dictionary is a loaded data dictionary.
// It is safe for concurrent readers.
type Dictionary struct {
	mu sync.RWMutex

	fields    map[int16]*FieldDef
	byAcronym map[string]*FieldDef
	enums     []*EnumTable
	enumByFID map[int16]*EnumTable

	fieldsLoaded bool
	enumsLoaded  bool

	fieldVersion string
	enumVersion  string
}

// New creates an empty dictionary.
func New() *Dictionary {
	d := &Dictionary{}
	d.reset()
	return d
}

func (d *Dictionary) reset() {
	d.fields = make(map[int16]*FieldDef)
	d.byAcronym = make(map[string]*FieldDef)
	d.enums = nil
	d.enumByFID = make(map[int16]*EnumTable)
	d.fieldsLoaded = false
	d.enumsLoaded = false
	d.fieldVersion = ""
	d.enumVersion = ""
}

// Unload discards all loaded definitions.
func (d *Dictionary) Unload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

// FieldsLoaded reports whether field definitions have been loaded.
func (d *Dictionary) FieldsLoaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fieldsLoaded
}

// EnumsLoaded reports whether enumerated types have been loaded.
func (d *Dictionary) EnumsLoaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enumsLoaded
}

// Loaded reports whether the given kind has been loaded.
func (d *Dictionary) Loaded(t Type) bool {
	switch t {
	case TypeFieldDefinitions:
		return d.FieldsLoaded()
	case TypeEnumTables:
		return d.EnumsLoaded()
	}
	return false
}

// Version returns the version tag recorded for the given kind.
func (d *Dictionary) Version(t Type) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t == TypeEnumTables {
		return d.enumVersion
	}
	return d.fieldVersion
}

// NumFields returns the number of field definitions.
func (d *Dictionary) NumFields() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.fields)
}

// NumEnumTables returns the number of enumerated-type tables.
func (d *Dictionary) NumEnumTables() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.enums)
}

// Field returns the definition for fid.
func (d *Dictionary) Field(fid int16) (FieldDef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.fields[fid]
	if !ok {
		return FieldDef{}, false
	}
	return *f, true
}

// FieldByAcronym returns the definition with the given acronym.
func (d *Dictionary) FieldByAcronym(acronym string) (FieldDef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.byAcronym[acronym]
	if !ok {
		return FieldDef{}, false
	}
	return *f, true
}

// EnumDisplay returns the display string for an enum value of a field.
func (d *Dictionary) EnumDisplay(fid int16, v uint16) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.enumByFID[fid]
	if !ok {
		return "", false
	}
	return t.Display(v)
}

// Fields returns all field definitions ordered by fid.
func (d *Dictionary) Fields() []FieldDef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]FieldDef, 0, len(d.fields))
	for _, f := range d.fields {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FID < out[j].FID })
	return out
}

// EnumTables returns copies of all enumerated-type tables.
func (d *Dictionary) EnumTables() []EnumTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EnumTable, len(d.enums))
	for i, t := range d.enums {
		out[i] = EnumTable{
			FIDs:   append([]int16(nil), t.FIDs...),
			Values: append([]EnumValue(nil), t.Values...),
		}
	}
	return out
}

// commitFields adopts a complete set of field definitions.
func (d *Dictionary) commitFields(defs []FieldDef, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fields := make(map[int16]*FieldDef, len(defs))
	byAcronym := make(map[string]*FieldDef, len(defs))
	for i := range defs {
		f := defs[i]
		if _, dup := fields[f.FID]; dup {
			return &DuplicateFieldError{FID: f.FID}
		}
		fields[f.FID] = &f
		byAcronym[f.Acronym] = &f
	}
	d.fields = fields
	d.byAcronym = byAcronym
	d.fieldVersion = version
	d.fieldsLoaded = true
	return nil
}

// commitEnums adopts a complete set of enumerated-type tables.
func (d *Dictionary) commitEnums(tables []*EnumTable, version string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	byFID := make(map[int16]*EnumTable)
	for _, t := range tables {
		t.sortValues()
		for _, fid := range t.FIDs {
			if _, dup := byFID[fid]; dup {
				return &DuplicateFieldError{FID: fid}
			}
			byFID[fid] = t
		}
	}
	d.enums = tables
	d.enumByFID = byFID
	d.enumVersion = version
	d.enumsLoaded = true
	return nil
}
