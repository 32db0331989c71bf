package dictionary

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/backkem/feedconsumer/pkg/rdm"
)

const fieldFile = `!
! RDMFieldDictionary
!tag Version 4.20.29
!
!ACRONYM    DDE ACRONYM          FID  RIPPLES TO  FIELD TYPE     LENGTH  RWF TYPE   RWF LEN
!-------    -----------          ---  ----------  ----------     ------  --------   -------
PROD_PERM  "PERMISSION"             1  NULL        INTEGER             5  UINT64           2
RDNDISPLAY "DISPLAYTEMPLATE"        2  NULL        INTEGER             3  UINT64           1
RDN_EXCHID "IDN EXCHANGE ID"        4  NULL        ENUMERATED    3 ( 3 )  ENUM             1
BID        "BID"                   22  BID_1       PRICE              17  REAL64           7
ASK        "ASK"                   25  ASK_1       PRICE              17  REAL64           7
PRCTCK_1   "TICK"                  14  NULL        ENUMERATED    1 (1)    ENUM             1
`

const enumFile = `!
!tag Version 4.20.29
!
! ACRONYM    FID
RDN_EXCHID     4
!
! VALUE      DISPLAY   MEANING
    0         "   "    Unknown
    1         "ASE"    NYSE AMEX
    2         "NYS"    New York Stock Exchange
!
PRCTCK_1      14
!
    0        " "       no tick
    1        #DE#      up tick
    2        #FE#      down tick
`

func writeDictFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FieldDictionaryFile), []byte(fieldFile), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, EnumTypeFile), []byte(enumFile), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadArtifact(t *testing.T) {
	dir := writeDictFiles(t)
	d := New()

	if err := d.LoadArtifact(dir, rdm.FieldDictionaryName); err != nil {
		t.Fatalf("LoadArtifact(RWFFld) error = %v", err)
	}
	if err := d.LoadArtifact(dir, rdm.EnumDictionaryName); err != nil {
		t.Fatalf("LoadArtifact(RWFEnum) error = %v", err)
	}
	if !d.FieldsLoaded() || !d.EnumsLoaded() {
		t.Fatal("dictionary not marked loaded")
	}

	if d.NumFields() != 6 {
		t.Errorf("NumFields() = %d, want 6", d.NumFields())
	}
	bid, ok := d.Field(22)
	if !ok {
		t.Fatal("Field(22) not found")
	}
	if bid.Acronym != "BID" || bid.RippleTo != "BID_1" || bid.RWFType != "REAL64" || bid.RWFLength != 7 {
		t.Errorf("Field(22) = %+v", bid)
	}
	exch, _ := d.FieldByAcronym("RDN_EXCHID")
	if exch.EnumLength != 3 || exch.DDEAcronym != "IDN EXCHANGE ID" {
		t.Errorf("FieldByAcronym(RDN_EXCHID) = %+v", exch)
	}
	tick, _ := d.Field(14)
	if tick.EnumLength != 1 {
		t.Errorf("Field(14).EnumLength = %d, want 1", tick.EnumLength)
	}
	if d.Version(TypeFieldDefinitions) != "4.20.29" {
		t.Errorf("Version() = %q, want 4.20.29", d.Version(TypeFieldDefinitions))
	}

	if d.NumEnumTables() != 2 {
		t.Errorf("NumEnumTables() = %d, want 2", d.NumEnumTables())
	}
	if s, ok := d.EnumDisplay(4, 2); !ok || s != "NYS" {
		t.Errorf("EnumDisplay(4, 2) = %q, %v, want NYS", s, ok)
	}
	if s, ok := d.EnumDisplay(14, 1); !ok || s != "\xde" {
		t.Errorf("EnumDisplay(14, 1) = %q, %v, want \\xde", s, ok)
	}
	if _, ok := d.EnumDisplay(14, 9); ok {
		t.Error("EnumDisplay(14, 9) found, want missing")
	}

	d.Unload()
	if d.FieldsLoaded() || d.EnumsLoaded() || d.NumFields() != 0 {
		t.Error("Unload() left definitions behind")
	}
}

func TestLoadArtifact_Errors(t *testing.T) {
	d := New()
	if err := d.LoadArtifact(t.TempDir(), rdm.FieldDictionaryName); !errors.Is(err, ErrLoad) {
		t.Errorf("LoadArtifact(missing) error = %v, want %v", err, ErrLoad)
	}
	if err := d.LoadArtifact(t.TempDir(), "RWFOther"); !errors.Is(err, ErrUnknownArtifact) {
		t.Errorf("LoadArtifact(unknown) error = %v, want %v", err, ErrUnknownArtifact)
	}
	if d.FieldsLoaded() {
		t.Error("failed load marked fields loaded")
	}
}

func TestParseFieldDefinitions_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "! nothing here\n"},
		{"short line", "BID \"BID\" 22 NULL PRICE\n"},
		{"bad fid", "BID \"BID\" x NULL PRICE 17 REAL64 7\n"},
		{"unterminated quote", "BID \"BID 22 NULL PRICE 17 REAL64 7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseFieldDefinitions(strings.NewReader(tt.input), "test")
			var pe *ParseError
			if !errors.As(err, &pe) || !errors.Is(err, ErrLoad) {
				t.Errorf("ParseFieldDefinitions() error = %v, want *ParseError", err)
			}
		})
	}
}

func TestParseEnumTypes_ValueBeforeReference(t *testing.T) {
	_, _, err := ParseEnumTypes(strings.NewReader("0 \"x\" nothing\n"), "test")
	if !errors.Is(err, ErrLoad) {
		t.Errorf("ParseEnumTypes() error = %v, want %v", err, ErrLoad)
	}
}

func TestDuplicateFID(t *testing.T) {
	d := New()
	err := d.commitFields([]FieldDef{{FID: 1, Acronym: "A"}, {FID: 1, Acronym: "B"}}, "")
	var dup *DuplicateFieldError
	if !errors.As(err, &dup) || dup.FID != 1 {
		t.Errorf("commitFields() error = %v, want duplicate fid 1", err)
	}
	if d.FieldsLoaded() {
		t.Error("failed commit marked fields loaded")
	}
}
