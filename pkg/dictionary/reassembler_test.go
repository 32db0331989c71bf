package dictionary

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pion/logging"

	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/rdm"
	"github.com/backkem/feedconsumer/pkg/tlv"
)

func sampleFields() []FieldDef {
	return []FieldDef{
		{FID: 1, Acronym: "PROD_PERM", DDEAcronym: "PERMISSION", FieldType: "INTEGER", Length: 5, RWFType: "UINT64", RWFLength: 2},
		{FID: 4, Acronym: "RDN_EXCHID", DDEAcronym: "IDN EXCHANGE ID", FieldType: "ENUMERATED", Length: 3, EnumLength: 3, RWFType: "ENUM", RWFLength: 1},
		{FID: 22, Acronym: "BID", DDEAcronym: "BID", RippleTo: "BID_1", FieldType: "PRICE", Length: 17, RWFType: "REAL64", RWFLength: 7},
		{FID: 25, Acronym: "ASK", DDEAcronym: "ASK", RippleTo: "ASK_1", FieldType: "PRICE", Length: 17, RWFType: "REAL64", RWFLength: 7},
		{FID: 30, Acronym: "BIDSIZE", DDEAcronym: "BID SIZE", FieldType: "INTEGER", Length: 15, RWFType: "REAL64", RWFLength: 7},
	}
}

func sampleEnums() []EnumTable {
	return []EnumTable{
		{FIDs: []int16{4}, Values: []EnumValue{{Value: 0, Display: "   "}, {Value: 1, Display: "ASE"}, {Value: 2, Display: "NYS"}}},
		{FIDs: []int16{14, 15}, Values: []EnumValue{{Value: 0, Display: " "}, {Value: 1, Display: "\xde"}}},
	}
}

func newTestReassembler() *Reassembler {
	return NewReassembler(ReassemblerConfig{
		Dictionary:    New(),
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
}

func TestReassembler_MultiPartFields(t *testing.T) {
	r := newTestReassembler()
	r.Track(message.StreamFieldDictionary, rdm.FieldDictionaryName, TypeFieldDefinitions)

	parts, err := EncodeFieldParts(sampleFields(), "4.20.29", 2)
	if err != nil {
		t.Fatalf("EncodeFieldParts() error = %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("EncodeFieldParts() parts = %d, want 3", len(parts))
	}

	for i, p := range parts {
		final := i == len(parts)-1
		progress, err := r.Consume(message.StreamFieldDictionary, Fragment{Payload: p, Final: final})
		if err != nil {
			t.Fatalf("Consume(part %d) error = %v", i, err)
		}
		want := MoreExpected
		if final {
			want = Complete
		}
		if progress != want {
			t.Errorf("Consume(part %d) = %v, want %v", i, progress, want)
		}
		if !final && r.Dictionary().FieldsLoaded() {
			t.Errorf("fields adopted before final part %d", i)
		}
	}

	d := r.Dictionary()
	if !d.FieldsLoaded() {
		t.Fatal("fields not loaded after final part")
	}
	if diff := cmp.Diff(sampleFields(), d.Fields()); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
	if d.Version(TypeFieldDefinitions) != "4.20.29" {
		t.Errorf("Version() = %q, want 4.20.29", d.Version(TypeFieldDefinitions))
	}

	dl, _ := r.Download(message.StreamFieldDictionary)
	if !dl.Complete() || dl.Kind() != TypeFieldDefinitions {
		t.Errorf("download = complete %v kind %v", dl.Complete(), dl.Kind())
	}
}

func TestReassembler_EnumSinglePart(t *testing.T) {
	r := newTestReassembler()
	r.Track(message.StreamEnumDictionary, rdm.EnumDictionaryName, TypeUnspecified)

	parts, err := EncodeEnumParts(sampleEnums(), "", 0)
	if err != nil {
		t.Fatalf("EncodeEnumParts() error = %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("EncodeEnumParts() parts = %d, want 1", len(parts))
	}
	progress, err := r.Consume(message.StreamEnumDictionary, Fragment{Payload: parts[0], Final: true})
	if err != nil || progress != Complete {
		t.Fatalf("Consume() = %v, %v, want Complete", progress, err)
	}
	if diff := cmp.Diff(sampleEnums(), r.Dictionary().EnumTables()); diff != "" {
		t.Errorf("EnumTables() mismatch (-want +got):\n%s", diff)
	}
	if s, ok := r.Dictionary().EnumDisplay(15, 1); !ok || s != "\xde" {
		t.Errorf("EnumDisplay(15, 1) = %q, %v", s, ok)
	}
}

func TestReassembler_SingleFire(t *testing.T) {
	r := newTestReassembler()
	r.Track(message.StreamFieldDictionary, rdm.FieldDictionaryName, TypeFieldDefinitions)

	parts, _ := EncodeFieldParts(sampleFields(), "", 0)
	if _, err := r.Consume(message.StreamFieldDictionary, Fragment{Payload: parts[0], Final: true}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	progress, err := r.Consume(message.StreamFieldDictionary, Fragment{Payload: parts[0], Final: true})
	if !errors.Is(err, ErrAlreadyComplete) {
		t.Errorf("second Consume() error = %v, want %v", err, ErrAlreadyComplete)
	}
	if progress == Complete {
		t.Error("second Consume() reported Complete again")
	}
}

func TestReassembler_AbortOnCorruptPart(t *testing.T) {
	r := newTestReassembler()
	r.Track(message.StreamFieldDictionary, rdm.FieldDictionaryName, TypeFieldDefinitions)

	parts, _ := EncodeFieldParts(sampleFields(), "", 2)
	if _, err := r.Consume(message.StreamFieldDictionary, Fragment{Payload: parts[0]}); err != nil {
		t.Fatalf("Consume(first) error = %v", err)
	}

	corrupt := parts[1][:len(parts[1])/2]
	_, err := r.Consume(message.StreamFieldDictionary, Fragment{Payload: corrupt})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Consume(corrupt) error = %v, want %v", err, ErrDecode)
	}

	// Everything after a failure is rejected and nothing is adopted.
	_, err = r.Consume(message.StreamFieldDictionary, Fragment{Payload: parts[2], Final: true})
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Consume(after abort) error = %v, want %v", err, ErrAborted)
	}
	if r.Dictionary().FieldsLoaded() {
		t.Error("partial dictionary adopted after abort")
	}
	dl, _ := r.Download(message.StreamFieldDictionary)
	if !dl.Failed() {
		t.Error("Failed() = false after abort")
	}
}

func TestReassembler_FirstPartChecks(t *testing.T) {
	noType, err := tlv.Encode(func(w *tlv.Writer) error {
		if err := w.StartStructure(tlv.Anonymous()); err != nil {
			return err
		}
		return w.EndContainer()
	})
	if err != nil {
		t.Fatal(err)
	}
	enumParts, err := EncodeEnumParts(sampleEnums(), "", 0)
	if err != nil {
		t.Fatalf("EncodeEnumParts() error = %v", err)
	}

	tests := []struct {
		name    string
		expect  Type
		payload []byte
	}{
		{"missing type", TypeUnspecified, noType},
		{"type mismatch", TypeFieldDefinitions, enumParts[0]},
		{"garbage", TypeUnspecified, []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReassembler()
			r.Track(7, "test", tt.expect)
			_, err := r.Consume(7, Fragment{Payload: tt.payload, Final: true})
			if !errors.Is(err, ErrDecode) {
				t.Errorf("Consume() error = %v, want %v", err, ErrDecode)
			}
			if r.Dictionary().FieldsLoaded() || r.Dictionary().EnumsLoaded() {
				t.Error("dictionary adopted after failed first part")
			}
		})
	}
}

func TestReassembler_DuplicateFIDAborts(t *testing.T) {
	r := newTestReassembler()
	r.Track(message.StreamFieldDictionary, rdm.FieldDictionaryName, TypeFieldDefinitions)

	defs := append(sampleFields(), FieldDef{FID: 22, Acronym: "BID2"})
	parts, err := EncodeFieldParts(defs, "", 0)
	if err != nil {
		t.Fatalf("EncodeFieldParts() error = %v", err)
	}
	_, err = r.Consume(message.StreamFieldDictionary, Fragment{Payload: parts[0], Final: true})
	var dup *DuplicateFieldError
	if !errors.Is(err, ErrDecode) || !errors.As(err, &dup) {
		t.Errorf("Consume() error = %v, want duplicate fid", err)
	}
	if r.Dictionary().FieldsLoaded() {
		t.Error("dictionary adopted with duplicate fid")
	}
}

func TestReassembler_UnknownStream(t *testing.T) {
	r := newTestReassembler()
	if _, err := r.Consume(42, Fragment{}); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("Consume() error = %v, want %v", err, ErrUnknownStream)
	}
}

func TestReassembler_EnumFileRoundTrip(t *testing.T) {
	local := New()
	if err := local.LoadArtifact(writeDictFiles(t), rdm.EnumDictionaryName); err != nil {
		t.Fatalf("LoadArtifact(RWFEnum) error = %v", err)
	}
	if s, _ := local.EnumDisplay(14, 1); s != "\xde" {
		t.Fatalf("local EnumDisplay(14, 1) = %q, want \\xde", s)
	}

	parts, err := EncodeEnumParts(local.EnumTables(), "4.20.29", 1)
	if err != nil {
		t.Fatalf("EncodeEnumParts() error = %v", err)
	}

	r := newTestReassembler()
	r.Track(message.StreamEnumDictionary, rdm.EnumDictionaryName, TypeEnumTables)
	for i, p := range parts {
		final := i == len(parts)-1
		if _, err := r.Consume(message.StreamEnumDictionary, Fragment{Payload: p, Final: final}); err != nil {
			t.Fatalf("Consume(part %d) error = %v", i, err)
		}
	}

	got := r.Dictionary()
	if !got.EnumsLoaded() {
		t.Fatal("EnumsLoaded() = false after final part")
	}
	if s, ok := got.EnumDisplay(14, 1); !ok || s != "\xde" {
		t.Errorf("EnumDisplay(14, 1) = %q, %v, want \\xde", s, ok)
	}
	if diff := cmp.Diff(local.EnumTables(), got.EnumTables()); diff != "" {
		t.Errorf("enum tables mismatch (-local +received):\n%s", diff)
	}
}
