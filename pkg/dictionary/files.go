package dictionary

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/backkem/feedconsumer/pkg/rdm"
)

// Local file names of the two dictionary artifacts.
const (
	FieldDictionaryFile = "RDMFieldDictionary"
	EnumTypeFile        = "enumtype.def"
)

// FileName returns the local file that holds the named artifact.
func FileName(artifact string) (string, error) {
	switch artifact {
	case rdm.FieldDictionaryName:
		return FieldDictionaryFile, nil
	case rdm.EnumDictionaryName:
		return EnumTypeFile, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArtifact, artifact)
}

// LoadArtifact loads the named artifact ("RWFFld" or "RWFEnum") from dir.
func (d *Dictionary) LoadArtifact(dir, artifact string) error {
	name, err := FileName(artifact)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if artifact == rdm.FieldDictionaryName {
		return d.LoadFieldFile(path)
	}
	return d.LoadEnumFile(path)
}

// LoadFieldFile loads field definitions from a RDMFieldDictionary file.
func (d *Dictionary) LoadFieldFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	defer f.Close()

	defs, version, err := ParseFieldDefinitions(f, filepath.Base(path))
	if err != nil {
		return err
	}
	if err := d.commitFields(defs, version); err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return nil
}

// LoadEnumFile loads enumerated types from an enumtype.def file.
func (d *Dictionary) LoadEnumFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	defer f.Close()

	tables, version, err := ParseEnumTypes(f, filepath.Base(path))
	if err != nil {
		return err
	}
	if err := d.commitEnums(tables, version); err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return nil
}

// ParseFieldDefinitions parses the RDMFieldDictionary text format:
//
//	ACRONYM  "DDE ACRONYM"  FID  RIPPLES_TO  FIELD_TYPE  LENGTH [( ENUM_LEN )]  RWF_TYPE  RWF_LEN
//
// Lines starting with '!' are comments, except "!tag Version <v>".
func ParseFieldDefinitions(r io.Reader, name string) ([]FieldDef, string, error) {
	var defs []FieldDef
	var version string

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "!") {
			if v, ok := versionTag(text); ok {
				version = v
			}
			continue
		}

		toks, err := tokenize(text)
		if err != nil {
			return nil, "", &ParseError{File: name, Line: line, Msg: err.Error()}
		}
		def, err := parseFieldLine(toks)
		if err != nil {
			return nil, "", &ParseError{File: name, Line: line, Msg: err.Error()}
		}
		defs = append(defs, def)
	}
	if err := sc.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if len(defs) == 0 {
		return nil, "", &ParseError{File: name, Line: line, Msg: "no field definitions"}
	}
	return defs, version, nil
}

func parseFieldLine(toks []string) (FieldDef, error) {
	if len(toks) < 8 {
		return FieldDef{}, fmt.Errorf("expected at least 8 columns, got %d", len(toks))
	}
	var def FieldDef
	def.Acronym = toks[0]
	def.DDEAcronym = toks[1]

	fid, err := strconv.ParseInt(toks[2], 10, 16)
	if err != nil {
		return def, fmt.Errorf("invalid fid %q", toks[2])
	}
	def.FID = int16(fid)

	if toks[3] != "NULL" {
		def.RippleTo = toks[3]
	}
	def.FieldType = toks[4]

	length, err := strconv.ParseUint(toks[5], 10, 16)
	if err != nil {
		return def, fmt.Errorf("invalid length %q", toks[5])
	}
	def.Length = uint16(length)

	rest := toks[6:]
	switch {
	case len(rest) >= 3 && rest[0] == "(":
		n, err := strconv.ParseUint(rest[1], 10, 8)
		if err != nil || len(rest) < 5 || rest[2] != ")" {
			return def, fmt.Errorf("invalid enum length")
		}
		def.EnumLength = uint8(n)
		rest = rest[3:]
	case strings.HasPrefix(rest[0], "(") && strings.HasSuffix(rest[0], ")"):
		n, err := strconv.ParseUint(strings.Trim(rest[0], "()"), 10, 8)
		if err != nil {
			return def, fmt.Errorf("invalid enum length %q", rest[0])
		}
		def.EnumLength = uint8(n)
		rest = rest[1:]
	}
	if len(rest) < 2 {
		return def, fmt.Errorf("missing rwf type columns")
	}
	def.RWFType = rest[0]
	rwfLen, err := strconv.ParseUint(rest[1], 10, 16)
	if err != nil {
		return def, fmt.Errorf("invalid rwf length %q", rest[1])
	}
	def.RWFLength = uint16(rwfLen)
	return def, nil
}

// ParseEnumTypes parses the enumtype.def text format. Each table starts
// with one or more "ACRONYM FID" lines followed by value lines:
//
//	VALUE  DISPLAY  MEANING
//
// DISPLAY is either a quoted string or a #hex# octet sequence.
func ParseEnumTypes(r io.Reader, name string) ([]*EnumTable, string, error) {
	var tables []*EnumTable
	var cur *EnumTable
	var version string
	inValues := false

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "!") {
			if v, ok := versionTag(text); ok {
				version = v
			}
			continue
		}

		toks, err := tokenize(text)
		if err != nil {
			return nil, "", &ParseError{File: name, Line: line, Msg: err.Error()}
		}
		if len(toks) < 2 {
			return nil, "", &ParseError{File: name, Line: line, Msg: "expected at least 2 columns"}
		}

		value, numErr := strconv.ParseUint(toks[0], 10, 16)
		if numErr != nil {
			// Field reference line.
			fid, err := strconv.ParseInt(toks[1], 10, 16)
			if err != nil {
				return nil, "", &ParseError{File: name, Line: line, Msg: fmt.Sprintf("invalid fid %q", toks[1])}
			}
			if cur == nil || inValues {
				cur = &EnumTable{}
				tables = append(tables, cur)
				inValues = false
			}
			cur.FIDs = append(cur.FIDs, int16(fid))
			continue
		}

		if cur == nil {
			return nil, "", &ParseError{File: name, Line: line, Msg: "value before any field reference"}
		}
		display, err := decodeDisplay(toks[1])
		if err != nil {
			return nil, "", &ParseError{File: name, Line: line, Msg: err.Error()}
		}
		inValues = true
		cur.Values = append(cur.Values, EnumValue{
			Value:   uint16(value),
			Display: display,
			Meaning: strings.Join(toks[2:], " "),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if len(tables) == 0 {
		return nil, "", &ParseError{File: name, Line: line, Msg: "no enumerated types"}
	}
	return tables, version, nil
}

func decodeDisplay(tok string) (string, error) {
	if len(tok) >= 2 && strings.HasPrefix(tok, "#") && strings.HasSuffix(tok, "#") {
		b, err := hex.DecodeString(tok[1 : len(tok)-1])
		if err != nil {
			return "", fmt.Errorf("invalid hex display %q", tok)
		}
		return string(b), nil
	}
	return tok, nil
}

// versionTag extracts the value of a "!tag Version <v>" comment.
func versionTag(line string) (string, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, "!"))
	if len(fields) >= 3 && fields[0] == "tag" && fields[1] == "Version" {
		return fields[2], true
	}
	return "", false
}

// tokenize splits a line on whitespace, keeping double-quoted strings as a
// single token without the quotes.
func tokenize(line string) ([]string, error) {
	var toks []string
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			toks = append(toks, line[i+1:i+1+end])
			i += end + 2
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' {
				j++
			}
			toks = append(toks, line[i:j])
			i = j
		}
	}
	return toks, nil
}
