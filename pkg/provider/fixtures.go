package provider

import (
	"github.com/backkem/feedconsumer/pkg/dictionary"
	"github.com/backkem/feedconsumer/pkg/message"
	"github.com/backkem/feedconsumer/pkg/rdm"
)

// NewService returns a service that is up, accepts requests, offers both
// dictionaries and carries market price.
func NewService(id uint16, name string) rdm.Service {
	return rdm.Service{
		ID:                id,
		Name:              name,
		Vendor:            "feedconsumer",
		Up:                true,
		AcceptingRequests: true,
		Capabilities:      []message.Domain{message.DomainDictionary, message.DomainMarketPrice},
		Dictionaries:      []string{rdm.FieldDictionaryName, rdm.EnumDictionaryName},
		QoS:               []rdm.QoS{rdm.DefaultQoS()},
	}
}

// SampleFields is a small field dictionary covering a level-one quote.
func SampleFields() []dictionary.FieldDef {
	return []dictionary.FieldDef{
		{FID: 1, Acronym: "PROD_PERM", DDEAcronym: "PERMISSION", FieldType: "INTEGER", Length: 5, RWFType: "UINT64", RWFLength: 2},
		{FID: 3, Acronym: "DSPLY_NAME", DDEAcronym: "DISPLAY NAME", FieldType: "ALPHANUMERIC", Length: 16, RWFType: "RMTES_STRING", RWFLength: 16},
		{FID: 4, Acronym: "RDN_EXCHID", DDEAcronym: "IDN EXCHANGE ID", FieldType: "ENUMERATED", Length: 3, EnumLength: 3, RWFType: "ENUM", RWFLength: 1},
		{FID: 6, Acronym: "TRDPRC_1", DDEAcronym: "LAST", RippleTo: "TRDPRC_2", FieldType: "PRICE", Length: 17, RWFType: "REAL64", RWFLength: 7},
		{FID: 22, Acronym: "BID", DDEAcronym: "BID", RippleTo: "BID_1", FieldType: "PRICE", Length: 17, RWFType: "REAL64", RWFLength: 7},
		{FID: 25, Acronym: "ASK", DDEAcronym: "ASK", RippleTo: "ASK_1", FieldType: "PRICE", Length: 17, RWFType: "REAL64", RWFLength: 7},
		{FID: 30, Acronym: "BIDSIZE", DDEAcronym: "BID SIZE", FieldType: "INTEGER", Length: 15, RWFType: "REAL64", RWFLength: 7},
		{FID: 31, Acronym: "ASKSIZE", DDEAcronym: "ASK SIZE", FieldType: "INTEGER", Length: 15, RWFType: "REAL64", RWFLength: 7},
	}
}

// SampleEnums is the enumerated-type companion of SampleFields.
func SampleEnums() []dictionary.EnumTable {
	return []dictionary.EnumTable{
		{FIDs: []int16{4}, Values: []dictionary.EnumValue{
			{Value: 0, Display: "   "},
			{Value: 1, Display: "ASE"},
			{Value: 2, Display: "NYS"},
			{Value: 3, Display: "BOS"},
		}},
		{FIDs: []int16{14, 15}, Values: []dictionary.EnumValue{
			{Value: 0, Display: " "},
			{Value: 1, Display: "USD"},
		}},
	}
}
