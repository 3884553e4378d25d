// Package hissync loads discharge records from the hospital information
// system into cases. Records arrive from the HIS HTTP endpoint, a Kafka feed
// or a Parquet export; each is upserted by AN and its raw payload kept.
package hissync

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

const (
	SourceHTTP    = "http"
	SourceKafka   = "kafka"
	SourceParquet = "parquet"

	EndpointDischarge = "PatientsDischarge"
)

// Record is one discharge row as the HIS sends it. Numeric fields such as
// AGE may arrive as numbers or strings.
type Record struct {
	HN                normalize.Text `json:"HN"`
	AN                normalize.Text `json:"AN"`
	PatientName       normalize.Text `json:"PATIENTNAME"`
	DischargeDatetime normalize.Text `json:"DISCHARGEDATETIME"`
	Age               normalize.Text `json:"AGE"`
	RightCode         normalize.Text `json:"RIGHTCODE"`
	RightName         normalize.Text `json:"RIGHTNAME"`
	WardCode          normalize.Text `json:"WARDCODE"`
	WardName          normalize.Text `json:"WARDNAME"`
	SexCode           normalize.Text `json:"SEXCODE"`
	SexName           normalize.Text `json:"SEXNAME"`
}

// Valid reports whether the record carries both identifiers.
func (r Record) Valid() bool {
	return r.HN.String() != "" && r.AN.String() != ""
}

// DischargedAt parses the discharge timestamp. Unreadable values yield nil.
func (r Record) DischargedAt() *time.Time {
	return parseHISTime(r.DischargeDatetime.String())
}

var hisTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseHISTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range hisTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ParquetRow is the column layout of a discharge export file.
type ParquetRow struct {
	HN                string  `parquet:"hn"`
	AN                string  `parquet:"an"`
	PatientName       *string `parquet:"patient_name,optional"`
	DischargeDatetime *string `parquet:"discharge_datetime,optional"`
	Age               *string `parquet:"age,optional"`
	RightCode         *string `parquet:"right_code,optional"`
	RightName         *string `parquet:"right_name,optional"`
	WardCode          *string `parquet:"ward_code,optional"`
	WardName          *string `parquet:"ward_name,optional"`
	SexCode           *string `parquet:"sex_code,optional"`
	SexName           *string `parquet:"sex_name,optional"`
}

func text(p *string) normalize.Text {
	if p == nil {
		return normalize.Text{}
	}
	return normalize.TextOf(*p)
}

// Record converts the row to the HIS record shape.
func (p ParquetRow) Record() Record {
	return Record{
		HN:                normalize.TextOf(p.HN),
		AN:                normalize.TextOf(p.AN),
		PatientName:       text(p.PatientName),
		DischargeDatetime: text(p.DischargeDatetime),
		Age:               text(p.Age),
		RightCode:         text(p.RightCode),
		RightName:         text(p.RightName),
		WardCode:          text(p.WardCode),
		WardName:          text(p.WardName),
		SexCode:           text(p.SexCode),
		SexName:           text(p.SexName),
	}
}

// Query selects discharges on the HIS endpoint. Empty parts match anything.
type Query struct {
	HN      string `json:"hn"`
	AN      string `json:"an"`
	DCSince string `json:"dc_since"`
	DCEnd   string `json:"dc_end"`
}

// Result counts one ingestion run.
type Result struct {
	Fetched  int `json:"fetched"`
	Upserted int `json:"upserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (r *Result) add(o Result) {
	r.Fetched += o.Fetched
	r.Upserted += o.Upserted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// splitRecords accepts a JSON array, an object with a data array, or a single
// record object. Anything else yields no records.
func splitRecords(body []byte) []json.RawMessage {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 {
		if err := json.Unmarshal(wrapped.Data, &list); err == nil {
			return list
		}
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		if _, ok := obj["AN"]; ok {
			return []json.RawMessage{body}
		}
	}
	return nil
}
