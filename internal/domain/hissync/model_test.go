package hissync

import (
	"encoding/json"
	"testing"
)

func TestSplitRecords(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"AN":"1"},{"AN":"2"}]`, 2},
		{"data envelope", `{"data":[{"AN":"1"}]}`, 1},
		{"single record", `{"AN":"1","HN":"9"}`, 1},
		{"data not array", `{"data":"oops"}`, 0},
		{"unrelated object", `{"status":"ok"}`, 0},
		{"garbage", `not json`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(splitRecords([]byte(tt.body))); got != tt.want {
				t.Errorf("got %d records, want %d", got, tt.want)
			}
		})
	}
}

func TestRecord_Decode(t *testing.T) {
	var r Record
	body := `{"HN":" 0012 ","AN":"6800123","AGE":67,"SEXNAME":"","DISCHARGEDATETIME":"2026-01-15 10:30:00"}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatal(err)
	}
	if !r.Valid() || r.HN.String() != "0012" {
		t.Errorf("unexpected identifiers %q/%q", r.HN.String(), r.AN.String())
	}
	if r.Age.String() != "67" {
		t.Errorf("age = %q", r.Age.String())
	}
	if r.SexName.Ptr() != nil {
		t.Error("blank sex name should be null")
	}
	at := r.DischargedAt()
	if at == nil || at.Day() != 15 || at.Hour() != 10 {
		t.Errorf("unexpected discharge time %v", at)
	}
}

func TestRecord_InvalidWithoutAN(t *testing.T) {
	var r Record
	json.Unmarshal([]byte(`{"HN":"1","AN":""}`), &r)
	if r.Valid() {
		t.Error("record without AN must be invalid")
	}
}

func TestParseHISTime(t *testing.T) {
	for _, s := range []string{"2026-01-15T10:30:00Z", "2026-01-15T10:30:00", "2026-01-15"} {
		if parseHISTime(s) == nil {
			t.Errorf("%q should parse", s)
		}
	}
	for _, s := range []string{"", "15/01/2026", "yesterday"} {
		if parseHISTime(s) != nil {
			t.Errorf("%q should not parse", s)
		}
	}
}

func TestParquetRow_Record(t *testing.T) {
	ward := "ICU"
	blank := " "
	r := ParquetRow{HN: "1", AN: "2", WardName: &ward, SexName: &blank}.Record()
	if r.WardName.String() != "ICU" || r.SexName.Ptr() != nil || r.PatientName.Present {
		t.Errorf("unexpected record %+v", r)
	}
}
