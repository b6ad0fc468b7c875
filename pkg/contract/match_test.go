package contract

import (
	"encoding/json"
	"testing"
)

func TestContractPrefix(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"OH4014 - Site A", "OH4014"},
		{"OH4014", "OH4014"},
		{"  ab12-03 Civil", "ab12"},
		{"4014 - Site A", ""},
		{"Site A", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ContractPrefix(tt.code); got != tt.want {
			t.Errorf("ContractPrefix(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func contractList(t *testing.T, raw string) []Record {
	t.Helper()
	var out []Record
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unmarshal contracts: %v", err)
	}
	return out
}

func TestMatchContract(t *testing.T) {
	contracts := contractList(t, `[
		{"id": 1, "number": "", "title": "Blank"},
		{"id": 2, "number": "NY1000", "title": "Other"},
		{"id": 3, "number": " OH4014 ", "title": "Exact"},
		{"id": 4, "number": "OH4014-001", "title": "Extended"}
	]`)

	tests := []struct {
		name   string
		prefix string
		wantID string
		wantOK bool
	}{
		{"exact number", "OH4014", "3", true},
		{"contract number extends prefix", "OH401", "3", true},
		{"prefix extends contract number", "NY10005", "2", true},
		{"case-insensitive", "oh4014", "3", true},
		{"no match", "TX9", "", false},
		{"empty prefix", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchContract(contracts, tt.prefix)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID() != tt.wantID {
				t.Errorf("matched id = %q, want %q", got.ID(), tt.wantID)
			}
		})
	}
}

func TestMatchContractExtendedNumber(t *testing.T) {
	contracts := contractList(t, `[{"id": 9, "number": "OH4014-001"}]`)
	got, ok := MatchContract(contracts, ContractPrefix("OH4014 - Site A"))
	if !ok || got.ID() != "9" {
		t.Fatalf("expected OH4014-001 to match, got %v %v", got.ID(), ok)
	}
}

func TestMatchContractTitleFallback(t *testing.T) {
	contracts := contractList(t, `[
		{"id": 1, "number": "PC-01", "title": "Prime contract for OH4014 works"},
		{"id": 2, "title": "Unrelated"}
	]`)
	got, ok := MatchContract(contracts, "OH4014")
	if !ok || got.ID() != "1" {
		t.Fatalf("expected title match on contract 1, got %q %v", got.ID(), ok)
	}
}

func TestSubUnitFromRecord(t *testing.T) {
	rec := mustRecord(t, `{"id": 55, "code": "OH4014 - Site A", "name": "Site A"}`)
	su := SubUnitFromRecord(rec)
	if su.ID != "55" || su.Code != "OH4014 - Site A" || su.Name != "Site A" {
		t.Errorf("SubUnitFromRecord() = %+v", su)
	}
}

func TestRecordPreservesKeyOrder(t *testing.T) {
	rec := mustRecord(t, `{"zeta": 1, "alpha": {"name": "x"}, "mid": "m"}`)
	keys := rec.Keys()
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"zeta":1,"alpha":{"name":"x"},"mid":"m"}` {
		t.Errorf("MarshalJSON() = %s", out)
	}
}

func TestRecordNullAndScalars(t *testing.T) {
	rec := mustRecord(t, `null`)
	if rec.Len() != 0 {
		t.Errorf("expected empty record, got %d keys", rec.Len())
	}

	if _, err := ParseRecord([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for non-object JSON")
	}

	rec = mustRecord(t, `{"id": 12345678901, "number": " A1 "}`)
	if rec.ID() != "12345678901" {
		t.Errorf("ID() = %q", rec.ID())
	}
	if rec.Number() != "A1" {
		t.Errorf("Number() = %q", rec.Number())
	}
}

func TestRecordFromMap(t *testing.T) {
	rec := RecordFromMap(map[string]any{"b": "2", "a": "1"})
	keys := rec.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v", keys)
	}
}
