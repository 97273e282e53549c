package device

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRecord_RoundTrip(t *testing.T) {
	f := newTestFactory(t)

	devices := []Device{
		mustCreate(t, f, "d1", "plug", "10.0.0.5"),
		mustCreate(t, f, "lamp", "Yeelight", "192.168.1.40:54321"),
		mustCreate(t, f, "vac", "RoborockVacuum", "vacuum.local"),
		mustCreate(t, f, "v6", "plug", "[fe80::1]:54321"),
	}
	generated, err := f.Create("plug", ConnectionParams{Address: "10.0.0.6", Token: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	devices = append(devices, generated)

	for _, d := range devices {
		t.Run(d.ID(), func(t *testing.T) {
			got, err := f.FromRecord(d.Record())
			if err != nil {
				t.Fatalf("FromRecord() error = %v", err)
			}
			if got != d {
				t.Errorf("FromRecord(Record()) = %#v, want %#v", got, d)
			}

			data, err := MarshalRecord(d.Record())
			if err != nil {
				t.Fatalf("MarshalRecord() error = %v", err)
			}
			rec, err := UnmarshalRecord(data)
			if err != nil {
				t.Fatalf("UnmarshalRecord() error = %v", err)
			}
			got, err = f.FromRecord(rec)
			if err != nil {
				t.Fatalf("FromRecord(json) error = %v", err)
			}
			if got != d {
				t.Errorf("JSON round trip = %#v, want %#v", got, d)
			}

			yml, err := yaml.Marshal(d.Record())
			if err != nil {
				t.Fatalf("yaml.Marshal() error = %v", err)
			}
			var yrec Record
			if err := yaml.Unmarshal(yml, &yrec); err != nil {
				t.Fatalf("yaml.Unmarshal() error = %v", err)
			}
			got, err = f.FromRecord(yrec)
			if err != nil {
				t.Fatalf("FromRecord(yaml) error = %v", err)
			}
			if got != d {
				t.Errorf("YAML round trip = %#v, want %#v", got, d)
			}
		})
	}
}

func TestFromRecord_Rejection(t *testing.T) {
	f := newTestFactory(t)
	valid := func() Record {
		return Record{"id": "d1", "device_type": "plug", "address": "10.0.0.5", "token": "abc"}
	}

	tests := []struct {
		name      string
		mutate    func(Record)
		wantKind  error
		wantField string
	}{
		{name: "missing id", mutate: func(r Record) { delete(r, "id") }, wantKind: ErrMalformedRecord, wantField: "id"},
		{name: "missing device_type", mutate: func(r Record) { delete(r, "device_type") }, wantKind: ErrMalformedRecord, wantField: "device_type"},
		{name: "missing address", mutate: func(r Record) { delete(r, "address") }, wantKind: ErrMalformedRecord, wantField: "address"},
		{name: "missing token", mutate: func(r Record) { delete(r, "token") }, wantKind: ErrMalformedRecord, wantField: "token"},
		{name: "empty token", mutate: func(r Record) { r["token"] = "" }, wantKind: ErrMalformedRecord, wantField: "token"},
		{name: "numeric id", mutate: func(r Record) { r["id"] = 42 }, wantKind: ErrMalformedRecord, wantField: "id"},
		{name: "null address", mutate: func(r Record) { r["address"] = nil }, wantKind: ErrMalformedRecord, wantField: "address"},
		{name: "unregistered type", mutate: func(r Record) { r["device_type"] = "toaster" }, wantKind: ErrUnknownDeviceType, wantField: "device_type"},
		{name: "unparsable address", mutate: func(r Record) { r["address"] = "0.0.0.0.0.0.0.0.0" }, wantKind: ErrInvalidConnectionParams, wantField: "address"},
		{name: "token with space", mutate: func(r Record) { r["token"] = "ab c" }, wantKind: ErrInvalidConnectionParams, wantField: "token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid()
			tt.mutate(rec)

			d, err := f.FromRecord(rec)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("FromRecord() error = %v, want %v", err, tt.wantKind)
			}
			var derr *Error
			if !errors.As(err, &derr) {
				t.Fatalf("FromRecord() error type = %T, want *Error", err)
			}
			if derr.Field != tt.wantField {
				t.Errorf("Error.Field = %q, want %q", derr.Field, tt.wantField)
			}
			if !d.IsZero() {
				t.Errorf("FromRecord() device = %v, want zero", d)
			}
		})
	}
}

func TestFromRecord_IgnoresExtraFields(t *testing.T) {
	f := newTestFactory(t)
	rec := Record{"id": "d1", "device_type": "plug", "address": "10.0.0.5", "token": "abc", "model": "chuangmi.plug.m1"}

	d, err := f.FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord() error = %v", err)
	}
	if d != mustCreate(t, f, "d1", "plug", "10.0.0.5") {
		t.Errorf("FromRecord() = %v", d)
	}
}

func TestUnmarshalRecord_Malformed(t *testing.T) {
	for _, input := range []string{`{`, `null`, `[1,2]`, `"x"`} {
		if _, err := UnmarshalRecord([]byte(input)); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("UnmarshalRecord(%q) error = %v, want ErrMalformedRecord", input, err)
		}
	}
}

func TestRecordYAML_KeepsScalarText(t *testing.T) {
	f := newTestFactory(t)
	var rec Record
	input := "id: 0042\ndevice_type: plug\naddress: 10.0.0.5\ntoken: 1234\nextra: [1, 2]\n"
	if err := yaml.Unmarshal([]byte(input), &rec); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	d, err := f.FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord() error = %v", err)
	}
	if d.ID() != "0042" || d.Connection().Token != "1234" {
		t.Errorf("FromRecord() = id %q token %q, want literal scalars", d.ID(), d.Connection().Token)
	}
}

func TestSaveLoadFile(t *testing.T) {
	f := newTestFactory(t)
	d := mustCreate(t, f, "lamp", "Yeelight", "192.168.1.40")
	path := filepath.Join(t.TempDir(), "lamp.json")

	if err := SaveFile(path, d); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "\n  \"device_type\": \"Yeelight\"") {
		t.Errorf("saved record is not pretty-printed:\n%s", data)
	}

	got, err := f.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got != d {
		t.Errorf("LoadFile() = %v, want %v", got, d)
	}

	if _, err := f.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFile(missing) error = nil, want error")
	}
}
