package telemetry

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestValue_MarshalNaNAsNull(t *testing.T) {
	data, err := json.Marshal(NaN())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Marshal(NaN) = %s, want null", data)
	}

	data, err = json.Marshal(Value(float32(math.Inf(1))))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "null" {
		t.Errorf("Marshal(+Inf) = %s, want null", data)
	}
}

func TestValue_UnmarshalNullAsNaN(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte("null"), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !v.IsNaN() {
		t.Errorf("Unmarshal(null) = %v, want NaN", v)
	}
}

func TestValue_InfinityDecodesAsNaN(t *testing.T) {
	for _, in := range []Value{Value(float32(math.Inf(1))), Value(float32(math.Inf(-1)))} {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", in, err)
		}
		var out Value
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if !out.IsNaN() {
			t.Errorf("round trip of %v = %v, want NaN", in, out)
		}
	}
}

func TestValue_MarshalFloat32Precision(t *testing.T) {
	data, err := json.Marshal(Value(0.1))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != "0.1" {
		t.Errorf("Marshal(0.1) = %s, want 0.1", data)
	}
}

func TestReading_ValuesRoundTrip(t *testing.T) {
	var in [FieldCount]float32
	for i := range in {
		in[i] = float32(i + 1)
	}

	r := NewReading(in)
	if r.CO != 1 || r.PMParticles100 != 14 {
		t.Errorf("NewReading() positions wrong: co=%v pm_particles_100=%v", r.CO, r.PMParticles100)
	}
	if r.Values() != in {
		t.Errorf("Values() = %v, want %v", r.Values(), in)
	}
}

func TestReading_EqualTreatsNaNAsEqual(t *testing.T) {
	a := NewReading([FieldCount]float32{1, float32(math.NaN())})
	b := NewReading([FieldCount]float32{1, float32(math.NaN())})
	if !a.Equal(b) {
		t.Error("Equal() = false for identical readings with NaN")
	}

	c := NewReading([FieldCount]float32{2, float32(math.NaN())})
	if a.Equal(c) {
		t.Error("Equal() = true for different readings")
	}
}

func TestReceivedEvent_FlattenedJSON(t *testing.T) {
	ev := ReceivedEvent{
		DeviceID: "D1",
		Reading:  NewReading([FieldCount]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if raw["id"] != "D1" {
		t.Errorf("id = %v, want D1", raw["id"])
	}
	for i, name := range FieldNames {
		if raw[name] != float64(i+1) {
			t.Errorf("%s = %v, want %d", name, raw[name], i+1)
		}
	}
	if len(raw) != FieldCount+1 {
		t.Errorf("len(fields) = %d, want %d", len(raw), FieldCount+1)
	}
}

func TestScope_Matches(t *testing.T) {
	tests := []struct {
		name   string
		scope  Scope
		device string
		want   bool
	}{
		{"all matches any", AllDevices(), "D1", true},
		{"device matches itself", SingleDevice("D1"), "D1", true},
		{"device rejects other", SingleDevice("D1"), "D2", false},
		{"zero value matches nothing", Scope{}, "D1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Matches(tt.device); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.device, got, tt.want)
			}
		})
	}
}

func TestScope_Validate(t *testing.T) {
	tests := []struct {
		name    string
		scope   Scope
		wantErr string
	}{
		{"main", AllDevices(), ""},
		{"child", SingleDevice("D1"), ""},
		{"child without id", Scope{Kind: ScopeDevice}, "requires a device id"},
		{"main with id", Scope{Kind: ScopeAll, DeviceID: "D1"}, "must not name a device"},
		{"unknown", Scope{Kind: "other"}, "unknown scope type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
