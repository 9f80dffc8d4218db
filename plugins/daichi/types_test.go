package daichi

import (
	"encoding/json"
	"testing"
)

func TestRecordID(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{`{"id":42}`, 42, true},
		{`{"id":"42"}`, 42, true},
		{`{"id":null}`, 0, false},
		{`{"id":0}`, 0, false},
		{`{"id":"abc"}`, 0, false},
		{`{"title":"x"}`, 0, false},
	}
	for _, tc := range cases {
		id, ok := mustRecord(t, tc.raw).ID()
		if id != tc.want || ok != tc.ok {
			t.Fatalf("%s: expected %d/%v, got %d/%v", tc.raw, tc.want, tc.ok, id, ok)
		}
	}
}

func TestMergeRecordsDoesNotMutateInputs(t *testing.T) {
	shallow := mustRecord(t, `{"id":1,"title":"A","status":"old"}`)
	deep := mustRecord(t, `{"status":"new","pult":[]}`)

	merged := MergeRecords(shallow, deep)
	if string(merged["status"]) != `"new"` || string(merged["title"]) != `"A"` || string(merged["pult"]) != `[]` {
		t.Fatalf("unexpected merge: %v", merged)
	}
	if string(shallow["status"]) != `"old"` || len(shallow) != 3 {
		t.Fatalf("shallow record was modified: %v", shallow)
	}
	merged["title"][1] = 'Z'
	if string(shallow["title"]) != `"A"` {
		t.Fatalf("merged record shares bytes with input")
	}
	if len(deep) != 2 {
		t.Fatalf("deep record was modified: %v", deep)
	}
}

func TestDeviceView(t *testing.T) {
	record := mustRecord(t, `{
		"id": 9,
		"name": "ac-9",
		"status": "Disconnected",
		"curTemp": null,
		"currentState": [{"text": "23°"}],
		"state": {"isOn": false, "info": {"text": "", "iconNames": ["modeDry_active"]}},
		"pult": [{"title": "Main", "functions": [
			{"id": 351, "state": {"isOn": true, "value": "25"}},
			{"id": 363, "state": {"isOn": true}}
		]}]
	}`)
	device := record.Device()
	if device.ID != 9 || device.DisplayName() != "ac-9" {
		t.Fatalf("unexpected identity: %d %q", device.ID, device.DisplayName())
	}
	if !device.Disconnected() || device.PowerOn() {
		t.Fatalf("expected disconnected and off")
	}
	if _, ok := device.Mode(); ok {
		t.Fatalf("powered-off device must not report a mode")
	}
	if temp, ok := device.TargetTemperature(); !ok || temp != 25 {
		t.Fatalf("expected pult target 25, got %v %v", temp, ok)
	}
	if temp, ok := device.CurrentTemperature(); !ok || temp != 23 {
		t.Fatalf("expected current 23, got %v %v", temp, ok)
	}
	if fn, ok := device.Function(FunctionEco); !ok || !fn.State.IsOn || fn.State.Value.Valid {
		t.Fatalf("unexpected eco function: %+v", fn)
	}

	untitled := mustRecord(t, `{"id":3}`).Device()
	if untitled.DisplayName() != "Daichi 3" {
		t.Fatalf("unexpected fallback name %q", untitled.DisplayName())
	}
}

func TestParseDegrees(t *testing.T) {
	cases := map[string]float64{
		"26°C":  26,
		"-3.5°": -3.5,
		"22":    22,
	}
	for in, want := range cases {
		if got, ok := parseDegrees(in); !ok || got != want {
			t.Fatalf("%q: expected %v, got %v %v", in, want, got, ok)
		}
	}
	if _, ok := parseDegrees("Cooling"); ok {
		t.Fatalf("expected no value for text without digits")
	}
}

func TestFloatAcceptsStrings(t *testing.T) {
	var v struct {
		A Float `json:"a"`
		B Float `json:"b"`
		C Float `json:"c"`
		D Float `json:"d"`
		E Float `json:"e"`
	}
	if err := json.Unmarshal([]byte(`{"a":"21.5","b":19,"c":null,"d":"n/a","e":{"value":3}}`), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.A != (Float{Value: 21.5, Valid: true}) || v.B != (Float{Value: 19, Valid: true}) {
		t.Fatalf("unexpected values: %+v", v)
	}
	if v.C.Valid || v.D.Valid || v.E.Valid {
		t.Fatalf("expected null, text and object readings to be unset: %+v", v)
	}
}

func TestDeviceViewToleratesUnexpectedShapes(t *testing.T) {
	device := mustRecord(t, `{
		"id": 5,
		"title": "Study",
		"status": 7,
		"curTemp": {"value": 21},
		"deviceInfo": "n/a",
		"state": {"isOn": "yes", "info": {"text": "24°C", "iconNames": ["modeHeat_active", 3]}},
		"currentState": [{"text": "20°"}],
		"pult": [{"functions": [
			"bogus",
			{"title": "no id"},
			{"id": 363, "state": {"isOn": true, "value": [1]}}
		]}, 12]
	}`).Device()

	if device.ID != 5 || device.DisplayName() != "Study" || device.Status != "" {
		t.Fatalf("unexpected identity: %+v", device)
	}
	if device.DeviceInfo != nil {
		t.Fatalf("expected no device info, got %+v", device.DeviceInfo)
	}
	if device.State == nil || device.State.IsOn || len(device.State.Info.IconNames) != 1 {
		t.Fatalf("expected partial state, got %+v", device.State)
	}
	if temp, ok := device.TargetTemperature(); !ok || temp != 24 {
		t.Fatalf("expected target 24, got %v %v", temp, ok)
	}
	if temp, ok := device.CurrentTemperature(); !ok || temp != 20 {
		t.Fatalf("expected current 20 from currentState, got %v %v", temp, ok)
	}
	if len(device.Pult) != 1 || len(device.Pult[0].Functions) != 1 {
		t.Fatalf("expected one usable function, got %+v", device.Pult)
	}
	if fn, _ := device.Function(FunctionEco); !fn.State.IsOn || fn.State.Value.Valid {
		t.Fatalf("unexpected eco function: %+v", fn)
	}
}

func TestCurrentTemperatureFallbacks(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"cur temp number", `{"curTemp":21.5,"currentState":[{"text":"22°"}]}`, 21.5, true},
		{"cur temp string", `{"curTemp":"19"}`, 19, true},
		{"unparseable cur temp", `{"curTemp":"n/a","currentState":[{"text":"22°"}]}`, 22, true},
		{"detailed before summary", `{"currentStateDetailed":[{"text":"23°C"}],"currentState":[{"text":"22°"}]}`, 23, true},
		{"unparseable detailed", `{"currentStateDetailed":[{"text":"--"}],"currentState":[{"text":"22°"}]}`, 22, true},
		{"nothing", `{"currentState":[]}`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := mustRecord(t, tc.raw).Device().CurrentTemperature()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("expected %v/%v, got %v/%v", tc.want, tc.ok, got, ok)
			}
		})
	}
}

func TestRelativeHumidity(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"humidity", `{"humidity":45,"curHumidity":50}`, 45, true},
		{"cur humidity", `{"curHumidity":"50"}`, 50, true},
		{"unparseable humidity", `{"humidity":"n/a","curHumidity":52}`, 52, true},
		{"detailed percentage", `{"currentStateDetailed":[{"text":"22°"},{"text":"48%"}]}`, 48, true},
		{"detailed skips degrees", `{"currentStateDetailed":[{"text":"22°/40%"}],"state":{"info":{"humidity":"41%"}}}`, 41, true},
		{"state info", `{"state":{"info":{"humidity":39}}}`, 39, true},
		{"nothing", `{"state":{"isOn":true}}`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := mustRecord(t, tc.raw).Device().RelativeHumidity()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("expected %v/%v, got %v/%v", tc.want, tc.ok, got, ok)
			}
		})
	}
}

func TestOutdoorTemperature(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"outdoor temp", `{"outdoorTemp":-4.5,"outdoor_temp":3}`, -4.5, true},
		{"snake case", `{"outdoor_temp":"3"}`, 3, true},
		{"state info", `{"outdoorTemp":null,"state":{"info":{"outdoorTemp":"-7°C"}}}`, -7, true},
		{"nothing", `{"curTemp":21}`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := mustRecord(t, tc.raw).Device().OutdoorTemperature()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("expected %v/%v, got %v/%v", tc.want, tc.ok, got, ok)
			}
		})
	}
}
