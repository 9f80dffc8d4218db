package daichi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const statusDisconnected = "disconnected"

// Record is a device payload keyed by top-level field. Records are the unit of
// merging between the directory and the deep device fetch.
type Record map[string]json.RawMessage

// ID returns the numeric device id. Both JSON numbers and numeric strings are accepted.
func (r Record) ID() (int64, bool) {
	raw, ok := r["id"]
	if !ok {
		return 0, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := strconv.ParseInt(n.String(), 10, 64); err == nil && id != 0 {
			return id, true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Clone returns a copy that shares no maps or byte slices with r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for key, value := range r {
		out[key] = append(json.RawMessage(nil), value...)
	}
	return out
}

// Device returns the typed view of the record. Fields with an unexpected
// shape are left unset, so one odd field never hides the rest of the device.
func (r Record) Device() Device {
	var d Device
	d.ID, _ = r.ID()
	field(r, "title", &d.Title)
	field(r, "name", &d.Name)
	field(r, "status", &d.Status)
	field(r, "serial", &d.Serial)
	field(r, "curTemp", &d.CurTemp)
	field(r, "humidity", &d.Humidity)
	field(r, "curHumidity", &d.CurHumidity)
	field(r, "outdoorTemp", &d.OutdoorTemp)
	field(r, "outdoor_temp", &d.OutdoorTempAlt)
	field(r, "deviceInfo", &d.DeviceInfo)
	field(r, "state", &d.State)
	list(r, "pult", &d.Pult)
	list(r, "currentState", &d.Current)
	list(r, "currentStateDetailed", &d.Detailed)
	return d
}

var errNotObject = errors.New("not a JSON object")

func objectMembers(data []byte) (map[string]json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	if members == nil {
		return nil, errNotObject
	}
	return members, nil
}

// field decodes one member into dst. dst is untouched when the member is
// missing or does not fit.
func field[T any](members map[string]json.RawMessage, key string, dst *T) bool {
	raw, ok := members[key]
	if !ok {
		return false
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	*dst = value
	return true
}

// list decodes an array member element by element, dropping elements that do
// not fit.
func list[T any](members map[string]json.RawMessage, key string, dst *[]T) {
	var raws []json.RawMessage
	if !field(members, key, &raws) || raws == nil {
		return
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			out = append(out, value)
		}
	}
	*dst = out
}

// MergeRecords overlays deep on top of shallow. Keys present in deep win;
// keys only present in shallow are kept. Neither input is modified.
func MergeRecords(shallow, deep Record) Record {
	out := shallow.Clone()
	for key, value := range deep {
		out[key] = append(json.RawMessage(nil), value...)
	}
	return out
}

// Float is a numeric reading. JSON numbers and numeric strings ("21.5",
// "26°C") are valid; anything else leaves it unset.
type Float struct {
	Value float64
	Valid bool
}

func (f Float) Get() (float64, bool) {
	return f.Value, f.Valid
}

func (f *Float) UnmarshalJSON(data []byte) error {
	*f = Float{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if value, ok := parseDegrees(s); ok {
			*f = Float{Value: value, Valid: true}
		}
		return nil
	}
	var value float64
	if err := json.Unmarshal(data, &value); err == nil {
		*f = Float{Value: value, Valid: true}
	}
	return nil
}

// Building is one entry of the /buildings response.
type Building struct {
	ID     int64    `json:"id"`
	Title  string   `json:"title"`
	Places []Record `json:"places"`
}

// Device is the typed view of a device record.
type Device struct {
	ID             int64
	Title          string
	Name           string
	Status         string
	Serial         string
	CurTemp        Float
	Humidity       Float
	CurHumidity    Float
	OutdoorTemp    Float
	OutdoorTempAlt Float
	DeviceInfo     *DeviceInfo
	State          *DeviceState
	Pult           []PultSection
	Current        []StateSummary
	Detailed       []StateSummary
}

// DeviceInfo carries hardware metadata.
type DeviceInfo struct {
	Brand string
	Model string
}

func (i *DeviceInfo) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	*i = DeviceInfo{}
	field(members, "brand", &i.Brand)
	field(members, "model", &i.Model)
	return nil
}

// DeviceState is the coarse state summary shown by the directory.
type DeviceState struct {
	IsOn bool
	Info StateInfo
}

func (s *DeviceState) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	*s = DeviceState{}
	field(members, "isOn", &s.IsOn)
	field(members, "info", &s.Info)
	return nil
}

// StateInfo holds descriptive text and icon tags used to infer the active mode.
type StateInfo struct {
	Text        string
	IconNames   []string
	Humidity    Float
	OutdoorTemp Float
}

func (i *StateInfo) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	*i = StateInfo{}
	field(members, "text", &i.Text)
	list(members, "iconNames", &i.IconNames)
	field(members, "humidity", &i.Humidity)
	field(members, "outdoorTemp", &i.OutdoorTemp)
	return nil
}

// StateSummary is one line of the currentState list ("22°").
type StateSummary struct {
	Text string
}

func (s *StateSummary) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	*s = StateSummary{}
	field(members, "text", &s.Text)
	return nil
}

// PultSection groups function descriptors.
type PultSection struct {
	Title     string
	Functions []Function
}

func (p *PultSection) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	*p = PultSection{}
	field(members, "title", &p.Title)
	list(members, "functions", &p.Functions)
	return nil
}

// Function is one function descriptor with its current state.
type Function struct {
	ID    FunctionID
	Title string
	State FunctionState
}

// UnmarshalJSON rejects descriptors without a usable id.
func (f *Function) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	var id int
	if !field(members, "id", &id) || id == 0 {
		return errors.New("function without id")
	}
	*f = Function{ID: FunctionID(id)}
	field(members, "title", &f.Title)
	field(members, "state", &f.State)
	return nil
}

// FunctionState is the on/off flag and numeric value of a function.
type FunctionState struct {
	IsOn  bool
	Value Float
}

func (s *FunctionState) UnmarshalJSON(data []byte) error {
	members, err := objectMembers(data)
	if err != nil {
		return err
	}
	*s = FunctionState{}
	field(members, "isOn", &s.IsOn)
	field(members, "value", &s.Value)
	return nil
}

// DisplayName returns the title, falling back to name and id.
func (d Device) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("Daichi %d", d.ID)
}

// Disconnected reports the service's "disconnected" status sentinel.
func (d Device) Disconnected() bool {
	return strings.EqualFold(strings.TrimSpace(d.Status), statusDisconnected)
}

// PowerOn reports the coarse on/off flag.
func (d Device) PowerOn() bool {
	return d.State != nil && d.State.IsOn
}

// Function finds a function descriptor in the pult.
func (d Device) Function(id FunctionID) (Function, bool) {
	for _, section := range d.Pult {
		for _, fn := range section.Functions {
			if fn.ID == id {
				return fn, true
			}
		}
	}
	return Function{}, false
}

// TargetTemperature reads the setpoint from state.info.text ("26°C"), then from
// the temperature function in the pult.
func (d Device) TargetTemperature() (float64, bool) {
	if d.State != nil {
		if value, ok := parseDegrees(d.State.Info.Text); ok {
			return value, true
		}
	}
	if fn, ok := d.Function(FunctionTemperature); ok {
		return fn.State.Value.Get()
	}
	return 0, false
}

// CurrentTemperature reads curTemp, then the first currentStateDetailed line,
// then the first currentState line.
func (d Device) CurrentTemperature() (float64, bool) {
	if d.CurTemp.Valid {
		return d.CurTemp.Value, true
	}
	if len(d.Detailed) > 0 {
		if value, ok := parseDegrees(d.Detailed[0].Text); ok {
			return value, true
		}
	}
	if len(d.Current) > 0 {
		return parseDegrees(d.Current[0].Text)
	}
	return 0, false
}

// RelativeHumidity reads humidity or curHumidity, then a percentage line of
// currentStateDetailed ("45%"), then state.info.humidity.
func (d Device) RelativeHumidity() (float64, bool) {
	if d.Humidity.Valid {
		return d.Humidity.Value, true
	}
	if d.CurHumidity.Valid {
		return d.CurHumidity.Value, true
	}
	for _, line := range d.Detailed {
		if !strings.Contains(line.Text, "%") || strings.Contains(line.Text, "°") {
			continue
		}
		if value, ok := parseDegrees(line.Text); ok {
			return value, true
		}
	}
	if d.State != nil {
		return d.State.Info.Humidity.Get()
	}
	return 0, false
}

// OutdoorTemperature reads outdoorTemp or outdoor_temp, then state.info.outdoorTemp.
func (d Device) OutdoorTemperature() (float64, bool) {
	if d.OutdoorTemp.Valid {
		return d.OutdoorTemp.Value, true
	}
	if d.OutdoorTempAlt.Valid {
		return d.OutdoorTempAlt.Value, true
	}
	if d.State != nil {
		return d.State.Info.OutdoorTemp.Get()
	}
	return 0, false
}

var modeIcons = []struct {
	icon string
	mode FunctionID
}{
	{"modeCool_active", FunctionCool},
	{"modeHeat_active", FunctionHeat},
	{"modeDry_active", FunctionDry},
	{"modeFan_active", FunctionFan},
	{"modeAuto_active", FunctionAuto},
}

// Mode reports the active operation mode from the state icons. Powered-off
// devices report false.
func (d Device) Mode() (FunctionID, bool) {
	if !d.PowerOn() {
		return 0, false
	}
	for _, candidate := range modeIcons {
		for _, icon := range d.State.Info.IconNames {
			if icon == candidate.icon {
				return candidate.mode, true
			}
		}
	}
	return 0, false
}

func parseDegrees(text string) (float64, bool) {
	head, _, _ := strings.Cut(text, "°")
	var b strings.Builder
	for _, r := range head {
		if (r >= '0' && r <= '9') || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
