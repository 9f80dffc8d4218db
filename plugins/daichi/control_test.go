package daichi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestBuildCommandValue(t *testing.T) {
	cases := []struct {
		name  string
		fn    FunctionID
		value Value
		want  string
	}{
		{"power default", FunctionPower, NoValue, `{"functionId":350,"isOn":true,"parameters":null}`},
		{"power off", FunctionPower, Bool(false), `{"functionId":350,"isOn":false,"parameters":null}`},
		{"power zero", FunctionPower, Number(0), `{"functionId":350,"isOn":false,"parameters":null}`},
		{"mode ignores value", FunctionCool, Number(5), `{"functionId":352,"isOn":true,"parameters":null}`},
		{"heat", FunctionHeat, Bool(false), `{"functionId":353,"isOn":true,"parameters":null}`},
		{"temperature", FunctionTemperature, Number(22.5), `{"functionId":351,"value":22.5,"parameters":null}`},
		{"temperature unset", FunctionTemperature, NoValue, `{"functionId":351,"value":null,"parameters":null}`},
		{"fan speed", FunctionFanSpeed, Number(3), `{"functionId":358,"value":3,"parameters":null}`},
		{"fan speed auto", FunctionFanSpeedAuto, Bool(false), `{"functionId":357,"isOn":true,"parameters":null}`},
		{"other bool", FunctionEco, Bool(false), `{"functionId":363,"isOn":false,"parameters":null}`},
		{"other number", FunctionEco, Number(2), `{"functionId":363,"value":2,"parameters":null}`},
		{"other default", FunctionTurbo, NoValue, `{"functionId":364,"isOn":true,"parameters":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(BuildCommandValue(tc.fn, tc.value, nil))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, data)
			}
		})
	}
}

func TestRandomCommandIDsAreEightDigits(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := RandomCommandIDs.NextCommandID()
		if id < 10_000_000 || id > 99_999_999 {
			t.Fatalf("command id %d is not 8 digits", id)
		}
	}
}

type controlServer struct {
	mu      sync.Mutex
	bodies  []map[string]json.RawMessage
	queries []string
	respond func(call int, w http.ResponseWriter)
}

func newControlServer(t *testing.T, respond func(call int, w http.ResponseWriter)) (*controlServer, *httptest.Server) {
	t.Helper()
	cs := &controlServer{respond: respond}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices/42/ctrl" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]json.RawMessage
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Errorf("decode command: %v", err)
		}
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, decoded)
		cs.queries = append(cs.queries, r.URL.RawQuery)
		call := len(cs.bodies)
		cs.mu.Unlock()
		cs.respond(call, w)
	}))
	t.Cleanup(server.Close)
	return cs, server
}

func TestControlDeviceSendsCommand(t *testing.T) {
	cs, server := newControlServer(t, func(_ int, w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, `{"done":true,"errors":null,"updateRequired":false}`)
	})
	client, _ := newTestClient(t, server.URL)

	result, err := client.ControlDevice(context.Background(), 42, FunctionTemperature, Number(24), map[string]any{"zone": 1})
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if !result.Done {
		t.Fatalf("expected done result")
	}
	if len(cs.bodies) != 1 {
		t.Fatalf("expected one request, got %d", len(cs.bodies))
	}
	if cs.queries[0] != "ignoreConflicts=false" {
		t.Fatalf("unexpected query %q", cs.queries[0])
	}
	body := cs.bodies[0]
	if string(body["cmdId"]) != "12345678" {
		t.Fatalf("unexpected cmdId %s", body["cmdId"])
	}
	if string(body["conflictResolveData"]) != "null" {
		t.Fatalf("expected null conflictResolveData, got %s", body["conflictResolveData"])
	}
	if got := string(body["value"]); got != `{"functionId":351,"value":24,"parameters":{"zone":1}}` {
		t.Fatalf("unexpected value %s", got)
	}
}

func TestControlDeviceNotDoneIsReturned(t *testing.T) {
	_, server := newControlServer(t, func(_ int, w http.ResponseWriter) {
		writeJSON(w, http.StatusOK, `{"done":false,"errors":["device busy"],"updateRequired":true}`)
	})
	client, _ := newTestClient(t, server.URL)

	result, err := client.ControlDevice(context.Background(), 42, FunctionPower, Bool(true), nil)
	if err != nil {
		t.Fatalf("expected no error for done=false, got %v", err)
	}
	if result.Done || !result.UpdateRequired {
		t.Fatalf("unexpected result: %+v", result)
	}
	if string(result.Errors) != `["device busy"]` {
		t.Fatalf("unexpected errors %s", result.Errors)
	}
}

func TestControlDeviceResolvesConflict(t *testing.T) {
	const blob = `{"scheduleId":7,"keep":[1,2]}`
	cs, server := newControlServer(t, func(call int, w http.ResponseWriter) {
		if call == 1 {
			writeJSON(w, http.StatusConflict, `{"title":"Schedule is running","actions":[
				{"behaviour":"CANCEL","title":"Cancel","conflictResolveData":{"x":1}},
				{"behaviour":"REQUEST","title":"Skip","conflictResolveData":null},
				{"behaviour":"REQUEST","title":"Pause schedule","conflictResolveData":`+blob+`}
			]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"done":true}`)
	})
	client, _ := newTestClient(t, server.URL)

	result, err := client.ControlDevice(context.Background(), 42, FunctionHeat, NoValue, nil)
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if !result.Done {
		t.Fatalf("expected done after resolution")
	}
	if len(cs.bodies) != 2 {
		t.Fatalf("expected original and resend, got %d requests", len(cs.bodies))
	}
	first, second := cs.bodies[0], cs.bodies[1]
	if string(second["conflictResolveData"]) != blob {
		t.Fatalf("expected verbatim blob, got %s", second["conflictResolveData"])
	}
	if string(first["cmdId"]) != string(second["cmdId"]) || string(first["value"]) != string(second["value"]) {
		t.Fatalf("resend must repeat the command")
	}
}

func TestControlDeviceConflictFailures(t *testing.T) {
	t.Run("unresolvable", func(t *testing.T) {
		cs, server := newControlServer(t, func(_ int, w http.ResponseWriter) {
			writeJSON(w, http.StatusConflict, `{"title":"Device locked","actions":[{"behaviour":"CANCEL","conflictResolveData":{"x":1}}]}`)
		})
		client, _ := newTestClient(t, server.URL)

		_, err := client.ControlDevice(context.Background(), 42, FunctionPower, NoValue, nil)
		if !errors.Is(err, ErrCannotConnect) {
			t.Fatalf("expected cannot connect, got %v", err)
		}
		if !strings.Contains(err.Error(), "Device locked") {
			t.Fatalf("expected conflict title in error, got %v", err)
		}
		if len(cs.bodies) != 1 {
			t.Fatalf("expected no resend, got %d requests", len(cs.bodies))
		}
	})

	t.Run("resend rejected", func(t *testing.T) {
		cs, server := newControlServer(t, func(_ int, w http.ResponseWriter) {
			writeJSON(w, http.StatusConflict, `{"title":"Busy","actions":[{"behaviour":"REQUEST","conflictResolveData":{"x":1}}]}`)
		})
		client, _ := newTestClient(t, server.URL)

		_, err := client.ControlDevice(context.Background(), 42, FunctionPower, NoValue, nil)
		if !errors.Is(err, ErrCannotConnect) {
			t.Fatalf("expected cannot connect, got %v", err)
		}
		if len(cs.bodies) != 2 {
			t.Fatalf("expected exactly one resend, got %d requests", len(cs.bodies))
		}
	})

	t.Run("other status", func(t *testing.T) {
		_, server := newControlServer(t, func(_ int, w http.ResponseWriter) {
			writeJSON(w, http.StatusBadRequest, `{}`)
		})
		client, _ := newTestClient(t, server.URL)

		if _, err := client.ControlDevice(context.Background(), 42, FunctionPower, NoValue, nil); !errors.Is(err, ErrCannotConnect) {
			t.Fatalf("expected cannot connect, got %v", err)
		}
	})
}

func TestConflictActionNeedsBlob(t *testing.T) {
	cases := map[string]bool{
		`{"token":"abc"}`: true,
		`["step"]`:        true,
		`"abc"`:           true,
		`1`:               true,
		`true`:            true,
		`null`:            false,
		`{}`:              false,
		`[]`:              false,
		`""`:              false,
		`false`:           false,
		`0`:               false,
		``:                false,
	}
	for blob, want := range cases {
		action := ConflictAction{Behaviour: conflictBehaviourRequest, ConflictResolveData: json.RawMessage(blob)}
		if got := action.resolvable(); got != want {
			t.Fatalf("blob %q: expected resolvable=%v, got %v", blob, want, got)
		}
	}

	cancel := ConflictAction{Behaviour: "CANCEL", ConflictResolveData: json.RawMessage(`{"token":"abc"}`)}
	if cancel.resolvable() {
		t.Fatalf("only REQUEST actions resolve a conflict")
	}
}

func TestControlSkipsEmptyConflictBlobs(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serveAuth(w, r, "tok") {
			return
		}
		posts.Add(1)
		writeJSON(w, http.StatusConflict, `{"title":"Busy","actions":[
			{"behaviour":"REQUEST","conflictResolveData":{}},
			{"behaviour":"REQUEST","conflictResolveData":""},
			{"behaviour":"REQUEST","conflictResolveData":false},
			{"behaviour":"REQUEST","conflictResolveData":0}
		]}`)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	_, err := client.ControlDevice(context.Background(), 7, FunctionPower, Bool(true), nil)
	if !errors.Is(err, ErrCannotConnect) {
		t.Fatalf("expected CannotConnect, got %v", err)
	}
	if posts.Load() != 1 {
		t.Fatalf("expected no resolution attempt, got %d control posts", posts.Load())
	}
}
