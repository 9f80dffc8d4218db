package daichi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
)

const conflictBehaviourRequest = "REQUEST"

// CommandIDSource yields the cmdId attached to each control command.
type CommandIDSource interface {
	NextCommandID() int64
}

// CommandIDFunc adapts a function to CommandIDSource.
type CommandIDFunc func() int64

func (f CommandIDFunc) NextCommandID() int64 { return f() }

// RandomCommandIDs draws 8-digit ids.
var RandomCommandIDs CommandIDSource = CommandIDFunc(func() int64 {
	return 10_000_000 + rand.Int64N(90_000_000)
})

type valueKind int

const (
	valueUnset valueKind = iota
	valueBool
	valueNumber
)

// Value is the optional argument of a control command.
type Value struct {
	kind valueKind
	b    bool
	n    float64
}

// NoValue leaves the argument unset.
var NoValue = Value{}

func Bool(b bool) Value        { return Value{kind: valueBool, b: b} }
func Number(n float64) Value   { return Value{kind: valueNumber, n: n} }
func (v Value) IsSet() bool    { return v.kind != valueUnset }
func (v Value) IsBool() bool   { return v.kind == valueBool }
func (v Value) IsNumber() bool { return v.kind == valueNumber }

// Truthy treats numbers as on when non-zero.
func (v Value) Truthy() bool {
	switch v.kind {
	case valueBool:
		return v.b
	case valueNumber:
		return v.n != 0
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case valueBool:
		return strconv.FormatBool(v.b)
	case valueNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	}
	return "none"
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case valueBool:
		return json.Marshal(v.b)
	case valueNumber:
		return json.Marshal(v.n)
	}
	return []byte("null"), nil
}

// CommandValue is the value object of a control command. Exactly one of
// isOn or value is emitted.
type CommandValue struct {
	FunctionID FunctionID
	IsOn       *bool
	Value      Value
	Parameters map[string]any
}

func (c CommandValue) MarshalJSON() ([]byte, error) {
	if c.IsOn != nil {
		return json.Marshal(struct {
			FunctionID FunctionID     `json:"functionId"`
			IsOn       bool           `json:"isOn"`
			Parameters map[string]any `json:"parameters"`
		}{c.FunctionID, *c.IsOn, c.Parameters})
	}
	return json.Marshal(struct {
		FunctionID FunctionID     `json:"functionId"`
		Value      Value          `json:"value"`
		Parameters map[string]any `json:"parameters"`
	}{c.FunctionID, c.Value, c.Parameters})
}

// ControlCommand is the body of POST /devices/{id}/ctrl.
type ControlCommand struct {
	CmdID               int64           `json:"cmdId"`
	Value               CommandValue    `json:"value"`
	ConflictResolveData json.RawMessage `json:"conflictResolveData"`
}

// ConflictResponse is the 409 body listing ways to resolve a conflict.
type ConflictResponse struct {
	Title   string           `json:"title"`
	Actions []ConflictAction `json:"actions"`
}

type ConflictAction struct {
	Behaviour           string          `json:"behaviour"`
	Title               string          `json:"title"`
	ConflictResolveData json.RawMessage `json:"conflictResolveData"`
}

func (a ConflictAction) resolvable() bool {
	return a.Behaviour == conflictBehaviourRequest && hasBlob(a.ConflictResolveData)
}

// hasBlob reports whether raw carries a value. null, false, 0, "" and empty
// objects or arrays do not.
func hasBlob(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	}
	return true
}

// ControlResult is the decoded 200 response of a control call.
type ControlResult struct {
	Done           bool            `json:"done"`
	Errors         json.RawMessage `json:"errors"`
	UpdateRequired bool            `json:"updateRequired"`
	Data           json.RawMessage `json:"data"`
	Raw            json.RawMessage `json:"-"`
}

// BuildCommandValue shapes the value object for a function.
func BuildCommandValue(fn FunctionID, value Value, parameters map[string]any) CommandValue {
	cv := CommandValue{FunctionID: fn, Parameters: parameters}
	on := func(b bool) { cv.IsOn = &b }

	switch {
	case fn == FunctionPower:
		if value.IsSet() {
			on(value.Truthy())
		} else {
			on(true)
		}
	case fn.IsMode(), fn == FunctionFanSpeedAuto:
		on(true)
	case fn == FunctionTemperature, fn == FunctionFanSpeed:
		cv.Value = value
	case value.IsBool():
		on(value.b)
	case value.IsNumber():
		cv.Value = value
	default:
		on(true)
	}
	return cv
}

type controller struct {
	transport *transport
	ids       CommandIDSource
	logger    *slog.Logger
}

// ControlDevice sends one command and resolves a 409 conflict once.
func (c *controller) ControlDevice(ctx context.Context, deviceID int64, fn FunctionID, value Value, parameters map[string]any) (ControlResult, error) {
	result, err := c.control(ctx, deviceID, fn, value, parameters)
	switch {
	case err != nil:
		controlTotal.WithLabelValues("error").Inc()
	case result.Done:
		controlTotal.WithLabelValues("done").Inc()
	default:
		controlTotal.WithLabelValues("not_done").Inc()
	}
	return result, err
}

func (c *controller) control(ctx context.Context, deviceID int64, fn FunctionID, value Value, parameters map[string]any) (ControlResult, error) {
	op := "control"
	path := "/devices/" + strconv.FormatInt(deviceID, 10) + "/ctrl?ignoreConflicts=false"
	command := ControlCommand{
		CmdID: c.ids.NextCommandID(),
		Value: BuildCommandValue(fn, value, parameters),
	}
	logger := c.logger.With("device_id", deviceID, "function", fn.String(), "cmd_id", command.CmdID)
	logger.Debug("sending daichi control command", "value", value.String())

	resp, err := c.transport.do(ctx, http.MethodPost, path, command)
	if err != nil {
		return ControlResult{}, classify(op, err)
	}

	if resp.status == http.StatusConflict {
		var conflict ConflictResponse
		if err := resp.decode(&conflict); err != nil {
			conflictsTotal.WithLabelValues("failed").Inc()
			return ControlResult{}, cannotConnect(op, err)
		}
		logger.Warn("daichi command conflict", "title", conflict.Title)

		action, ok := firstResolvable(conflict.Actions)
		if !ok {
			conflictsTotal.WithLabelValues("unresolvable").Inc()
			return ControlResult{}, cannotConnect(op, fmt.Errorf("unresolvable conflict: %s", conflict.Title))
		}

		logger.Info("resolving daichi conflict", "action", action.Title)
		command.ConflictResolveData = action.ConflictResolveData
		resp, err = c.transport.do(ctx, http.MethodPost, path, command)
		if err != nil {
			conflictsTotal.WithLabelValues("failed").Inc()
			return ControlResult{}, classify(op, err)
		}
		if resp.status != http.StatusOK {
			conflictsTotal.WithLabelValues("failed").Inc()
			return ControlResult{}, cannotConnect(op, fmt.Errorf("conflict resolution failed: status %d", resp.status))
		}
		conflictsTotal.WithLabelValues("resolved").Inc()
	}

	if resp.status != http.StatusOK {
		return ControlResult{}, cannotConnect(op, fmt.Errorf("status %d", resp.status))
	}

	result, err := decodeControlResult(resp.body)
	if err != nil {
		return ControlResult{}, cannotConnect(op, err)
	}
	if !result.Done {
		logger.Warn("daichi command not completed",
			"errors", string(result.Errors),
			"update_required", result.UpdateRequired,
		)
	}
	return result, nil
}

func firstResolvable(actions []ConflictAction) (ConflictAction, bool) {
	for _, action := range actions {
		if action.resolvable() {
			return action, true
		}
	}
	return ConflictAction{}, false
}

func decodeControlResult(body []byte) (ControlResult, error) {
	var result ControlResult
	if err := json.Unmarshal(body, &result); err != nil {
		return ControlResult{}, fmt.Errorf("decode control result: %w", err)
	}
	result.Raw = append(json.RawMessage(nil), body...)
	return result, nil
}
