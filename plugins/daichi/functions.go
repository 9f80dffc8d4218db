package daichi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FunctionID identifies one controllable capability of a device.
type FunctionID int

const (
	FunctionHeatingPlus8     FunctionID = 332
	FunctionPower            FunctionID = 350
	FunctionTemperature      FunctionID = 351
	FunctionCool             FunctionID = 352
	FunctionHeat             FunctionID = 353
	FunctionAuto             FunctionID = 354
	FunctionDry              FunctionID = 355
	FunctionFan              FunctionID = 356
	FunctionFanSpeedAuto     FunctionID = 357
	FunctionFanSpeed         FunctionID = 358
	FunctionVerticalSwing    FunctionID = 359
	FunctionHorizontalSwing  FunctionID = 360
	Function3DSwing          FunctionID = 361
	FunctionComfortableSleep FunctionID = 362
	FunctionEco              FunctionID = 363
	FunctionTurbo            FunctionID = 364
	FunctionSoundOff         FunctionID = 365
	FunctionSleep            FunctionID = 366
)

var functionNames = map[FunctionID]string{
	FunctionHeatingPlus8:     "heating_plus_8",
	FunctionPower:            "power",
	FunctionTemperature:      "temperature",
	FunctionCool:             "cool",
	FunctionHeat:             "heat",
	FunctionAuto:             "auto",
	FunctionDry:              "dry",
	FunctionFan:              "fan",
	FunctionFanSpeedAuto:     "fan_speed_auto",
	FunctionFanSpeed:         "fan_speed",
	FunctionVerticalSwing:    "vertical_swing",
	FunctionHorizontalSwing:  "horizontal_swing",
	Function3DSwing:          "swing_3d",
	FunctionComfortableSleep: "comfortable_sleep",
	FunctionEco:              "eco",
	FunctionTurbo:            "turbo",
	FunctionSoundOff:         "sound_off",
	FunctionSleep:            "sleep",
}

func (f FunctionID) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return strconv.Itoa(int(f))
}

// IsMode reports whether f selects an operation mode (activation only).
func (f FunctionID) IsMode() bool {
	switch f {
	case FunctionCool, FunctionHeat, FunctionAuto, FunctionDry, FunctionFan:
		return true
	}
	return false
}

// Functions returns the known registry ordered by id.
func Functions() []FunctionID {
	out := make([]FunctionID, 0, len(functionNames))
	for id := range functionNames {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseFunctionID accepts a registry name ("fan_speed", "fan-speed") or a number.
func ParseFunctionID(input string) (FunctionID, error) {
	value := strings.ToLower(strings.TrimSpace(input))
	if value == "" {
		return 0, fmt.Errorf("function is required")
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("function id must be positive")
		}
		return FunctionID(n), nil
	}
	value = strings.NewReplacer("-", "_", " ", "_").Replace(value)
	for id, name := range functionNames {
		if name == value {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown function %q", input)
}
