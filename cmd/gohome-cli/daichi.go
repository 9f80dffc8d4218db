package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-daichi/internal/rpc"
	"github.com/joshp123/gohome-daichi/plugins/daichi"
)

func daichiCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		daichiUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "devices", "list":
		resp := daichiCall(ctx, conn, "ListDevices", nil)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"DEVICE", "ID", "CONNECTED", "POWER", "MODE", "TARGET", "CURRENT", "OUTDOOR", "HUMIDITY"}}
		for _, value := range resp.GetFields()["devices"].GetListValue().GetValues() {
			device := value.GetStructValue()
			rows = append(rows, []string{
				rpc.String(device, "title"),
				rpc.String(device, "device_id"),
				onOff(rpc.Bool(device, "connected"), "yes", "no"),
				onOff(rpc.Bool(device, "power_on"), "on", "off"),
				orDash(rpc.String(device, "mode")),
				degrees(device, "target_temperature"),
				degrees(device, "current_temperature"),
				degrees(device, "outdoor_temperature"),
				percent(device, "humidity"),
			})
		}
		out.table(rows)
	case "device", "get":
		if len(args) < 2 {
			fatal("daichi device", fmt.Errorf("usage: gohome-cli daichi device <device>"))
		}
		deviceID := resolveDaichiDevice(ctx, conn, args[1])
		resp := daichiCall(ctx, conn, "GetDevice", map[string]any{"device_id": deviceID})
		out.printJSON(resp.AsMap())
	case "buildings":
		resp := daichiCall(ctx, conn, "ListBuildings", map[string]any{"force_refresh": true})
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"BUILDING", "ID", "DEVICES"}}
		for _, value := range resp.GetFields()["buildings"].GetListValue().GetValues() {
			building := value.GetStructValue()
			rows = append(rows, []string{
				rpc.String(building, "title"),
				rpc.String(building, "id"),
				rpc.String(building, "device_count"),
			})
		}
		out.table(rows)
	case "functions":
		resp := daichiCall(ctx, conn, "ListFunctions", nil)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"FUNCTION", "ID", "MODE"}}
		for _, value := range resp.GetFields()["functions"].GetListValue().GetValues() {
			fn := value.GetStructValue()
			rows = append(rows, []string{
				rpc.String(fn, "name"),
				rpc.String(fn, "id"),
				onOff(rpc.Bool(fn, "mode"), "yes", ""),
			})
		}
		out.table(rows)
	case "set":
		if len(args) < 3 {
			fatal("daichi set", fmt.Errorf("usage: gohome-cli daichi set <device> <function> [value]"))
		}
		fn, err := daichi.ParseFunctionID(args[2])
		if err != nil {
			fatal("daichi set", err)
		}
		req := map[string]any{
			"device_id": resolveDaichiDevice(ctx, conn, args[1]),
			"function":  strconv.Itoa(int(fn)),
		}
		if len(args) > 3 {
			if _, err := daichi.ParseValue(args[3]); err != nil {
				fatal("daichi set", err)
			}
			req["value"] = args[3]
		}
		resp := daichiCall(ctx, conn, "ControlDevice", req)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		status := "ok"
		if !rpc.Bool(resp, "done") {
			status = "pending"
		}
		fmt.Printf("%s: %s %s\n", status, args[1], fn)
	case "refresh":
		resp := daichiCall(ctx, conn, "Refresh", nil)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		fmt.Printf("ok: %s devices at %s\n", rpc.String(resp, "devices"), rpc.String(resp, "updated_at"))
	default:
		daichiUsage()
		os.Exit(2)
	}
}

func daichiCall(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) *structpb.Struct {
	resp, err := rpc.Invoke(ctx, conn, "/"+daichi.ServiceName+"/"+method, req)
	if err != nil {
		fatal("daichi "+method, err)
	}
	return resp
}

// resolveDaichiDevice accepts a numeric id or a device title.
func resolveDaichiDevice(ctx context.Context, conn *grpc.ClientConn, input string) string {
	if _, err := strconv.ParseInt(input, 10, 64); err == nil {
		return input
	}
	resp := daichiCall(ctx, conn, "ListDevices", nil)
	options := make(map[string]string)
	for _, value := range resp.GetFields()["devices"].GetListValue().GetValues() {
		device := value.GetStructValue()
		options[rpc.String(device, "title")] = rpc.String(device, "device_id")
	}
	id, err := resolveNamedID("device", input, options)
	if err != nil {
		fatal("daichi", err)
	}
	return id
}

func degrees(device *structpb.Struct, key string) string {
	value, ok := device.GetFields()[key]
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(value.GetNumberValue(), 'f', 1, 64) + "°C"
}

func percent(device *structpb.Struct, key string) string {
	value, ok := device.GetFields()[key]
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(value.GetNumberValue(), 'f', 0, 64) + "%"
}

func onOff(v bool, on, off string) string {
	if v {
		return on
	}
	return off
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func daichiUsage() {
	fmt.Println("gohome-cli daichi <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  devices")
	fmt.Println("  device <device>")
	fmt.Println("  buildings")
	fmt.Println("  functions")
	fmt.Println("  set <device> <function> [value]")
	fmt.Println("  refresh")
}
