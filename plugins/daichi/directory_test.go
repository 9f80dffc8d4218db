package daichi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const buildingsBody = `{"data":[
	{"id":1,"title":"Home","places":[{"id":11,"title":"Living"},{"id":12,"title":"Bedroom"}]},
	{"id":2,"title":"Cabin","places":[{"id":21,"title":"Loft"}]}
]}`

func directoryServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/buildings":
			calls.Add(1)
			writeJSON(w, http.StatusOK, buildingsBody)
		case "/devices/11":
			writeJSON(w, http.StatusOK, `{"data":{"id":11,"status":"connected"}}`)
		case "/devices/12":
			writeJSON(w, http.StatusOK, `{"id":12,"status":"disconnected"}`)
		case "/devices/99":
			writeJSON(w, http.StatusNotFound, `{}`)
		default:
			writeJSON(w, http.StatusInternalServerError, `{}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBuildingsAreCached(t *testing.T) {
	var calls atomic.Int32
	server := directoryServer(t, &calls)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Buildings(ctx, false); err != nil {
			t.Fatalf("buildings: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", calls.Load())
	}
	if _, err := client.Buildings(ctx, true); err != nil {
		t.Fatalf("forced buildings: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected forced fetch, got %d", calls.Load())
	}
}

func TestDevicesFlattenPlaces(t *testing.T) {
	var calls atomic.Int32
	server := directoryServer(t, &calls)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	all, err := client.Devices(ctx, allBuildings, false)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(all))
	}
	ids := make([]int64, 0, len(all))
	for _, record := range all {
		id, _ := record.ID()
		ids = append(ids, id)
	}
	if ids[0] != 11 || ids[1] != 12 || ids[2] != 21 {
		t.Fatalf("unexpected order: %v", ids)
	}

	cabin, err := client.Devices(ctx, 2, false)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(cabin) != 1 {
		t.Fatalf("expected 1 cabin device, got %d", len(cabin))
	}
	if calls.Load() != 1 {
		t.Fatalf("expected buildings to be fetched once, got %d", calls.Load())
	}
}

func TestClearCacheIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	server := directoryServer(t, &calls)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	if _, err := client.Devices(ctx, allBuildings, false); err != nil {
		t.Fatalf("devices: %v", err)
	}
	client.ClearCache()
	client.ClearCache()
	if client.directory.buildings.IsPresent(struct{}{}) || client.directory.devices.IsPresent(allBuildings) {
		t.Fatalf("expected caches to be empty")
	}
	if _, err := client.Devices(ctx, allBuildings, false); err != nil {
		t.Fatalf("devices: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected refetch after clear, got %d fetches", calls.Load())
	}
}

func TestCachedRecordsAreCopies(t *testing.T) {
	var calls atomic.Int32
	server := directoryServer(t, &calls)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	first, err := client.Devices(ctx, allBuildings, false)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	first[0]["title"] = json.RawMessage(`"Changed"`)

	second, err := client.Devices(ctx, allBuildings, false)
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if string(second[0]["title"]) != `"Living"` {
		t.Fatalf("cache was mutated: %s", second[0]["title"])
	}
}

func TestDeviceState(t *testing.T) {
	var calls atomic.Int32
	server := directoryServer(t, &calls)
	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	wrapped, err := client.DeviceState(ctx, 11)
	if err != nil {
		t.Fatalf("device state: %v", err)
	}
	if string(wrapped["status"]) != `"connected"` {
		t.Fatalf("expected unwrapped data, got %v", wrapped)
	}

	bare, err := client.DeviceState(ctx, 12)
	if err != nil {
		t.Fatalf("device state: %v", err)
	}
	if string(bare["status"]) != `"disconnected"` {
		t.Fatalf("expected bare object, got %v", bare)
	}

	if _, err := client.DeviceState(ctx, 99); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected device not found, got %v", err)
	}
	if _, err := client.DeviceState(ctx, 50); !errors.Is(err, ErrCannotConnect) {
		t.Fatalf("expected cannot connect, got %v", err)
	}
}

func TestDecodeBuildings(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"envelope", `{"data":[{"id":1,"places":[]}]}`, 1},
		{"bare list", `[{"id":1},{"id":2}]`, 2},
		{"null data", `{"data":null}`, 0},
		{"missing data", `{}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buildings, err := decodeBuildings([]byte(tc.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(buildings) != tc.want {
				t.Fatalf("expected %d buildings, got %d", tc.want, len(buildings))
			}
		})
	}

	if _, err := decodeBuildings([]byte(`{"data":"nope"}`)); err == nil {
		t.Fatalf("expected error for non-list data")
	}
}
