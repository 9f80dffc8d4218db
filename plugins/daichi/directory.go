package daichi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
)

// cache holds values per key with no expiry. Entries live until Invalidate.
type cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

func (c *cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	return value, ok
}

func (c *cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[K]V)
	}
	c.entries[key] = value
}

func (c *cache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

func (c *cache[K, V]) IsPresent(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// allBuildings is the device cache scope covering every building.
const allBuildings int64 = 0

type directory struct {
	transport *transport
	logger    *slog.Logger

	buildings cache[struct{}, []Building]
	devices   cache[int64, []Record]
}

// Buildings returns the building tree, fetching it when absent or forced.
func (d *directory) Buildings(ctx context.Context, force bool) ([]Building, error) {
	if !force {
		if cached, ok := d.buildings.Get(struct{}{}); ok {
			return cloneBuildings(cached), nil
		}
	}

	resp, err := d.transport.do(ctx, http.MethodGet, "/buildings", nil)
	if err != nil {
		return nil, classify("buildings", err)
	}
	if resp.status != http.StatusOK {
		return nil, cannotConnect("buildings", fmt.Errorf("status %d", resp.status))
	}
	buildings, err := decodeBuildings(resp.body)
	if err != nil {
		return nil, cannotConnect("buildings", err)
	}

	d.buildings.Set(struct{}{}, buildings)
	d.logger.Debug("fetched daichi buildings", "count", len(buildings))
	return cloneBuildings(buildings), nil
}

// Devices flattens the places of every building, or of one building when
// buildingID is non-zero.
func (d *directory) Devices(ctx context.Context, buildingID int64, force bool) ([]Record, error) {
	if !force {
		if cached, ok := d.devices.Get(buildingID); ok {
			return cloneRecords(cached), nil
		}
	}

	buildings, err := d.Buildings(ctx, force)
	if err != nil {
		return nil, err
	}

	var devices []Record
	for _, building := range buildings {
		if buildingID != allBuildings && building.ID != buildingID {
			continue
		}
		devices = append(devices, building.Places...)
	}

	d.devices.Set(buildingID, devices)
	return cloneRecords(devices), nil
}

// ClearCache drops both caches. Calling it twice is the same as once.
func (d *directory) ClearCache() {
	d.buildings.Invalidate()
	d.devices.Invalidate()
}

// DeviceState fetches the deep record for one device.
func (d *directory) DeviceState(ctx context.Context, deviceID int64) (Record, error) {
	op := "device state"
	resp, err := d.transport.do(ctx, http.MethodGet, "/devices/"+strconv.FormatInt(deviceID, 10), nil)
	if err != nil {
		return nil, classify(op, err)
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, deviceNotFound(op, fmt.Errorf("device %d", deviceID))
	default:
		return nil, cannotConnect(op, fmt.Errorf("status %d", resp.status))
	}

	record, err := unwrapObject(resp.body)
	if err != nil {
		return nil, cannotConnect(op, err)
	}
	return record, nil
}

// decodeBuildings accepts {"data": [...]} or a bare list.
func decodeBuildings(body []byte) ([]Building, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var buildings []Building
		if err := json.Unmarshal(trimmed, &buildings); err != nil {
			return nil, fmt.Errorf("decode buildings: %w", err)
		}
		return buildings, nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode buildings: %w", err)
	}
	if len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null")) {
		return nil, nil
	}
	var buildings []Building
	if err := json.Unmarshal(envelope.Data, &buildings); err != nil {
		return nil, fmt.Errorf("decode buildings: %w", err)
	}
	return buildings, nil
}

// unwrapObject accepts {"data": {...}} or a bare object.
func unwrapObject(body []byte) (Record, error) {
	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	if record == nil {
		return nil, errors.New("decode device: empty body")
	}
	raw, ok := record["data"]
	if !ok {
		return record, nil
	}
	var inner Record
	if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
		return nil, fmt.Errorf("decode device: data is not an object")
	}
	return inner, nil
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, record := range in {
		out[i] = record.Clone()
	}
	return out
}

func cloneBuildings(in []Building) []Building {
	if in == nil {
		return nil
	}
	out := make([]Building, len(in))
	for i, building := range in {
		out[i] = Building{ID: building.ID, Title: building.Title, Places: cloneRecords(building.Places)}
	}
	return out
}
