package hubproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

// Accessory is one element of an accessories-data payload.
type Accessory struct {
	UniqueID        *string          `json:"uniqueId,omitempty"`
	AID             *int             `json:"aid,omitempty"`
	IID             *int             `json:"iid,omitempty"`
	Type            string           `json:"type,omitempty"`
	HumanType       string           `json:"humanType,omitempty"`
	ServiceName     string           `json:"serviceName,omitempty"`
	Characteristics []Characteristic `json:"serviceCharacteristics"`
}

// Identity returns the accessory's stable key: the unique id when present,
// otherwise "<aid>.<iid>". ok is false when neither is available.
func (a Accessory) Identity() (string, bool) {
	if a.UniqueID != nil && *a.UniqueID != "" {
		return *a.UniqueID, true
	}
	if a.AID != nil && a.IID != nil {
		return PairKey(*a.AID, *a.IID), true
	}
	return "", false
}

// Characteristic is one entry of an accessory's serviceCharacteristics.
type Characteristic struct {
	AID         *int            `json:"aid,omitempty"`
	IID         *int            `json:"iid,omitempty"`
	UUID        string          `json:"uuid,omitempty"`
	Type        string          `json:"type"`
	ServiceType string          `json:"serviceType,omitempty"`
	ServiceName string          `json:"serviceName,omitempty"`
	Description string          `json:"description,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Format      string          `json:"format,omitempty"`
	Perms       []string        `json:"perms,omitempty"`
	Unit        *string         `json:"unit,omitempty"`
	MinValue    *float64        `json:"minValue,omitempty"`
	MaxValue    *float64        `json:"maxValue,omitempty"`
	MinStep     *float64        `json:"minStep,omitempty"`
	CanRead     *bool           `json:"canRead,omitempty"`
	CanWrite    *bool           `json:"canWrite,omitempty"`
	EV          *bool           `json:"ev,omitempty"`
}

// HasValue reports whether the hub sent a non-null value.
func (c Characteristic) HasValue() bool {
	v := bytes.TrimSpace(c.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// PairKey formats an accessory-id/instance-id pair.
func PairKey(aid, iid int) string {
	return strconv.Itoa(aid) + "." + strconv.Itoa(iid)
}

// DecodeAccessories decodes an accessories-data payload. A payload that is a
// single object is treated as a one-element list.
func DecodeAccessories(payload json.RawMessage) ([]Accessory, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty payload", errors.ErrFrameParse),
			"hubproto", "DecodeAccessories", "decode payload")
	}

	if trimmed[0] == '{' {
		var single Accessory
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrFrameParse, err),
				"hubproto", "DecodeAccessories", "decode accessory")
		}
		return []Accessory{single}, nil
	}

	var list []Accessory
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrFrameParse, err),
			"hubproto", "DecodeAccessories", "decode accessory list")
	}
	return list, nil
}

// WriteItem addresses one characteristic write.
type WriteItem struct {
	AID   int `json:"aid"`
	IID   int `json:"iid"`
	Value any `json:"value"`
}

// WriteResult is one per-item outcome of a write response.
type WriteResult struct {
	AID    int
	IID    int
	Status *int
	Value  json.RawMessage
}

// Key returns the correlation key of the result.
func (r WriteResult) Key() string {
	return PairKey(r.AID, r.IID)
}

// OK reports whether the hub accepted the write. A missing status counts as success.
func (r WriteResult) OK() bool {
	return r.Status == nil || *r.Status == 0
}

type writeResultWire struct {
	AID    *int            `json:"aid"`
	IID    *int            `json:"iid"`
	Status *int            `json:"status,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// DecodeWriteResults decodes a write response payload: an array of items, an
// object with a "characteristics" array, or a single item. Items without both
// ids are skipped.
func DecodeWriteResults(payload json.RawMessage) ([]WriteResult, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: empty payload", errors.ErrFrameParse),
			"hubproto", "DecodeWriteResults", "decode payload")
	}

	var items []writeResultWire
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrFrameParse, err),
				"hubproto", "DecodeWriteResults", "decode item list")
		}
	case '{':
		var envelope struct {
			Characteristics []writeResultWire `json:"characteristics"`
			writeResultWire
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrFrameParse, err),
				"hubproto", "DecodeWriteResults", "decode item object")
		}
		if envelope.Characteristics != nil {
			items = envelope.Characteristics
		} else {
			items = []writeResultWire{envelope.writeResultWire}
		}
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unexpected payload type", errors.ErrFrameParse),
			"hubproto", "DecodeWriteResults", "decode payload")
	}

	results := make([]WriteResult, 0, len(items))
	for _, item := range items {
		if item.AID == nil || item.IID == nil {
			continue
		}
		results = append(results, WriteResult{
			AID:    *item.AID,
			IID:    *item.IID,
			Status: item.Status,
			Value:  item.Value,
		})
	}
	return results, nil
}
