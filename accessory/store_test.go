package accessory

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/metric"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{FullLoadThreshold: DefaultFullLoadThreshold}, nil, nil)
	require.NoError(t, err)
	return s
}

// lightJSON renders a lightbulb accessory with an On and Brightness characteristic.
func lightJSON(id string, aid int, on bool, brightness int) string {
	return fmt.Sprintf(`{"uniqueId":%q,"aid":%d,"iid":1,"type":"Lightbulb","humanType":"Lightbulb","serviceName":"Light %s",
		"serviceCharacteristics":[
			{"aid":%d,"iid":10,"type":"On","format":"bool","value":%t,"perms":["pr","pw","ev"]},
			{"aid":%d,"iid":11,"type":"Brightness","format":"int","value":%d,"minValue":0,"maxValue":100,"perms":["pr","pw","ev"]}
		]}`, id, aid, id, aid, on, aid, brightness)
}

func payloadOf(items ...string) json.RawMessage {
	return json.RawMessage("[" + strings.Join(items, ",") + "]")
}

func fleet(n int, changed map[int]int) json.RawMessage {
	items := make([]string, n)
	for i := 0; i < n; i++ {
		brightness := 50
		if b, ok := changed[i]; ok {
			brightness = b
		}
		items[i] = lightJSON(fmt.Sprintf("acc-%d", i), i+1, true, brightness)
	}
	return payloadOf(items...)
}

func TestStore_FirstLoadIsFull(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.HasSnapshot())

	result, err := s.Apply(payloadOf(lightJSON("a", 1, true, 10)))
	require.NoError(t, err)

	assert.Equal(t, LoadFull, result.Mode, "no prior snapshot forces a full load")
	assert.Len(t, result.Deltas, 2, "every characteristic is new")
	assert.True(t, s.HasSnapshot())
	assert.Equal(t, 1, result.Accessories)
}

func TestStore_IdenticalFullLoadYieldsNoDeltas(t *testing.T) {
	s := newTestStore(t)
	payload := fleet(12, nil)

	first, err := s.Apply(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Deltas)

	second, err := s.Apply(payload)
	require.NoError(t, err)
	assert.Equal(t, LoadFull, second.Mode)
	assert.True(t, second.Redundant)
	assert.Empty(t, second.Deltas)
}

func TestStore_SingleCharacteristicDiff(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(12, nil))
	require.NoError(t, err)

	result, err := s.Apply(fleet(12, map[int]int{4: 75}))
	require.NoError(t, err)

	assert.False(t, result.Redundant)
	require.Len(t, result.Deltas, 1)
	delta := result.Deltas[0]
	assert.Equal(t, "acc-4", delta.Identity)
	assert.Equal(t, "Brightness", delta.Characteristic)
	assert.Equal(t, "Lightbulb", delta.Type)
	assert.True(t, Int(75).Equal(delta.Value))
}

func TestStore_IncrementalAfterFull(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(12, nil))
	require.NoError(t, err)

	result, err := s.Apply(payloadOf(lightJSON("acc-3", 4, false, 50)))
	require.NoError(t, err)

	assert.Equal(t, LoadIncremental, result.Mode)
	require.Len(t, result.Deltas, 1)
	assert.Equal(t, "acc-3", result.Deltas[0].Identity)
	assert.Equal(t, "On", result.Deltas[0].Characteristic)
	assert.Equal(t, 12, result.Accessories, "incremental loads never drop accessories")

	v, ok := s.CurrentValue("acc-3", "On")
	require.True(t, ok)
	assert.True(t, Bool(false).Equal(v))
}

func TestStore_IncrementalUpsertsUnknownAccessory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(5, nil))
	require.NoError(t, err)

	result, err := s.Apply(payloadOf(lightJSON("newcomer", 99, true, 20)))
	require.NoError(t, err)

	assert.Equal(t, LoadIncremental, result.Mode)
	assert.Equal(t, 6, result.Accessories)
	assert.Len(t, result.Deltas, 2)

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 6)
	assert.Equal(t, "newcomer", snapshot[5].Identity, "new accessories append in arrival order")
	assert.True(t, s.Index().Has("newcomer"))
}

func TestStore_IncrementalMergeKeepsMissingCharacteristics(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(5, nil))
	require.NoError(t, err)

	partial := `[{"uniqueId":"acc-1","aid":2,"iid":1,"type":"Lightbulb","serviceCharacteristics":[
		{"aid":2,"iid":10,"type":"On","format":"bool","value":false,"perms":["pr","pw"]}]}]`
	_, err = s.Apply(json.RawMessage(partial))
	require.NoError(t, err)

	v, ok := s.CurrentValue("acc-1", "Brightness")
	require.True(t, ok)
	assert.True(t, Int(50).Equal(v))
}

func TestStore_IncrementalMissingValueKeepsStoredValue(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(5, nil))
	require.NoError(t, err)

	// Brightness arrives without a value, then with one that cannot decode.
	for _, value := range []string{``, `,"value":{"nested":true}`} {
		partial := `[{"uniqueId":"acc-1","aid":2,"iid":1,"type":"Lightbulb","serviceCharacteristics":[
			{"aid":2,"iid":11,"type":"Brightness","format":"int","minValue":0,"maxValue":100,"perms":["pr","pw"]` + value + `}]}]`
		result, err := s.Apply(json.RawMessage(partial))
		require.NoError(t, err)
		assert.Empty(t, result.Deltas)

		v, ok := s.CurrentValue("acc-1", "Brightness")
		require.True(t, ok)
		assert.True(t, Int(50).Equal(v))
	}
}

func TestStore_FullLoadReplacesSnapshot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(6, nil))
	require.NoError(t, err)

	_, err = s.Apply(fleet(4, nil))
	require.NoError(t, err)

	assert.Len(t, s.Snapshot(), 4)
	assert.False(t, s.Index().Has("acc-5"))
}

func TestStore_RepeatedFullAfterIncrementalIsApplied(t *testing.T) {
	s := newTestStore(t)
	payload := fleet(6, nil)
	_, err := s.Apply(payload)
	require.NoError(t, err)

	_, err = s.Apply(payloadOf(lightJSON("acc-0", 1, true, 5)))
	require.NoError(t, err)

	result, err := s.Apply(payload)
	require.NoError(t, err)
	assert.False(t, result.Redundant)
	require.Len(t, result.Deltas, 1)
	assert.True(t, Int(50).Equal(result.Deltas[0].Value))
}

func TestStore_AbsentValueIsNotZero(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(json.RawMessage(`[{"uniqueId":"x","serviceCharacteristics":[{"type":"On","format":"bool"}]}]`))
	require.NoError(t, err)

	v, ok := s.CurrentValue("x", "On")
	require.True(t, ok)
	assert.True(t, v.IsAbsent())

	result, err := s.Apply(json.RawMessage(`[{"uniqueId":"x","serviceCharacteristics":[{"type":"On","format":"bool","value":false}]}]`))
	require.NoError(t, err)
	require.Len(t, result.Deltas, 1, "absent to false is a change")
}

func TestStore_IdentityFallback(t *testing.T) {
	s := newTestStore(t)
	result, err := s.Apply(json.RawMessage(`[
		{"aid":7,"iid":1,"type":"Switch","serviceCharacteristics":[{"iid":9,"type":"On","format":"bool","value":true,"perms":["pw"]}]},
		{"type":"Orphan","serviceCharacteristics":[]}
	]`))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Accessories)
	assert.Equal(t, 1, result.Skipped)

	entry, ok := s.Index().Lookup("7.1", "On")
	require.True(t, ok)
	assert.True(t, entry.Addressable)
	assert.Equal(t, 7, entry.AID, "characteristic inherits the accessory id")
	assert.Equal(t, 9, entry.IID)
	assert.True(t, entry.Writable)
}

func TestStore_DuplicateIdentityInPayload(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(payloadOf(lightJSON("a", 1, true, 1), lightJSON("b", 2, true, 1), lightJSON("a", 1, false, 9)))
	require.NoError(t, err)

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "a", snapshot[0].Identity)

	v, _ := s.CurrentValue("a", "Brightness")
	assert.True(t, Int(9).Equal(v))
}

func TestStore_MalformedPayloadKeepsSnapshotAndRaw(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(4, nil))
	require.NoError(t, err)

	_, err = s.Apply(json.RawMessage(`[{"uniqueId":5}]`))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrFrameParse))

	assert.Len(t, s.Snapshot(), 4)
	assert.JSONEq(t, `[{"uniqueId":5}]`, string(s.LastRaw()))
}

func TestStore_RawKeptBeforeFirstSnapshot(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(json.RawMessage(`"not a list"`))
	require.Error(t, err)

	assert.False(t, s.HasSnapshot())
	assert.Equal(t, `"not a list"`, string(s.LastRaw()))
}

func TestStore_ViewIsIsolatedFromLaterLoads(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply(fleet(4, nil))
	require.NoError(t, err)

	before := s.View()
	_, err = s.Apply(payloadOf(lightJSON("acc-0", 1, false, 50)))
	require.NoError(t, err)

	acc, ok := before.Accessory("acc-0")
	require.True(t, ok)
	c, _ := acc.Characteristic("On")
	assert.True(t, Bool(true).Equal(c.Value), "published views are immutable")
	assert.NotSame(t, before, s.View())
}

func TestStore_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s, err := NewStore(Config{}, registry, nil)
	require.NoError(t, err)

	payload := fleet(4, nil)
	_, err = s.Apply(payload)
	require.NoError(t, err)
	_, err = s.Apply(payload)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.loads.WithLabelValues("full", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.loads.WithLabelValues("full", "redundant")))
	assert.Equal(t, 8.0, testutil.ToFloat64(s.metrics.deltas))
	assert.Equal(t, 4.0, testutil.ToFloat64(s.metrics.accessories))

	_, err = NewStore(Config{}, registry, nil)
	assert.Error(t, err, "second store cannot register the same metrics")
}

func TestDiff(t *testing.T) {
	prev := map[string]*Accessory{
		"a": {Identity: "a", Characteristics: []Characteristic{{Type: "On", Value: Bool(true)}}},
	}
	next := []Accessory{
		{Identity: "a", Characteristics: []Characteristic{{Type: "On", Value: Bool(true)}, {Type: "Name", Value: String("x")}}},
		{Identity: "b", Characteristics: []Characteristic{{Type: "On", Value: Bool(false)}}},
	}

	deltas := Diff(prev, next)
	require.Len(t, deltas, 2)
	assert.Equal(t, "Name", deltas[0].Characteristic)
	assert.Equal(t, "b", deltas[1].Identity)
}

func TestDelta_JSON(t *testing.T) {
	data, err := json.Marshal(Delta{Identity: "abc", Type: "Lightbulb", Characteristic: "On", Value: Bool(true)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"identity":"abc","type":"Lightbulb","characteristic":"On","value":true}`, string(data))
}
