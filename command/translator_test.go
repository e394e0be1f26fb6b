package command

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
	"github.com/Aaron-Gardien/homebridge-rti-proxy/errors"
)

const fixture = `[
	{"uniqueId":"abc","aid":3,"iid":1,"type":"Lightbulb","serviceCharacteristics":[
		{"aid":3,"iid":12,"type":"On","format":"bool","value":true,"perms":["pr","pw","ev"]},
		{"aid":3,"iid":13,"type":"Brightness","format":"int","value":40,"minValue":0,"maxValue":100,"perms":["pr","pw","ev"]},
		{"aid":3,"iid":14,"type":"Name","format":"string","value":"Desk","perms":["pr"]},
		{"aid":3,"iid":15,"type":"Hue","format":"float","value":120.5,"minValue":0,"maxValue":360,"perms":["pr","pw"]},
		{"aid":3,"iid":16,"type":"Label","format":"string","value":"a","canWrite":true}
	]},
	{"uniqueId":"fan","aid":4,"iid":1,"type":"Fan","serviceCharacteristics":[
		{"aid":4,"iid":20,"type":"Active","format":"uint8","value":0,"minValue":0,"maxValue":1,"perms":["pr","pw"]},
		{"aid":4,"iid":21,"type":"RotationSpeed","format":"float","value":35,"minValue":0,"maxValue":100,"perms":["pr","pw"]},
		{"aid":4,"iid":22,"type":"SwingMode","format":"uint8","value":1,"perms":["pr","pw"]},
		{"aid":4,"iid":23,"type":"Setup","format":"tlv8","value":"AQID","perms":["pr","pw"]},
		{"aid":4,"iid":24,"type":"Brightness","format":"int","perms":["pr","pw"]}
	]},
	{"uniqueId":"loose","type":"Switch","serviceCharacteristics":[
		{"type":"On","format":"bool","value":false,"perms":["pw"]}
	]},
	{"uniqueId":"dimmer","aid":6,"iid":1,"type":"Lightbulb","serviceCharacteristics":[
		{"aid":6,"iid":30,"type":"Brightness","format":"int","value":55,"minValue":10,"maxValue":80,"perms":["pw"]}
	]}
]`

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	store, err := accessory.NewStore(accessory.Config{}, nil, nil)
	require.NoError(t, err)
	_, err = store.Apply(json.RawMessage(fixture))
	require.NoError(t, err)
	return NewTranslator(store)
}

func set(identity, characteristic, value string) Command {
	return Command{Kind: KindSet, Identity: identity, Characteristic: characteristic, Value: json.RawMessage(value)}
}

func toggle(identity, characteristic string) Command {
	return Command{Kind: KindToggle, Identity: identity, Characteristic: characteristic}
}

func requireCause(t *testing.T, err error, cause Cause) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCommand))

	var ce *CommandError
	require.True(t, stderrors.As(err, &ce), "expected *CommandError, got %T", err)
	assert.Equal(t, cause, ce.Cause)
}

func TestTranslate_SetBoolean(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(set("abc", "On", "true"))
	require.NoError(t, err)

	assert.Equal(t, `42/accessories,["set-characteristics",[{"aid":3,"iid":12,"value":true}]]`, wire.Frame)
	assert.Equal(t, "3.12", wire.Key)
	assert.Equal(t, 3, wire.AID)
	assert.Equal(t, 12, wire.IID)
}

func TestTranslate_BooleanCoercion(t *testing.T) {
	tr := newTestTranslator(t)

	for raw, want := range map[string]bool{`1`: true, `0`: false, `"on"`: true, `"OFF"`: false, `"true"`: true, `false`: false} {
		wire, err := tr.Translate(set("abc", "On", raw))
		require.NoError(t, err, raw)
		b, ok := wire.Value.Bool()
		require.True(t, ok, raw)
		assert.Equal(t, want, b, raw)
	}

	_, err := tr.Translate(set("abc", "On", `"maybe"`))
	requireCause(t, err, CauseInvalidValue)

	_, err = tr.Translate(set("abc", "On", `2`))
	requireCause(t, err, CauseInvalidValue)
}

func TestTranslate_IntegerClamped(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(set("abc", "Brightness", "150"))
	require.NoError(t, err)
	assert.Equal(t, `42/accessories,["set-characteristics",[{"aid":3,"iid":13,"value":100}]]`, wire.Frame)

	wire, err = tr.Translate(set("abc", "Brightness", "-5"))
	require.NoError(t, err)
	assert.True(t, accessory.Int(0).Equal(wire.Value))

	wire, err = tr.Translate(set("abc", "Brightness", `"42.6"`))
	require.NoError(t, err)
	assert.True(t, accessory.Int(43).Equal(wire.Value))
}

func TestTranslate_IntegerNaturalRange(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(set("fan", "SwingMode", "300"))
	require.NoError(t, err)
	assert.True(t, accessory.Int(255).Equal(wire.Value), "uint8 without bounds clamps to its range")
}

func TestTranslate_FloatClamped(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(set("abc", "Hue", "400.25"))
	require.NoError(t, err)
	assert.True(t, accessory.Float(360).Equal(wire.Value))

	wire, err = tr.Translate(set("abc", "Hue", "12.5"))
	require.NoError(t, err)
	assert.Equal(t, `42/accessories,["set-characteristics",[{"aid":3,"iid":15,"value":12.5}]]`, wire.Frame)

	_, err = tr.Translate(set("abc", "Hue", `"blue"`))
	requireCause(t, err, CauseInvalidValue)
}

func TestTranslate_StringAndCanWrite(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(set("abc", "Label", `"Kitchen"`))
	require.NoError(t, err, "canWrite grants write access without perms")
	assert.True(t, accessory.String("Kitchen").Equal(wire.Value))
}

func TestTranslate_ValidationOrder(t *testing.T) {
	tr := newTestTranslator(t)

	_, err := tr.Translate(set("missing", "Nope", "1"))
	requireCause(t, err, CauseUnknownIdentity)

	_, err = tr.Translate(set("abc", "Nope", "1"))
	requireCause(t, err, CauseUnknownCharacteristic)

	_, err = tr.Translate(set("abc", "Name", `"x"`))
	requireCause(t, err, CauseNotWritable)

	_, err = tr.Translate(set("", "On", "true"))
	requireCause(t, err, CauseMalformed)
}

func TestTranslate_NotWritableNeverEncodes(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(set("abc", "Name", `"Hall"`))
	requireCause(t, err, CauseNotWritable)
	assert.Empty(t, wire.Frame)
	assert.Contains(t, err.Error(), "not-writable")
}

func TestTranslate_NotAddressable(t *testing.T) {
	tr := newTestTranslator(t)
	_, err := tr.Translate(set("loose", "On", "true"))
	requireCause(t, err, CauseNotAddressable)
}

func TestTranslate_UnsupportedFormat(t *testing.T) {
	tr := newTestTranslator(t)
	_, err := tr.Translate(set("fan", "Setup", `"AQID"`))
	requireCause(t, err, CauseUnsupportedFormat)
}

func TestTranslate_MissingValue(t *testing.T) {
	tr := newTestTranslator(t)
	_, err := tr.Translate(Command{Kind: KindSet, Identity: "abc", Characteristic: "On"})
	requireCause(t, err, CauseInvalidValue)

	_, err = tr.Translate(set("abc", "On", `{"x":1}`))
	requireCause(t, err, CauseInvalidValue)
}

func TestTranslate_ToggleBoolean(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(toggle("abc", "On"))
	require.NoError(t, err)
	b, ok := wire.Value.Bool()
	require.True(t, ok)
	assert.False(t, b, "true toggles to false")

	store := tr.resolver.(*accessory.Store)
	_, err = store.Apply(json.RawMessage(`[{"uniqueId":"abc","aid":3,"iid":1,"type":"Lightbulb","serviceCharacteristics":[
		{"aid":3,"iid":12,"type":"On","format":"bool","value":false,"perms":["pr","pw","ev"]}]}]`))
	require.NoError(t, err)

	wire, err = tr.Translate(toggle("abc", "On"))
	require.NoError(t, err)
	b, _ = wire.Value.Bool()
	assert.True(t, b, "false toggles to true")
}

func TestTranslate_TogglePowerStyle(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(toggle("fan", "Active"))
	require.NoError(t, err)
	assert.True(t, accessory.Int(1).Equal(wire.Value))
}

func TestTranslate_ToggleLevelStyle(t *testing.T) {
	tr := newTestTranslator(t)

	wire, err := tr.Translate(toggle("fan", "RotationSpeed"))
	require.NoError(t, err)
	assert.True(t, accessory.Float(0).Equal(wire.Value), "nonzero level toggles off")

	wire, err = tr.Translate(toggle("dimmer", "Brightness"))
	require.NoError(t, err)
	assert.True(t, accessory.Int(10).Equal(wire.Value), "off value is clamped to the declared minimum")

	store := tr.resolver.(*accessory.Store)
	_, err = store.Apply(json.RawMessage(`[{"uniqueId":"dimmer","aid":6,"iid":1,"serviceCharacteristics":[
		{"aid":6,"iid":30,"type":"Brightness","format":"int","value":0,"minValue":10,"maxValue":80,"perms":["pw"]}]}]`))
	require.NoError(t, err)

	wire, err = tr.Translate(toggle("dimmer", "Brightness"))
	require.NoError(t, err)
	assert.True(t, accessory.Int(80).Equal(wire.Value), "fixed on value is clamped to bounds")
}

func TestTranslate_ToggleUnsupported(t *testing.T) {
	tr := newTestTranslator(t)

	_, err := tr.Translate(toggle("fan", "SwingMode"))
	requireCause(t, err, CauseUnsupportedToggle)

	_, err = tr.Translate(toggle("abc", "Label"))
	requireCause(t, err, CauseUnsupportedToggle)
}

func TestTranslate_ToggleUnknownCurrentValue(t *testing.T) {
	tr := newTestTranslator(t)
	_, err := tr.Translate(toggle("fan", "Brightness"))
	requireCause(t, err, CauseUnknownCurrentValue)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "set", KindSet.String())
	assert.Equal(t, "toggle", KindToggle.String())
}
