package actorutil

import (
	"errors"
	"testing"

	"github.com/berfenger/eosconnect/internal/core/domain"
	"github.com/berfenger/eosconnect/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedMQTTCommandToCommand(t *testing.T) {
	cmd, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.SELECT_ID_OVERRIDE_MODE, Command: mqtt.COMMAND_SELECT, Payload: "1"})
	require.NoError(t, err)
	set, ok := cmd.(*domain.SetOverrideCommand)
	require.True(t, ok)
	assert.Equal(t, "1", set.Mode)
	assert.Empty(t, set.Duration)
	assert.False(t, set.GridChargePowerGiven)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.INPUT_NUMBER_ID_OVERRIDE_DURATION, Command: mqtt.COMMAND_NUMBER, Payload: "135"})
	require.NoError(t, err)
	assert.Equal(t, "02:15", cmd.(*domain.SetOverrideDurationCommand).Duration)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.INPUT_NUMBER_ID_OVERRIDE_POWER, Command: mqtt.COMMAND_NUMBER, Payload: "2500.4"})
	require.NoError(t, err)
	assert.Equal(t, 2500, cmd.(*domain.SetOverridePowerCommand).PowerW)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_OVERRIDE_CLEAR, Command: mqtt.COMMAND_BUTTON, Payload: mqtt.MQTT_PAYLOAD_PRESS})
	require.NoError(t, err)
	assert.IsType(t, &domain.ClearOverrideCommand{}, cmd)
}

func TestParsedMQTTCommandToCommandInvalid(t *testing.T) {
	for _, payload := range []string{"0", "1440", "-15", "soon"} {
		_, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
			DeviceId: domain.INPUT_NUMBER_ID_OVERRIDE_DURATION, Command: mqtt.COMMAND_NUMBER, Payload: payload})
		var invalid *domain.InvalidOverrideError
		assert.True(t, errors.As(err, &invalid), payload)
	}

	// unknown entities are ignored
	cmd, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		DeviceId: "battery_hold", Command: mqtt.COMMAND_SELECT, Payload: "on"})
	assert.NoError(t, err)
	assert.Nil(t, cmd)
}
