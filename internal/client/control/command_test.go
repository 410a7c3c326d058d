package control

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    CommandName
		wantErr error
	}{
		{"shutdown", `{"shutdown": {}}`, CmdShutdown, nil},
		{"sync null args", `{"sync": null}`, CmdSync, nil},
		{"status", `{"status":{}}`, CmdStatus, nil},
		{"register", `{"register": {"username":"carlo","password":"pw","email":"c@x.io"}}`, CmdRegister, nil},
		{"activate", `{"activate": {"username":"carlo","code":"1234"}}`, CmdActivate, nil},
		{"unknown", `{"reboot": {}}`, "", ErrUnknownCommand},
		{"two keys", `{"sync": {}, "status": {}}`, "", ErrInvalidCommand},
		{"no keys", `{}`, "", ErrInvalidCommand},
		{"not an object", `["sync"]`, "", ErrInvalidCommand},
		{"garbage", `sync`, "", ErrInvalidCommand},
		{"register missing email", `{"register": {"username":"carlo","password":"pw"}}`, "", ErrInvalidArgs},
		{"activate wrong type", `{"activate": {"username":1}}`, "", ErrInvalidArgs},
		{"sync non object args", `{"sync": "now"}`, "", ErrInvalidArgs},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tc.payload))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cmd.Name)
		})
	}
}

func TestCommand_RoundTrip(t *testing.T) {
	cmd, err := NewCommand(CmdRegister, RegisterArgs{Username: "carlo", Password: "pw", Email: "c@x.io"})
	require.NoError(t, err)
	assert.True(t, cmd.Remote())

	payload, err := json.Marshal(cmd)
	require.NoError(t, err)

	parsed, err := ParseCommand(payload)
	require.NoError(t, err)
	assert.Equal(t, CmdRegister, parsed.Name)

	var args RegisterArgs
	require.NoError(t, parsed.Decode(&args))
	assert.Equal(t, "carlo", args.Username)
	assert.Equal(t, "c@x.io", args.Email)
}

func TestNewCommand_NoArgs(t *testing.T) {
	cmd, err := NewCommand(CmdShutdown, nil)
	require.NoError(t, err)
	assert.False(t, cmd.Remote())

	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"shutdown":{}}`, string(payload))

	_, err = NewCommand(CommandName("nope"), nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestResponse(t *testing.T) {
	ok := OK(map[string]int{"files": 3})
	assert.True(t, ok.OK)
	assert.NoError(t, ok.Err())
	assert.JSONEq(t, `{"files":3}`, string(ok.Data))

	bad := Error(ErrUnknownCommand)
	assert.False(t, bad.OK)
	assert.EqualError(t, bad.Err(), ErrUnknownCommand.Error())
}
