package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validHeader() Header {
	return Header{MsgID: "m1", Username: "u", Session: "s", MsgType: "execute_request", Version: ProtocolVersion}
}

func TestValidateHeader(t *testing.T) {
	assert.NoError(t, ValidateHeader(validHeader()))

	cases := []struct {
		name string
		mod  func(h Header) Header
	}{
		{"missing msg_id", func(h Header) Header { h.MsgID = ""; return h }},
		{"missing msg_type", func(h Header) Header { h.MsgType = ""; return h }},
		{"missing session", func(h Header) Header { h.Session = ""; return h }},
		{"missing username", func(h Header) Header { h.Username = ""; return h }},
		{"missing version", func(h Header) Header { h.Version = ""; return h }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Error(t, ValidateHeader(c.mod(validHeader())))
		})
	}
}

func TestValidateChannel(t *testing.T) {
	for _, ch := range ValidChannels {
		assert.NoError(t, ValidateChannel(ch))
	}
	assert.Error(t, ValidateChannel("bogus"))
}

func TestValidateContentExecuteReply(t *testing.T) {
	ok := map[string]interface{}{"status": "ok", "execution_count": float64(1)}
	assert.NoError(t, ValidateContent("execute_reply", ok))

	bad := map[string]interface{}{"status": "not-a-status"}
	assert.Error(t, ValidateContent("execute_reply", bad))

	missing := map[string]interface{}{}
	assert.Error(t, ValidateContent("execute_reply", missing))

	negativeCount := map[string]interface{}{"status": "ok", "execution_count": float64(-1)}
	assert.Error(t, ValidateContent("execute_reply", negativeCount))
}

func TestValidateContentStatus(t *testing.T) {
	assert.NoError(t, ValidateContent("status", map[string]interface{}{"execution_state": "idle"}))
	assert.NoError(t, ValidateContent("status", map[string]interface{}{"execution_state": "reconnecting"}))
	assert.Error(t, ValidateContent("status", map[string]interface{}{"execution_state": "bogus"}))
}

func TestValidateContentUnknownTypeTolerated(t *testing.T) {
	assert.NoError(t, ValidateContent("some_future_msg_type", map[string]interface{}{}))
}

func TestValidateFull(t *testing.T) {
	m := Message{
		Header:  validHeader(),
		Channel: ChannelIOPub,
		Content: map[string]interface{}{"execution_state": "busy"},
	}
	m.Header.MsgType = "status"
	assert.NoError(t, Validate(m))

	m.Content = map[string]interface{}{"execution_state": "not-valid"}
	assert.Error(t, Validate(m))
}
