package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
)

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"connect","sessionId":"s1"}`))
	require.NoError(t, err)
	assert.Equal(t, ClientMessage{Type: TypeConnect, SessionID: "s1"}, m)

	m, err = Decode([]byte(`{"type":"run_code","code":"print(1)","language":"python"}`))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", m.Code)
	assert.Equal(t, "python", m.Language)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"type":`,
		"no type":          `{"sessionId":"s1"}`,
		"unknown type":     `{"type":"dance"}`,
		"connect no id":    `{"type":"connect"}`,
		"audio no data":    `{"type":"audio"}`,
		"wrong field type": `{"type":5}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
		})
	}
}

func TestServerFramesShape(t *testing.T) {
	b, err := json.Marshal(CodeResult{Type: TypeCodeResult, CodeResult: models.CodeResult{TestResults: []models.TestResult{}, Summary: "ok", Score: 90}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"code_result","testResults":[],"summary":"ok","score":90}`, string(b))

	b, err = json.Marshal(StateChanged{Type: TypeStateChanged, State: "ready", Context: StateContext{CurrentQuestionIndex: 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"state_changed","state":"ready","context":{"currentQuestionIndex":1,"hasUserResponse":false}}`, string(b))

	b, err = json.Marshal(NewError(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","code":"INTERNAL","error":"internal error"}`, string(b))

	var sm ServerMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"disconnected","code":1008,"reason":"quota"}`), &sm))
	assert.Equal(t, "quota", sm.Reason)
	assert.Equal(t, "1008", string(sm.Code))
}
