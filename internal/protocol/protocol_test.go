package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_WireShape(t *testing.T) {
	tests := map[string]struct {
		resp Response
		want string
	}{
		"success": {
			resp: Success("7", 3, 1),
			want: `{"id":"7","processedCount":3,"skippedCount":1}`,
		},
		"success with zero counts": {
			resp: Success("8", 0, 0),
			want: `{"id":"8","processedCount":0,"skippedCount":0}`,
		},
		"failure": {
			resp: Failure("9", KindValidation, "items must be an array"),
			want: `{"id":"9","error":"items must be an array","kind":"validation"}`,
		},
		"ready": {
			resp: Ready(),
			want: `{"ready":true}`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b, err := json.Marshal(tc.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b))
		})
	}
}

func TestResponse_Counts(t *testing.T) {
	p, s := Success("1", 5, 2).Counts()
	assert.Equal(t, 5, p)
	assert.Equal(t, 2, s)

	p, s = Failure("1", KindExecution, "boom").Counts()
	assert.Zero(t, p)
	assert.Zero(t, s)
	assert.True(t, Failure("1", KindExecution, "boom").IsError())
	assert.False(t, Success("1", 0, 0).IsError())
}

func TestNewRequest_NullsSurvive(t *testing.T) {
	req, err := NewRequest("42", []Record{{"a": String("x"), "b": nil}})
	require.NoError(t, err)
	assert.Equal(t, "42", req.ID)
	assert.JSONEq(t, `[{"a":"x","b":null}]`, string(req.Items))

	empty, err := NewRequest("43", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty.Items))
}

func TestCodec_StreamOfMessages(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	r1, err := NewRequest("1", []Record{{"k": String("v")}})
	require.NoError(t, err)
	r2, err := NewRequest("2", nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(r1))
	require.NoError(t, enc.Encode(r2))

	dec := NewDecoder(&buf)
	got1, err := dec.DecodeRequest()
	require.NoError(t, err)
	got2, err := dec.DecodeRequest()
	require.NoError(t, err)
	_, err = dec.DecodeRequest()
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, "1", got1.ID)
	assert.JSONEq(t, `[{"k":"v"}]`, string(got1.Items))
	assert.Equal(t, "2", got2.ID)
}

func TestCodec_ResponsesAndGarbage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(Ready()))
	require.NoError(t, enc.Encode(Success("1", 1, 0)))
	buf.WriteString("{not json\n")

	dec := NewDecoder(&buf)
	ready, err := dec.DecodeResponse()
	require.NoError(t, err)
	assert.True(t, ready.Ready)

	ok, err := dec.DecodeResponse()
	require.NoError(t, err)
	assert.Equal(t, "1", ok.ID)

	_, err = dec.DecodeResponse()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestFailure_EmptyMessageStaysAFailure(t *testing.T) {
	resp := Failure("7", KindExecution, "")
	assert.True(t, resp.IsError())
	assert.Equal(t, "execution", resp.Error)

	var decoded Response
	require.NoError(t, json.Unmarshal(mustMarshal(t, resp), &decoded))
	assert.True(t, decoded.IsError())
	assert.Equal(t, KindExecution, decoded.Kind)

	assert.True(t, Response{ID: "8", Kind: KindValidation}.IsError(), "a kind alone marks a failure")
	assert.False(t, Success("9", 1, 0).IsError())
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
