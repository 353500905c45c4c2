package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		msgType   MessageType
		requestID uint32
		payload   []byte
	}{
		{"stdout", MsgStdout, NoRequestID, []byte("hello")},
		{"fs-write-with-id", MsgFSWrite, 7, []byte("/tmp/test.txt")},
		{"empty-payload", MsgAllow, 42, nil},
		{"code", MsgCode, NoRequestID, []byte("print(1)")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := Encode(tc.msgType, tc.requestID, tc.payload)
			msg, err := Decode(frame)
			require.NoError(t, err)
			require.Equal(t, tc.msgType, msg.Type)
			require.Equal(t, tc.requestID, msg.RequestID)
			require.Equal(t, tc.payload, msg.Payload)
		})
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestCheckClassification(t *testing.T) {
	require.True(t, MsgFSRead.IsOptimisticCheck())
	require.True(t, MsgListDir.IsOptimisticCheck())
	require.False(t, MsgFSWrite.IsOptimisticCheck())

	require.True(t, MsgFSWrite.IsSynchronousCheck())
	require.True(t, MsgExec.IsSynchronousCheck())
	require.True(t, MsgNetConnect.IsSynchronousCheck())
	require.False(t, MsgFSRead.IsSynchronousCheck())
}
