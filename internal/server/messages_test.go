package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tcs := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "text receive omits file fields",
			event: ReceiveEvent{Id: 7, Type: "text", Content: "hi", Room: "default", Timestamp: 1700000000, SenderIP: "10.0.0.1"},
			want: `{"event":"receive","data":{"id":7,"type":"text","content":"hi","room":"default",` +
				`"timestamp":1700000000,"senderIP":"10.0.0.1"}}`,
		},
		{
			name: "file receive",
			event: ReceiveEvent{Id: 8, Type: "file", FileName: "a.png", Size: 3, UUID: "u", URL: "/api/file/u/a.png",
				Expire: 1700003600, Room: "r", Timestamp: 1700000000, SenderIP: "ip"},
			want: `{"event":"receive","data":{"id":8,"type":"file","name":"a.png","size":3,"uuid":"u",` +
				`"url":"/api/file/u/a.png","expire":1700003600,"room":"r","timestamp":1700000000,"senderIP":"ip"}}`,
		},
		{
			name:  "empty backlog",
			event: ReceiveMultiEvent(nil),
			want:  `{"event":"receiveMulti","data":[]}`,
		},
		{
			name:  "revoke",
			event: RevokeEvent{Id: 3},
			want:  `{"event":"revoke","data":{"id":3}}`,
		},
		{
			name:  "clear all",
			event: ClearAllEvent{Room: "r"},
			want:  `{"event":"clearAll","data":{"room":"r"}}`,
		},
		{
			name:  "disconnect",
			event: DisconnectEvent{Id: "abc"},
			want:  `{"event":"disconnect","data":{"id":"abc"}}`,
		},
		{
			name:  "forbidden",
			event: ForbiddenEvent{},
			want:  `{"event":"forbidden","data":{}}`,
		},
		{
			name: "config",
			event: ConfigEvent{Version: "v", Server: ServerConfig{History: 50}, Text: TextConfig{Limit: 4096},
				File: FileConfig{Expire: 3600, Chunk: 2097152, Limit: 104857600}, Auth: true},
			want: `{"event":"config","data":{"version":"v","server":{"history":50},"text":{"limit":4096},` +
				`"file":{"expire":3600,"chunk":2097152,"limit":104857600},"auth":true}}`,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Encode(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("backlog", func(t *testing.T) {
		e, err := Decode([]byte(`{"event":"receiveMulti","data":[{"id":1,"type":"text","content":"a",` +
			`"room":"r","timestamp":1,"senderIP":""}]}`))
		require.NoError(t, err)

		batch, ok := e.(ReceiveMultiEvent)
		require.True(t, ok, "expected ReceiveMultiEvent, got %T", e)
		require.Len(t, batch, 1)
		assert.Equal(t, "a", batch[0].Content)
	})

	t.Run("connect", func(t *testing.T) {
		e, err := Decode([]byte(`{"event":"connect","data":{"id":"x","type":"Other","device":"d","os":"o","browser":"b"}}`))
		require.NoError(t, err)
		assert.Equal(t, ConnectEvent{Id: "x", Type: "Other", Device: "d", OS: "o", Browser: "b"}, e)
	})

	t.Run("forbidden", func(t *testing.T) {
		e, err := Decode([]byte(`{"event":"forbidden","data":{}}`))
		require.NoError(t, err)
		assert.Equal(t, ForbiddenEvent{}, e)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := Decode([]byte(`{"event":"bogus","data":{}}`))
		assert.True(t, errors.Is(err, ErrUnknownEvent))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Decode([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestNow(t *testing.T) {
	n := Now()
	assert.Equal(t, time.UTC, n.Location())
	assert.Zero(t, n.Nanosecond()%int(time.Millisecond), "expected millisecond precision")
}
