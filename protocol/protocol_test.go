package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequests() []Request {
	ts := Timestamp(1700000000.25)
	return []Request{
		Presence{Account: "alice", Time: ts},
		Message{Sender: "alice", Destination: "bob", Text: "hi | there, \n ok", Time: ts},
		Exit{Account: "alice", Time: ts},
		GetContacts{User: "alice", Time: ts},
		AddContact{User: "alice", Contact: "bob", Time: ts},
		RemoveContact{User: "alice", Contact: "bob"},
		UsersRequest{Account: "alice", Time: ts},
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		for _, req := range sampleRequests() {
			t.Run(codec.Name()+"/"+req.Action(), func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, codec.WriteFrame(&buf, Encode(req)))

				frame, err := codec.ReadFrame(bufio.NewReader(&buf))
				require.NoError(t, err)

				got, err := Decode(frame)
				require.NoError(t, err)
				assert.Equal(t, req, got)
				assert.Equal(t, frame, Encode(got))
			})
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	responses := []Response{
		OK(),
		Accepted([]string{"alice", "bob"}),
		Accepted([]string{}),
		BadRequest(ErrTextNameInUse),
	}
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		for _, resp := range responses {
			var buf bytes.Buffer
			require.NoError(t, codec.WriteFrame(&buf, resp.Frame()))

			frame, err := codec.ReadFrame(bufio.NewReader(&buf))
			require.NoError(t, err)
			require.True(t, frame.IsResponse())

			got, err := DecodeResponse(frame)
			require.NoError(t, err)
			assert.Equal(t, resp, got, codec.Name())
		}
	}
}

func TestAcceptedEmptyListOnWire(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONCodec{}.WriteFrame(&buf, Accepted(nil).Frame()))
	assert.JSONEq(t, `{"response":202,"data_list":[]}`, buf.String())

	frame, err := JSONCodec{}.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	got, err := DecodeResponse(frame)
	require.NoError(t, err)
	assert.NotNil(t, got.List)
	assert.Empty(t, got.List)

	// A reply that omits the field still decodes to an empty list.
	got, err = DecodeResponse(&Frame{Response: int(CodeAccepted)})
	require.NoError(t, err)
	assert.Equal(t, []string{}, got.List)
}

func TestPresenceWireShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSONCodec{}.WriteFrame(&buf, Encode(Presence{Account: "alice", Time: 1})))
	assert.Contains(t, buf.String(), `"user":{"account_name":"alice"}`)

	buf.Reset()
	require.NoError(t, JSONCodec{}.WriteFrame(&buf, Encode(GetContacts{User: "alice"})))
	assert.Contains(t, buf.String(), `"user":"alice"`)
}

func TestDecodeRejectsIncompleteFrames(t *testing.T) {
	cases := map[string]*Frame{
		"nil":                 nil,
		"no action":           {Sender: "alice"},
		"unknown action":      {Action: "dance"},
		"presence no user":    {Action: ActionPresence, Time: 1},
		"presence no time":    {Action: ActionPresence, User: &UserRef{AccountName: "a", Nested: true}},
		"message no text":     {Action: ActionMessage, Time: 1, Sender: "a", Destination: "b"},
		"message no dest":     {Action: ActionMessage, Time: 1, Sender: "a", Text: "x"},
		"exit no account":     {Action: ActionExit},
		"contacts no user":    {Action: ActionGetContacts},
		"add no contact":      {Action: ActionAddContact, User: &UserRef{AccountName: "a"}},
		"remove no user":      {Action: ActionRemoveContact, AccountName: "b"},
		"users no account":    {Action: ActionUsersRequest},
		"message wrong field": {Action: ActionMessage, Time: 1, AccountName: "a", Destination: "b", Text: "x"},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadRequest))
			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestDecodeAcceptsBothUserShapes(t *testing.T) {
	frame, err := JSONCodec{}.ReadFrame(bufio.NewReader(strings.NewReader(
		`{"action":"presence","time":1.5,"user":"alice"}` + "\n")))
	require.NoError(t, err)
	req, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, Presence{Account: "alice", Time: 1.5}, req)

	frame, err = JSONCodec{}.ReadFrame(bufio.NewReader(strings.NewReader(
		`{"action":"get_contacts","user":{"account_name":"alice"}}` + "\n")))
	require.NoError(t, err)
	req, err = Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, GetContacts{User: "alice"}, req)
}

func TestDecodeResponseRejectsUnknownCode(t *testing.T) {
	_, err := DecodeResponse(&Frame{Response: 500})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = DecodeResponse(&Frame{Action: ActionMessage})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestJSONCodecTruncated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"action":"presence"`))
	_, err := JSONCodec{}.ReadFrame(r)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestJSONCodecGarbage(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("not json\n"))
	_, err := JSONCodec{}.ReadFrame(r)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestJSONCodecLongLine(t *testing.T) {
	text := strings.Repeat("x", 10000)
	var buf bytes.Buffer
	msg := Message{Sender: "a", Destination: "b", Text: text, Time: 1}
	require.NoError(t, JSONCodec{}.WriteFrame(&buf, Encode(msg)))

	frame, err := JSONCodec{}.ReadFrame(bufio.NewReaderSize(&buf, 16))
	require.NoError(t, err)
	got, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestJSONCodecTooLarge(t *testing.T) {
	line := `{"mess_text":"` + strings.Repeat("x", MaxFrameSize) + `"}` + "\n"
	_, err := JSONCodec{}.ReadFrame(bufio.NewReader(strings.NewReader(line)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestCBORCodecTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CBORCodec{}.WriteFrame(&buf, Encode(Exit{Account: "alice"})))
	data := buf.Bytes()

	_, err := CBORCodec{}.ReadFrame(bufio.NewReader(bytes.NewReader(data[:len(data)-2])))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = CBORCodec{}.ReadFrame(bufio.NewReader(bytes.NewReader(data[:2])))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestCodecSequentialFrames(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		var buf bytes.Buffer
		reqs := sampleRequests()
		for _, req := range reqs {
			require.NoError(t, codec.WriteFrame(&buf, Encode(req)))
		}
		r := bufio.NewReader(&buf)
		for _, want := range reqs {
			frame, err := codec.ReadFrame(r)
			require.NoError(t, err)
			got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
}

func TestCodecCutByteByByte(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			msg := Message{Sender: "alice", Destination: "bob", Text: "hi", Time: 2}
			require.NoError(t, codec.WriteFrame(&buf, Encode(msg)))
			require.NoError(t, codec.WriteFrame(&buf, Encode(Exit{Account: "alice"})))
			data := buf.Bytes()

			var pending []byte
			var got []Request
			for _, b := range data {
				pending = append(pending, b)
				n, err := codec.Cut(pending)
				require.NoError(t, err)
				if n == 0 {
					continue
				}
				frame, err := codec.Parse(pending[:n])
				require.NoError(t, err)
				req, err := Decode(frame)
				require.NoError(t, err)
				got = append(got, req)
				pending = pending[n:]
			}
			assert.Equal(t, []Request{msg, Exit{Account: "alice"}}, got)
			assert.Empty(t, pending)
		})
	}
}

func TestCodecCutTooLarge(t *testing.T) {
	_, err := JSONCodec{}.Cut(bytes.Repeat([]byte("x"), MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = CBORCodec{}.Cut([]byte{0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = JSONCodec{}.Parse([]byte("not json\n"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	c, err = CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = CodecByName("xml")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
