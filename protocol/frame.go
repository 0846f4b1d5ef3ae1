package protocol

import (
	"encoding/json"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Frame is one record on the wire. Requests carry Action, replies carry
// Response; a pushed chat message is a Message request frame. data_list is
// always written so an empty 202 list still reaches the peer as [].
type Frame struct {
	Action      string    `json:"action,omitempty" cbor:"action,omitempty"`
	Time        Timestamp `json:"time,omitempty" cbor:"time,omitempty"`
	User        *UserRef  `json:"user,omitempty" cbor:"user,omitempty"`
	AccountName string    `json:"account_name,omitempty" cbor:"account_name,omitempty"`
	Sender      string    `json:"sender,omitempty" cbor:"sender,omitempty"`
	Destination string    `json:"destination,omitempty" cbor:"destination,omitempty"`
	Text        string    `json:"mess_text,omitempty" cbor:"mess_text,omitempty"`
	Response    int       `json:"response,omitempty" cbor:"response,omitempty"`
	Error       string    `json:"error,omitempty" cbor:"error,omitempty"`
	ListInfo    []string  `json:"data_list" cbor:"data_list"`
}

// IsResponse reports whether f is a server reply rather than a request or
// a pushed message.
func (f *Frame) IsResponse() bool {
	return f != nil && f.Response != 0
}

// Timestamp is unix time in fractional seconds, as it travels on the wire.
type Timestamp float64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return TimestampOf(time.Now())
}

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(float64(t.UnixNano()) / float64(time.Second))
}

// Time converts ts back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(float64(ts)*float64(time.Second)))
}

// UserRef is the "user" field. Presence sends it as an object
// {"account_name": ...}; the contact requests send a bare name. Both shapes
// are accepted when decoding and Nested records which one was seen.
type UserRef struct {
	AccountName string
	Nested      bool
}

type userObject struct {
	AccountName string `json:"account_name" cbor:"account_name"`
}

func (u UserRef) MarshalJSON() ([]byte, error) {
	if u.Nested {
		return json.Marshal(userObject{AccountName: u.AccountName})
	}
	return json.Marshal(u.AccountName)
}

func (u *UserRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*u = UserRef{AccountName: name}
		return nil
	}
	var obj userObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*u = UserRef{AccountName: obj.AccountName, Nested: true}
	return nil
}

func (u UserRef) MarshalCBOR() ([]byte, error) {
	if u.Nested {
		return cborEnc.Marshal(userObject{AccountName: u.AccountName})
	}
	return cborEnc.Marshal(u.AccountName)
}

func (u *UserRef) UnmarshalCBOR(data []byte) error {
	var name string
	if err := cborDec.Unmarshal(data, &name); err == nil {
		*u = UserRef{AccountName: name}
		return nil
	}
	var obj userObject
	if err := cborDec.Unmarshal(data, &obj); err != nil {
		return err
	}
	*u = UserRef{AccountName: obj.AccountName, Nested: true}
	return nil
}

var (
	_ json.Marshaler   = UserRef{}
	_ json.Unmarshaler = (*UserRef)(nil)
	_ cbor.Marshaler   = UserRef{}
	_ cbor.Unmarshaler = (*UserRef)(nil)
)
