package protocol

import (
	"errors"
	"fmt"
)

// Actions
const (
	ActionPresence      = "presence"
	ActionMessage       = "message"
	ActionExit          = "exit"
	ActionGetContacts   = "get_contacts"
	ActionAddContact    = "add"
	ActionRemoveContact = "remove"
	ActionUsersRequest  = "get_users"
)

type ResponseCode int

const (
	CodeOK         ResponseCode = 200
	CodeAccepted   ResponseCode = 202
	CodeBadRequest ResponseCode = 400
)

// Error texts sent with CodeBadRequest.
const (
	ErrTextInvalid         = "request invalid"
	ErrTextNameInUse       = "name already in use"
	ErrTextUserUnavailable = "user offline/unknown"
	ErrTextInternal        = "internal error"
)

var ErrBadRequest = errors.New("bad request")

// DecodeError describes a frame that could not be turned into a Request or
// Response. It unwraps to ErrBadRequest.
type DecodeError struct {
	Action string
	Field  string
}

func (e *DecodeError) Error() string {
	switch {
	case e.Action == "":
		return "bad request: missing action"
	case e.Field == "":
		return fmt.Sprintf("bad request: unknown action %q", e.Action)
	default:
		return fmt.Sprintf("bad request: %s requires %s", e.Action, e.Field)
	}
}

func (e *DecodeError) Unwrap() error { return ErrBadRequest }

// Request is one decoded client request. Identity is the account the
// request claims to act for.
type Request interface {
	Action() string
	Identity() string
	Frame() *Frame
}

type Presence struct {
	Account string
	Time    Timestamp
}

type Message struct {
	Sender      string
	Destination string
	Text        string
	Time        Timestamp
}

type Exit struct {
	Account string
	Time    Timestamp
}

type GetContacts struct {
	User string
	Time Timestamp
}

type AddContact struct {
	User    string
	Contact string
	Time    Timestamp
}

type RemoveContact struct {
	User    string
	Contact string
	Time    Timestamp
}

type UsersRequest struct {
	Account string
	Time    Timestamp
}

func (r Presence) Action() string      { return ActionPresence }
func (r Message) Action() string       { return ActionMessage }
func (r Exit) Action() string          { return ActionExit }
func (r GetContacts) Action() string   { return ActionGetContacts }
func (r AddContact) Action() string    { return ActionAddContact }
func (r RemoveContact) Action() string { return ActionRemoveContact }
func (r UsersRequest) Action() string  { return ActionUsersRequest }

func (r Presence) Identity() string      { return r.Account }
func (r Message) Identity() string       { return r.Sender }
func (r Exit) Identity() string          { return r.Account }
func (r GetContacts) Identity() string   { return r.User }
func (r AddContact) Identity() string    { return r.User }
func (r RemoveContact) Identity() string { return r.User }
func (r UsersRequest) Identity() string  { return r.Account }

func (r Presence) Frame() *Frame {
	return &Frame{
		Action: ActionPresence,
		Time:   r.Time,
		User:   &UserRef{AccountName: r.Account, Nested: true},
	}
}

func (r Message) Frame() *Frame {
	return &Frame{
		Action:      ActionMessage,
		Time:        r.Time,
		Sender:      r.Sender,
		Destination: r.Destination,
		Text:        r.Text,
	}
}

func (r Exit) Frame() *Frame {
	return &Frame{Action: ActionExit, Time: r.Time, AccountName: r.Account}
}

func (r GetContacts) Frame() *Frame {
	return &Frame{Action: ActionGetContacts, Time: r.Time, User: &UserRef{AccountName: r.User}}
}

func (r AddContact) Frame() *Frame {
	return &Frame{
		Action:      ActionAddContact,
		Time:        r.Time,
		User:        &UserRef{AccountName: r.User},
		AccountName: r.Contact,
	}
}

func (r RemoveContact) Frame() *Frame {
	return &Frame{
		Action:      ActionRemoveContact,
		Time:        r.Time,
		User:        &UserRef{AccountName: r.User},
		AccountName: r.Contact,
	}
}

func (r UsersRequest) Frame() *Frame {
	return &Frame{Action: ActionUsersRequest, Time: r.Time, AccountName: r.Account}
}

// Encode turns a request into its wire frame.
func Encode(r Request) *Frame {
	return r.Frame()
}

// Decode validates f and returns the typed request it carries.
func Decode(f *Frame) (Request, error) {
	if f == nil || f.Action == "" {
		return nil, &DecodeError{}
	}

	missing := func(field string) error {
		return &DecodeError{Action: f.Action, Field: field}
	}
	user := ""
	if f.User != nil {
		user = f.User.AccountName
	}

	switch f.Action {
	case ActionPresence:
		if f.Time == 0 {
			return nil, missing("time")
		}
		if user == "" {
			return nil, missing("user.account_name")
		}
		return Presence{Account: user, Time: f.Time}, nil

	case ActionMessage:
		switch {
		case f.Time == 0:
			return nil, missing("time")
		case f.Sender == "":
			return nil, missing("sender")
		case f.Destination == "":
			return nil, missing("destination")
		case f.Text == "":
			return nil, missing("mess_text")
		}
		return Message{Sender: f.Sender, Destination: f.Destination, Text: f.Text, Time: f.Time}, nil

	case ActionExit:
		if f.AccountName == "" {
			return nil, missing("account_name")
		}
		return Exit{Account: f.AccountName, Time: f.Time}, nil

	case ActionGetContacts:
		if user == "" {
			return nil, missing("user")
		}
		return GetContacts{User: user, Time: f.Time}, nil

	case ActionAddContact, ActionRemoveContact:
		if user == "" {
			return nil, missing("user")
		}
		if f.AccountName == "" {
			return nil, missing("account_name")
		}
		if f.Action == ActionAddContact {
			return AddContact{User: user, Contact: f.AccountName, Time: f.Time}, nil
		}
		return RemoveContact{User: user, Contact: f.AccountName, Time: f.Time}, nil

	case ActionUsersRequest:
		if f.AccountName == "" {
			return nil, missing("account_name")
		}
		return UsersRequest{Account: f.AccountName, Time: f.Time}, nil
	}

	return nil, &DecodeError{Action: f.Action}
}

// Response is a server reply.
type Response struct {
	Code  ResponseCode
	Error string
	List  []string
}

func OK() Response {
	return Response{Code: CodeOK}
}

// Accepted carries list; a nil list is sent as an empty one.
func Accepted(list []string) Response {
	if list == nil {
		list = []string{}
	}
	return Response{Code: CodeAccepted, List: list}
}

func BadRequest(text string) Response {
	return Response{Code: CodeBadRequest, Error: text}
}

func (r Response) Frame() *Frame {
	f := &Frame{Response: int(r.Code), Error: r.Error, ListInfo: r.List}
	if r.Code == CodeAccepted && f.ListInfo == nil {
		f.ListInfo = []string{}
	}
	return f
}

// DecodeResponse validates a reply frame.
func DecodeResponse(f *Frame) (Response, error) {
	if !f.IsResponse() {
		return Response{}, &DecodeError{Action: "response", Field: "response"}
	}
	code := ResponseCode(f.Response)
	switch code {
	case CodeOK:
		return Response{Code: code}, nil
	case CodeAccepted:
		return Accepted(f.ListInfo), nil
	case CodeBadRequest:
		return Response{Code: code, Error: f.Error}, nil
	}
	return Response{}, &DecodeError{Action: fmt.Sprintf("response %d", f.Response)}
}
