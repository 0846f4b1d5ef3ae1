package server

import (
	"errors"
	"fmt"

	"msgr/protocol"
)

var errAlreadyBound = errors.New("connection already bound to an account")

// handleRequest dispatches a decoded request and turns handler errors
// into responses. Handlers answer successful requests themselves.
func (s *Server) handleRequest(c *Conn, req protocol.Request) {
	var err error
	switch r := req.(type) {
	case protocol.Presence:
		err = s.handlePresence(c, r)
	case protocol.Message:
		err = s.handleMessage(c, r)
	case protocol.Exit:
		err = s.handleExit(c, r)
	case protocol.GetContacts:
		err = s.handleGetContacts(c, r)
	case protocol.AddContact:
		err = s.handleAddContact(c, r)
	case protocol.RemoveContact:
		err = s.handleRemoveContact(c, r)
	case protocol.UsersRequest:
		err = s.handleUsers(c, r)
	default:
		err = fmt.Errorf("%w: unhandled action %q", protocol.ErrBadRequest, req.Action())
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrNameInUse):
		c.logger.Warn("presence rejected", "err", err)
		s.reject(c, "name_in_use", protocol.ErrTextNameInUse)
		s.dropConn(c)
	case errors.Is(err, ErrImpersonation):
		c.logger.Warn("impersonation attempt", "action", req.Action(), "err", err)
		s.reject(c, "impersonation", protocol.ErrTextInvalid)
		s.dropConn(c)
	case errors.Is(err, ErrDirectoryMiss):
		c.logger.Info("message rejected", "err", err)
		s.reject(c, "directory_miss", protocol.ErrTextUserUnavailable)
	case errors.Is(err, errAlreadyBound), errors.Is(err, protocol.ErrBadRequest):
		c.logger.Warn("invalid request", "action", req.Action(), "err", err)
		s.reject(c, "invalid", protocol.ErrTextInvalid)
	default:
		c.logger.Error("request failed", "action", req.Action(), "err", err)
		s.reject(c, "internal", protocol.ErrTextInternal)
	}
}

// authorize checks that identity is the account bound to c.
func (s *Server) authorize(c *Conn, identity string) error {
	if c.account == "" {
		return fmt.Errorf("%w: unauthenticated connection claims %q", ErrImpersonation, identity)
	}
	if c.account != identity {
		return fmt.Errorf("%w: %q claims %q", ErrImpersonation, c.account, identity)
	}
	sess, ok := s.registry.Lookup(identity)
	if !ok || sess.Conn != c {
		return fmt.Errorf("%w: no session for %q on this connection", ErrImpersonation, identity)
	}
	return nil
}

func (s *Server) handlePresence(c *Conn, r protocol.Presence) error {
	if c.account != "" {
		return fmt.Errorf("%w: %q", errAlreadyBound, c.account)
	}
	if !s.registry.Register(r.Account, c) {
		return fmt.Errorf("%w: %q", ErrNameInUse, r.Account)
	}
	c.account = r.Account

	if err := s.store.UserLogin(r.Account, c.remoteIP, c.remotePort); err != nil {
		s.registry.Unregister(r.Account)
		c.account = ""
		return fmt.Errorf("login %q: %w", r.Account, err)
	}

	c.logger = c.logger.With("account", r.Account)
	c.logger.Info("user logged in")
	s.respond(c, protocol.OK())
	return nil
}

func (s *Server) handleMessage(c *Conn, r protocol.Message) error {
	if err := s.authorize(c, r.Sender); err != nil {
		return err
	}
	if _, ok := s.registry.Lookup(r.Destination); !ok {
		return fmt.Errorf("%w: %q", ErrDirectoryMiss, r.Destination)
	}

	s.router.Enqueue(PendingMessage{
		Sender:      r.Sender,
		Destination: r.Destination,
		Text:        r.Text,
		Time:        r.Time,
	})
	if err := s.store.ProcessMessage(r.Sender, r.Destination); err != nil {
		c.logger.Error("message stats not recorded", "destination", r.Destination, "err", err)
	}

	s.respond(c, protocol.OK())
	return nil
}

// handleExit releases the session and closes the connection without
// answering.
func (s *Server) handleExit(c *Conn, r protocol.Exit) error {
	if err := s.authorize(c, r.Account); err != nil {
		return err
	}
	c.logger.Info("user exited")
	s.dropConn(c)
	return nil
}

func (s *Server) handleGetContacts(c *Conn, r protocol.GetContacts) error {
	if err := s.authorize(c, r.User); err != nil {
		return err
	}
	contacts, err := s.store.GetContacts(r.User)
	if err != nil {
		return fmt.Errorf("contacts of %q: %w", r.User, err)
	}
	s.respond(c, protocol.Accepted(contacts))
	return nil
}

func (s *Server) handleAddContact(c *Conn, r protocol.AddContact) error {
	if err := s.authorize(c, r.User); err != nil {
		return err
	}
	if err := s.store.AddContact(r.User, r.Contact); err != nil {
		return fmt.Errorf("add contact %q for %q: %w", r.Contact, r.User, err)
	}
	c.logger.Debug("contact added", "contact", r.Contact)
	s.respond(c, protocol.OK())
	return nil
}

func (s *Server) handleRemoveContact(c *Conn, r protocol.RemoveContact) error {
	if err := s.authorize(c, r.User); err != nil {
		return err
	}
	if err := s.store.RemoveContact(r.User, r.Contact); err != nil {
		return fmt.Errorf("remove contact %q for %q: %w", r.Contact, r.User, err)
	}
	c.logger.Debug("contact removed", "contact", r.Contact)
	s.respond(c, protocol.OK())
	return nil
}

func (s *Server) handleUsers(c *Conn, r protocol.UsersRequest) error {
	if err := s.authorize(c, r.Account); err != nil {
		return err
	}
	users, err := s.store.UsersList()
	if err != nil {
		return fmt.Errorf("users list: %w", err)
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Login)
	}
	s.respond(c, protocol.Accepted(names))
	return nil
}
