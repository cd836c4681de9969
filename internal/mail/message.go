package mail

import (
	"context"

	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
)

// Message is a mail.message record with its behaviors.
type Message struct {
	*engine.Record
	svc *Service
}

func (s *Service) wrap(rec *engine.Record) *Message {
	return &Message{Record: rec, svc: s}
}

// ID returns the server id.
func (m *Message) ID() int64 {
	return m.GetInt("id")
}

// Author is who wrote a message: a PartnerAuthor or an ExternalAuthor.
type Author interface {
	DisplayName() string
}

// PartnerAuthor is an author known as a partner.
type PartnerAuthor struct {
	Partner *engine.Record
}

// DisplayName implements Author.
func (a PartnerAuthor) DisplayName() string {
	return a.Partner.GetString("display_name")
}

// ExternalAuthor is an author with no partner, known by name and address.
type ExternalAuthor struct {
	Name  string
	Email string
}

// DisplayName implements Author.
func (a ExternalAuthor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Email
}

// Author returns the message's author, or nil when there is none.
func (m *Message) Author() Author {
	if p := m.One("author"); p != nil {
		return PartnerAuthor{Partner: p}
	}
	name := m.GetString("externalAuthorName")
	email := m.GetString("email_from")
	if name == "" && email == "" {
		return nil
	}
	return ExternalAuthor{Name: name, Email: email}
}

// cache returns the cache of thread for a domain, creating it if needed.
func (s *Service) cache(thread *engine.Record, domain string) (*engine.Record, error) {
	return s.engine.Insert(modelThreadCache, engine.Values{
		"thread":            thread,
		"stringifiedDomain": domain,
	})
}

// CheckAll checks every message of a thread cache.
func (s *Service) CheckAll(thread *engine.Record, domain string) error {
	c, err := s.cache(thread, domain)
	if err != nil {
		return err
	}
	return s.engine.Update(c, engine.Values{"checkedMessages": engine.Link(c.Many("messages")...)})
}

// UncheckAll unchecks every message of a thread cache.
func (s *Service) UncheckAll(thread *engine.Record, domain string) error {
	c, err := s.cache(thread, domain)
	if err != nil {
		return err
	}
	return s.engine.Update(c, engine.Values{"checkedMessages": engine.Unlink(c.Many("messages")...)})
}

// IsChecked reports whether the message is checked in the cache of thread
// for domain.
func (m *Message) IsChecked(thread *engine.Record, domain string) bool {
	for _, c := range m.Many("checkedThreadCaches") {
		if c.One("thread") == thread && c.GetString("stringifiedDomain") == domain {
			return true
		}
	}
	return false
}

// ToggleCheck flips the message's check state in the cache of thread for
// domain.
func (m *Message) ToggleCheck(thread *engine.Record, domain string) error {
	c, err := m.svc.cache(thread, domain)
	if err != nil {
		return err
	}
	cmd := engine.Link(m.Record)
	if c.Has("checkedMessages", m.Record) {
		cmd = engine.Unlink(m.Record)
	}
	return m.svc.engine.Update(c, engine.Values{"checkedMessages": cmd})
}

func messageCall(method string, args ir.IRArray, kwargs ir.IRObject) ir.Call {
	return ir.Call{Model: modelMessage, Method: method, Args: args, Kwargs: kwargs}
}

func idsOf(messages []*Message) ir.IRArray {
	ids := make(ir.IRArray, len(messages))
	for i, m := range messages {
		ids[i] = m.Get("id")
	}
	return ids
}

// MarkAllAsRead marks every message of the current partner matching domain
// as read. A nil domain means all of them.
func (s *Service) MarkAllAsRead(ctx context.Context, domain ir.IRArray) *engine.Task {
	var kwargs ir.IRObject
	if domain != nil {
		kwargs = ir.IRObject{"domain": domain}
	}
	return s.engine.Dispatch(ctx, nil, messageCall("mark_all_as_read", nil, kwargs))
}

// MarkAsRead marks messages as read. The server acknowledges with a
// mark_as_read partner notification.
func (s *Service) MarkAsRead(ctx context.Context, messages []*Message) *engine.Task {
	return s.engine.Dispatch(ctx, nil, messageCall("set_message_done", ir.IRArray{idsOf(messages)}, nil))
}

// Moderate applies a moderation decision (accept, allow, ban, discard or
// reject) to messages. kwargs carries title and comment when rejecting.
func (s *Service) Moderate(ctx context.Context, messages []*Message, decision string, kwargs ir.IRObject) *engine.Task {
	args := ir.IRArray{idsOf(messages), ir.IRString(decision)}
	return s.engine.Dispatch(ctx, nil, messageCall("moderate", args, kwargs))
}

// UnstarAll unstars every starred message of the current partner.
func (s *Service) UnstarAll(ctx context.Context) *engine.Task {
	return s.engine.Dispatch(ctx, nil, messageCall("unstar_all", nil, nil))
}

// MarkAsRead marks this message as read. The task is dropped if the message
// is deleted before the server answers.
func (m *Message) MarkAsRead(ctx context.Context) *engine.Task {
	call := messageCall("set_message_done", ir.IRArray{ir.IRArray{m.Get("id")}}, nil)
	return m.svc.engine.Dispatch(ctx, m.Record, call)
}

// Moderate applies a moderation decision to this message.
func (m *Message) Moderate(ctx context.Context, decision string, kwargs ir.IRObject) *engine.Task {
	args := ir.IRArray{ir.IRArray{m.Get("id")}, ir.IRString(decision)}
	return m.svc.engine.Dispatch(ctx, m.Record, messageCall("moderate", args, kwargs))
}

// ToggleStar flips the starred status of this message on the server.
func (m *Message) ToggleStar(ctx context.Context) *engine.Task {
	call := messageCall("toggle_message_starred", ir.IRArray{ir.IRArray{m.Get("id")}}, nil)
	return m.svc.engine.Dispatch(ctx, m.Record, call)
}

// OpenResendAction asks the client to open the resend wizard for this
// message.
func (m *Message) OpenResendAction() {
	m.svc.bus.Trigger(ActionEvent, ir.IRObject{
		"action": ir.IRString("mail.mail_resend_message_action"),
		"options": ir.IRObject{
			"additional_context": ir.IRObject{
				"mail_message_to_resend": m.Get("id"),
			},
		},
	})
}

// ReplyTo makes this message the one Discuss is replying to.
func (m *Message) ReplyTo() error {
	discuss, err := m.svc.engine.Singleton(modelDiscuss)
	if err != nil {
		return err
	}
	return m.svc.engine.Update(discuss, engine.Values{"replyingToMessage": m.Record})
}
