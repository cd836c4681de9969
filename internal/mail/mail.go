// Package mail declares the mail client models on the engine and the
// behaviors around them: converting server message payloads, checking
// messages in thread caches, and the remote operations of the mail service.
//
// Remote operations return engine tasks and never mutate local state; the
// server answers with a push that goes through the same conversion as any
// other message payload.
package mail

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/roach88/relgraph/internal/bus"
	"github.com/roach88/relgraph/internal/compiler"
	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
)

//go:embed models.cue
var modelsSource []byte

const (
	modelMessage      = "mail.message"
	modelMessaging    = "mail.messaging"
	modelDiscuss      = "mail.discuss"
	modelPartner      = "mail.partner"
	modelThread       = "mail.thread"
	modelThreadCache  = "mail.thread_cache"
	modelNotification = "mail.notification"

	// mailboxModel is the thread model of the per-user mailboxes.
	mailboxModel = "mail.box"

	// PartnerChannel is the push model of partner notifications.
	PartnerChannel = "res.partner"

	// ActionEvent is the bus event asking the client to open an action.
	ActionEvent = "do-action"
)

// Mailboxes are the per-user threads a message may appear in.
var Mailboxes = []string{"history", "inbox", "moderation", "starred"}

// Models returns the declarations in models.cue.
func Models() ([]ir.ModelSpec, error) {
	return compiler.CompileSource("models.cue", modelsSource)
}

// NewSchema declares the mail models with their computes and seals the
// schema.
func NewSchema() (*engine.Schema, error) {
	specs, err := Models()
	if err != nil {
		return nil, fmt.Errorf("compile mail models: %w", err)
	}
	s := engine.NewSchema()
	fns := computes()
	for _, spec := range specs {
		if err := s.Declare(spec, fns); err != nil {
			return nil, fmt.Errorf("declare %s: %w", spec.Name, err)
		}
	}
	if err := s.Seal(); err != nil {
		return nil, err
	}
	return s, nil
}

// Service runs mail behaviors on one engine. Remote calls go through the
// engine's invoker; client actions are emitted on the bus.
//
// Like the engine, a Service is used from the engine's owner goroutine.
type Service struct {
	engine  *engine.Engine
	bus     *bus.Bus
	partner int64
	name    string
}

// Option configures a Service.
type Option func(*Service)

// WithBus sets the bus client actions are emitted on.
func WithBus(b *bus.Bus) Option {
	return func(s *Service) {
		s.bus = b
	}
}

// WithCurrentPartner sets the partner the session belongs to.
func WithCurrentPartner(id int64, displayName string) Option {
	return func(s *Service) {
		s.partner = id
		s.name = displayName
	}
}

// New sets up the messaging singletons and mailboxes on e and registers
// the push handlers for messages and partner notifications.
func New(e *engine.Engine, opts ...Option) (*Service, error) {
	s := &Service{engine: e}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = bus.New()
	}

	err := e.Batch(func() error {
		discuss, err := e.Singleton(modelDiscuss)
		if err != nil {
			return err
		}
		values := engine.Values{"discuss": discuss}
		for _, box := range Mailboxes {
			values[box] = engine.Insert(engine.Values{"model": mailboxModel, "id": box, "name": box})
		}
		if s.partner != 0 {
			values["currentPartner"] = engine.Insert(engine.Values{"id": s.partner, "display_name": s.name})
		}
		_, err = e.Insert(modelMessaging, values)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set up messaging: %w", err)
	}

	e.HandlePush(modelMessage, s.handleMessagePush)
	e.HandlePush(PartnerChannel, s.handlePartnerPush)

	slog.Debug("mail service ready", "current_partner", s.partner)
	return s, nil
}

// Engine returns the engine the service runs on.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Bus returns the bus client actions are emitted on.
func (s *Service) Bus() *bus.Bus {
	return s.bus
}

// Messaging returns the messaging singleton.
func (s *Service) Messaging() *engine.Record {
	rec, _ := s.engine.Get(modelMessaging, modelMessaging)
	return rec
}

// CurrentPartner returns the session's partner, or nil.
func (s *Service) CurrentPartner() *engine.Record {
	if m := s.Messaging(); m != nil {
		return m.One("currentPartner")
	}
	return nil
}

func (s *Service) currentPartnerID() int64 {
	if p := s.CurrentPartner(); p != nil {
		return p.GetInt("id")
	}
	return 0
}

// Mailbox returns one of the per-user threads named in Mailboxes.
func (s *Service) Mailbox(name string) *engine.Record {
	rec, _ := s.engine.Find(modelThread, mailboxModel, name)
	return rec
}

// Thread returns a thread by model and id.
func (s *Service) Thread(model string, id int64) (*engine.Record, bool) {
	return s.engine.Find(modelThread, model, id)
}

// Message returns a message by server id.
func (s *Service) Message(id int64) (*Message, bool) {
	rec, ok := s.engine.Find(modelMessage, id)
	if !ok {
		return nil, false
	}
	return s.wrap(rec), true
}

// Messages returns every live message in insertion order.
func (s *Service) Messages() []*Message {
	recs := s.engine.All(modelMessage)
	out := make([]*Message, len(recs))
	for i, r := range recs {
		out[i] = s.wrap(r)
	}
	return out
}

// InsertMessage converts a server payload and upserts the message.
func (s *Service) InsertMessage(payload ir.IRObject) (*Message, error) {
	values, err := s.ConvertData(payload)
	if err != nil {
		return nil, fmt.Errorf("convert message: %w", err)
	}
	rec, err := s.engine.Insert(modelMessage, values)
	if err != nil {
		return nil, err
	}
	return s.wrap(rec), nil
}

func (s *Service) handleMessagePush(_ *engine.Engine, payload ir.IRObject) error {
	_, err := s.InsertMessage(payload)
	return err
}

// handlePartnerPush applies the notifications the server sends on the
// partner channel after a remote operation went through.
func (s *Service) handlePartnerPush(e *engine.Engine, payload ir.IRObject) error {
	kind, _ := payload["type"].(ir.IRString)
	switch kind {
	case "mark_as_read":
		return s.eachMessage(payload, func(m *engine.Record) error {
			return e.Update(m, engine.Values{"isNeedaction": false, "isHistory": true})
		})
	case "toggle_star":
		starred := ir.Truthy(payload["starred"])
		return s.eachMessage(payload, func(m *engine.Record) error {
			return e.Update(m, engine.Values{"isStarred": starred})
		})
	case "unstar_all":
		for _, m := range e.All(modelMessage) {
			if !m.GetBool("isStarred") {
				continue
			}
			if err := e.Update(m, engine.Values{"isStarred": false}); err != nil {
				return err
			}
		}
		return nil
	case "deletion":
		return s.eachMessage(payload, e.Delete)
	default:
		slog.Debug("partner notification ignored", "type", string(kind))
		return nil
	}
}

// eachMessage applies fn to the known messages listed in message_ids.
// Unknown ids are skipped.
func (s *Service) eachMessage(payload ir.IRObject, fn func(*engine.Record) error) error {
	ids, ok := payload["message_ids"].(ir.IRArray)
	if !ok {
		return fmt.Errorf("partner notification %v: message_ids must be an array", ir.ToGo(payload["type"]))
	}
	for _, id := range ids {
		n, ok := id.(ir.IRInt)
		if !ok {
			continue
		}
		if m, ok := s.engine.Find(modelMessage, int64(n)); ok {
			if err := fn(m); err != nil {
				return err
			}
		}
	}
	return nil
}
