package harness

import (
	"context"
	"fmt"

	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/mail"
)

// Apply performs one step on svc: a push is enqueued on the engine, an
// operation runs directly. It does not drain the engine; remote calls an
// operation dispatches complete on the next Drain or Run.
func Apply(ctx context.Context, svc *mail.Service, step Step) error {
	if step.Push != "" {
		v, err := ir.FromGo(step.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		payload, _ := v.(ir.IRObject)
		svc.Engine().Push(step.Push, payload)
		return nil
	}

	var msg *mail.Message
	if Operations[step.Do] {
		m, ok := svc.Message(step.Message)
		if !ok {
			return fmt.Errorf("%s: message %d not found", step.Do, step.Message)
		}
		msg = m
	}

	switch step.Do {
	case OpMarkAsRead:
		msg.MarkAsRead(ctx)
	case OpMarkAllAsRead:
		domain, err := arrayArg(step.Args, "domain")
		if err != nil {
			return err
		}
		svc.MarkAllAsRead(ctx, domain)
	case OpToggleStar:
		msg.ToggleStar(ctx)
	case OpModerate:
		decision, _ := step.Args["decision"].(string)
		if decision == "" {
			return fmt.Errorf("moderate: args.decision is required")
		}
		kwargs, err := objectArg(step.Args, "kwargs")
		if err != nil {
			return err
		}
		msg.Moderate(ctx, decision, kwargs)
	case OpUnstarAll:
		svc.UnstarAll(ctx)
	case OpReplyTo:
		return msg.ReplyTo()
	case OpOpenResendAction:
		msg.OpenResendAction()
	case OpToggleCheck, OpCheckAll, OpUncheckAll:
		thread, domain, err := cacheArgs(svc, step.Args)
		if err != nil {
			return err
		}
		switch step.Do {
		case OpToggleCheck:
			return msg.ToggleCheck(thread, domain)
		case OpCheckAll:
			return svc.CheckAll(thread, domain)
		default:
			return svc.UncheckAll(thread, domain)
		}
	case OpDelete:
		return svc.Engine().Delete(msg.Record)
	default:
		return fmt.Errorf("unknown operation %q", step.Do)
	}
	return nil
}

// cacheArgs reads the mailbox (default inbox) and domain (default "[]")
// that select a thread cache.
func cacheArgs(svc *mail.Service, args map[string]any) (*engine.Record, string, error) {
	name, _ := args["mailbox"].(string)
	if name == "" {
		name = "inbox"
	}
	thread := svc.Mailbox(name)
	if thread == nil {
		return nil, "", fmt.Errorf("unknown mailbox %q", name)
	}
	domain, _ := args["domain"].(string)
	if domain == "" {
		domain = "[]"
	}
	return thread, domain, nil
}

func arrayArg(args map[string]any, key string) (ir.IRArray, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	v, err := ir.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("args.%s: %w", key, err)
	}
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("args.%s: expected a list", key)
	}
	return arr, nil
}

func objectArg(args map[string]any, key string) (ir.IRObject, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	v, err := ir.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("args.%s: %w", key, err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("args.%s: expected a mapping", key)
	}
	return obj, nil
}
