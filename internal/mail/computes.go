package mail

import (
	"github.com/roach88/relgraph/internal/engine"
)

// computes binds the compute names used in models.cue.
func computes() map[string]engine.ComputeFunc {
	return map[string]engine.ComputeFunc{
		"computeFailureNotifications":        computeFailureNotifications,
		"computeHasCheckbox":                 computeHasCheckbox,
		"computeIsCurrentPartnerAuthor":      computeIsCurrentPartnerAuthor,
		"computeIsModeratedByCurrentPartner": computeIsModeratedByCurrentPartner,
		"computeMessaging":                   computeMessaging,
		"computeNonOriginThreads":            computeNonOriginThreads,
		"computePrettyBody":                  computePrettyBody,
		"computeThreads":                     computeThreads,
	}
}

func computeFailureNotifications(r *engine.Record) (any, error) {
	failed := []*engine.Record{}
	for _, n := range r.Many("notifications") {
		switch n.GetString("notification_status") {
		case "exception", "bounce":
			failed = append(failed, n)
		}
	}
	return failed, nil
}

func computeHasCheckbox(r *engine.Record) (any, error) {
	return r.GetBool("isModeratedByCurrentPartner"), nil
}

func computeIsCurrentPartnerAuthor(r *engine.Record) (any, error) {
	author := r.One("author")
	current := r.One("messagingCurrentPartner")
	return author != nil && current != nil && author == current, nil
}

func computeIsModeratedByCurrentPartner(r *engine.Record) (any, error) {
	return r.GetString("moderation_status") == "pending_moderation" &&
		r.One("originThread") != nil &&
		r.GetBool("originThreadIsModeratedByCurrentPartner"), nil
}

func computeMessaging(r *engine.Record) (any, error) {
	messaging, ok := r.Engine().Get(modelMessaging, modelMessaging)
	if !ok {
		return nil, nil
	}
	return messaging, nil
}

func computeNonOriginThreads(r *engine.Record) (any, error) {
	origin := r.One("originThread")
	var threads []*engine.Record
	for _, t := range r.Many("serverChannels") {
		if t != origin {
			threads = append(threads, t)
		}
	}
	if r.GetBool("isHistory") {
		threads = appendThread(threads, r.One("messagingHistory"))
	}
	if r.GetBool("isNeedaction") {
		threads = appendThread(threads, r.One("messagingInbox"))
	}
	if r.GetBool("isStarred") {
		threads = appendThread(threads, r.One("messagingStarred"))
	}
	if r.GetBool("isModeratedByCurrentPartner") {
		threads = appendThread(threads, r.One("messagingModeration"))
	}
	return engine.Replace(threads...), nil
}

func computeThreads(r *engine.Record) (any, error) {
	threads := r.Many("nonOriginThreads")
	threads = appendThread(threads, r.One("originThread"))
	return engine.Replace(threads...), nil
}

func computePrettyBody(r *engine.Record) (any, error) {
	return prettyBody(r.GetString("body")), nil
}

// appendThread adds t unless it is nil or already present.
func appendThread(threads []*engine.Record, t *engine.Record) []*engine.Record {
	if t == nil {
		return threads
	}
	for _, have := range threads {
		if have == t {
			return threads
		}
	}
	return append(threads, t)
}
