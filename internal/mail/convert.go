package mail

import (
	"fmt"
	"time"

	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
)

// messagePassthrough lists message_format keys copied unchanged when present.
var messagePassthrough = []string{
	"body",
	"email_from",
	"id",
	"is_discussion",
	"is_note",
	"is_notification",
	"message_type",
	"moderation_status",
	"subject",
	"subtype_description",
	"subtype_id",
	"tracking_value_ids",
}

// dateLayouts are the server date formats accepted by ConvertData. Server
// datetimes without a zone are UTC.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ConvertData maps a server message payload (message_format) onto the
// fields of mail.message.
//
// Only keys present in payload are translated: an absent key leaves the
// field alone, a falsy relation key clears it. Membership lists are matched
// against the current partner.
func (s *Service) ConvertData(payload ir.IRObject) (engine.Values, error) {
	out := make(engine.Values)

	for _, key := range messagePassthrough {
		if v, ok := payload[key]; ok {
			out[key] = v
		}
	}

	if v, ok := payload["attachment_ids"]; ok {
		if !ir.Truthy(v) {
			out["attachments"] = engine.UnlinkAll()
		} else {
			list, err := objectList(v, "attachment_ids")
			if err != nil {
				return nil, err
			}
			data := make([]engine.Values, len(list))
			for i, a := range list {
				data[i] = convertAttachment(a)
			}
			out["attachments"] = engine.InsertAndReplace(data...)
		}
	}

	if v, ok := payload["author_id"]; ok {
		if !ir.Truthy(v) {
			out["author"] = engine.UnlinkAll()
			out["externalAuthorName"] = ir.IRString("")
		} else {
			id, name, err := idNamePair(v, "author_id")
			if err != nil {
				return nil, err
			}
			if isZero(id) {
				// Partner id 0 marks an author without a partner.
				out["author"] = engine.UnlinkAll()
				out["externalAuthorName"] = name
			} else {
				out["author"] = engine.Insert(engine.Values{"id": id, "display_name": name})
				out["externalAuthorName"] = ir.IRString("")
			}
		}
	}

	if v, ok := payload["channel_ids"]; ok && ir.Truthy(v) {
		ids, ok := v.(ir.IRArray)
		if !ok {
			return nil, fmt.Errorf("channel_ids: expected an array, got %T", v)
		}
		data := make([]engine.Values, len(ids))
		for i, id := range ids {
			data[i] = engine.Values{"id": id, "model": "mail.channel"}
		}
		out["serverChannels"] = engine.InsertAndReplace(data...)
	}

	if v, ok := payload["date"]; ok && ir.Truthy(v) {
		date, err := normalizeDate(v)
		if err != nil {
			return nil, err
		}
		out["date"] = date
	}

	partner := s.currentPartnerID()
	if v, ok := payload["history_partner_ids"]; ok {
		out["isHistory"] = contains(v, partner)
	}
	if v, ok := payload["needaction_partner_ids"]; ok {
		out["isNeedaction"] = contains(v, partner)
	}
	if v, ok := payload["starred_partner_ids"]; ok {
		out["isStarred"] = contains(v, partner)
	}

	model, hasModel := payload["model"]
	resID, hasResID := payload["res_id"]
	if hasModel && hasResID && ir.Truthy(model) && ir.Truthy(resID) {
		thread := engine.Values{"id": resID, "model": model}
		if v, ok := payload["record_name"]; ok && ir.Truthy(v) {
			thread["name"] = v
		}
		if v, ok := payload["res_model_name"]; ok && ir.Truthy(v) {
			thread["model_name"] = v
		}
		if v, ok := payload["module_icon"]; ok {
			thread["moduleIcon"] = v
		}
		out["originThread"] = engine.Insert(thread)
	}

	if v, ok := payload["notifications"]; ok {
		list, err := objectList(v, "notifications")
		if err != nil {
			return nil, err
		}
		data := make([]engine.Values, 0, len(list))
		for _, n := range list {
			nd, err := convertNotification(n)
			if err != nil {
				return nil, err
			}
			data = append(data, nd)
		}
		out["notifications"] = engine.Insert(data...)
	}

	return out, nil
}

func convertAttachment(data ir.IRObject) engine.Values {
	out := make(engine.Values)
	for _, key := range []string{"checksum", "filename", "id", "mimetype", "name"} {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	return out
}

func convertNotification(data ir.IRObject) (engine.Values, error) {
	out := make(engine.Values)
	for _, key := range []string{"failure_type", "id", "notification_status", "notification_type"} {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	if v, ok := data["res_partner_id"]; ok {
		if !ir.Truthy(v) {
			out["partner"] = engine.UnlinkAll()
		} else {
			id, name, err := idNamePair(v, "res_partner_id")
			if err != nil {
				return nil, err
			}
			out["partner"] = engine.Insert(engine.Values{"id": id, "display_name": name})
		}
	}
	return out, nil
}

// idNamePair reads a [id, display_name] pair.
func idNamePair(v ir.IRValue, key string) (ir.IRValue, ir.IRValue, error) {
	pair, ok := v.(ir.IRArray)
	if !ok || len(pair) == 0 {
		return nil, nil, fmt.Errorf("%s: expected [id, name], got %T", key, v)
	}
	var name ir.IRValue = ir.IRString("")
	if len(pair) > 1 {
		name = pair[1]
	}
	return pair[0], name, nil
}

func objectList(v ir.IRValue, key string) ([]ir.IRObject, error) {
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("%s: expected an array, got %T", key, v)
	}
	out := make([]ir.IRObject, len(arr))
	for i, item := range arr {
		obj, ok := item.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected an object, got %T", key, i, item)
		}
		out[i] = obj
	}
	return out, nil
}

func isZero(v ir.IRValue) bool {
	n, ok := v.(ir.IRInt)
	return ok && n == 0
}

// contains reports whether id is in the array v. Anything but an array
// contains nothing.
func contains(v ir.IRValue, id int64) ir.IRBool {
	arr, ok := v.(ir.IRArray)
	if !ok || id == 0 {
		return false
	}
	for _, item := range arr {
		if ir.Equal(item, ir.IRInt(id)) {
			return true
		}
	}
	return false
}

// normalizeDate renders a server datetime as RFC 3339 in UTC.
func normalizeDate(v ir.IRValue) (ir.IRString, error) {
	s, ok := v.(ir.IRString)
	if !ok {
		return "", fmt.Errorf("date: expected a string, got %T", v)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, string(s), time.UTC); err == nil {
			return ir.IRString(t.UTC().Format(time.RFC3339)), nil
		}
	}
	return "", fmt.Errorf("date: unrecognized format %q", s)
}
