package transport

import (
	"net/url"
	"strconv"
	"strings"

	"crm_dialog_relay/platform/apperr"
)

// NestForm expands bracketed form keys such as data[FIELDS][ID] into nested
// maps. A key that is both a leaf and a prefix keeps the nested form.
func NestForm(values url.Values) map[string]any {
	root := map[string]any{}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		parts := strings.Split(strings.ReplaceAll(key, "]", ""), "[")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, isMap := node[leaf].(map[string]any); !isMap {
			node[leaf] = vals[0]
		}
	}
	return root
}

// ParseBitrixEvent reads the event name, deal id and application token from a
// Bitrix outbound webhook form. The deal id is only required for deal events.
func ParseBitrixEvent(values url.Values) (BitrixEvent, error) {
	form := NestForm(values)
	ev := BitrixEvent{
		Event:            strings.TrimSpace(lookup(form, "event")),
		ApplicationToken: lookup(form, "auth", "application_token"),
	}
	if ev.Event == "" {
		return ev, apperr.BadRequest("missing event")
	}

	raw := strings.TrimSpace(lookup(form, "data", "FIELDS", "ID"))
	if raw == "" {
		return ev, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return ev, apperr.BadRequest("invalid deal id")
	}
	ev.DealID = id
	return ev, nil
}

func lookup(form map[string]any, path ...string) string {
	node := form
	for i, key := range path {
		v, ok := node[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := v.(string)
			return s
		}
		if node, ok = v.(map[string]any); !ok {
			return ""
		}
	}
	return ""
}
