package graph

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

const (
	defaultTop    = 10
	defaultFolder = "inbox"
)

// request is one outbound Graph call, with path relative to the versioned API root.
type request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

type operation struct {
	adapter.Operation
	// user marks operations addressed at a user; Execute resolves user_id for them.
	user  bool
	build func(args map[string]any) (request, error)
}

// userRoot addresses the user named by user_id. Execute fills it from
// default_user before the builders run.
func userRoot(args map[string]any) string {
	return "users/" + url.PathEscape(adapter.ArgString(args, "user_id", ""))
}

func pageQuery(args map[string]any) url.Values {
	q := url.Values{}
	q.Set("$top", strconv.Itoa(adapter.ArgInt(args, "top", defaultTop)))
	if f := adapter.ArgString(args, "filter", ""); f != "" {
		q.Set("$filter", f)
	}
	return q
}

func recipients(addrs []string) []map[string]any {
	out := make([]map[string]any, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, map[string]any{"emailAddress": map[string]any{"address": a}})
	}
	return out
}

var (
	userIDProp = adapter.StringProp("target user id or principal name; defaults to the configured default_user")
	topProp    = adapter.IntegerProp("page size, default 10")
	filterProp = adapter.StringProp("OData $filter expression")
	addrsProp  = &gschema.Schema{Description: "one address or a list of addresses"}
)

var operations = []operation{
	{
		Operation: adapter.Operation{
			Name:        "list_messages",
			Description: "List messages in a mail folder",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"user_id": userIDProp,
				"folder":  adapter.StringProp("mail folder id or well-known name, default inbox"),
				"top":     topProp,
				"filter":  filterProp,
			}),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			folder := adapter.ArgString(args, "folder", defaultFolder)
			return request{
				Method: http.MethodGet,
				Path:   userRoot(args) + "/mailFolders/" + url.PathEscape(folder) + "/messages",
				Query:  pageQuery(args),
			}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "read_message",
			Description: "Read a single message",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"user_id":    userIDProp,
				"message_id": adapter.StringProp("message id"),
			}, "message_id"),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			id, err := adapter.RequireArg(args, "read_message", "message_id")
			if err != nil {
				return request{}, err
			}
			return request{Method: http.MethodGet, Path: userRoot(args) + "/messages/" + url.PathEscape(id)}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "send_message",
			Description: "Send a mail message",
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"user_id":      userIDProp,
				"to":           addrsProp,
				"cc":           addrsProp,
				"subject":      adapter.StringProp("subject line"),
				"body":         adapter.StringProp("message body"),
				"content_type": adapter.StringProp("Text or HTML, default Text"),
				"save_to_sent": {Type: "boolean", Description: "keep a copy in Sent Items, default true"},
			}, "to", "subject", "body"),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			to := adapter.ArgStrings(args, "to")
			if len(to) == 0 {
				return request{}, errmodel.InvalidArguments("send_message requires at least one recipient", map[string]any{"tool": "send_message", "field": "to"})
			}
			subject, err := adapter.RequireArg(args, "send_message", "subject")
			if err != nil {
				return request{}, err
			}
			body, err := adapter.RequireArg(args, "send_message", "body")
			if err != nil {
				return request{}, err
			}
			msg := map[string]any{
				"subject":      subject,
				"body":         map[string]any{"contentType": adapter.ArgString(args, "content_type", "Text"), "content": body},
				"toRecipients": recipients(to),
			}
			if cc := adapter.ArgStrings(args, "cc"); len(cc) > 0 {
				msg["ccRecipients"] = recipients(cc)
			}
			save := true
			if v, ok := args["save_to_sent"].(bool); ok {
				save = v
			}
			return request{
				Method: http.MethodPost,
				Path:   userRoot(args) + "/sendMail",
				Body:   map[string]any{"message": msg, "saveToSentItems": save},
			}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "list_events",
			Description: "List calendar events; with start and end, list the calendar view for that window",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"user_id": userIDProp,
				"top":     topProp,
				"start":   adapter.StringProp("window start, ISO 8601"),
				"end":     adapter.StringProp("window end, ISO 8601"),
			}),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			q := pageQuery(args)
			start, end := adapter.ArgString(args, "start", ""), adapter.ArgString(args, "end", "")
			if start != "" && end != "" {
				q.Set("startDateTime", start)
				q.Set("endDateTime", end)
				return request{Method: http.MethodGet, Path: userRoot(args) + "/calendarView", Query: q}, nil
			}
			return request{Method: http.MethodGet, Path: userRoot(args) + "/events", Query: q}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "create_event",
			Description: "Create a calendar event",
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"user_id":   userIDProp,
				"subject":   adapter.StringProp("event title"),
				"start":     adapter.StringProp("start, ISO 8601 local date-time"),
				"end":       adapter.StringProp("end, ISO 8601 local date-time"),
				"time_zone": adapter.StringProp("time zone of start and end, default UTC"),
				"body":      adapter.StringProp("event description"),
				"location":  adapter.StringProp("location display name"),
				"attendees": addrsProp,
			}, "subject", "start", "end"),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			subject, err := adapter.RequireArg(args, "create_event", "subject")
			if err != nil {
				return request{}, err
			}
			start, err := adapter.RequireArg(args, "create_event", "start")
			if err != nil {
				return request{}, err
			}
			end, err := adapter.RequireArg(args, "create_event", "end")
			if err != nil {
				return request{}, err
			}
			tz := adapter.ArgString(args, "time_zone", "UTC")
			ev := map[string]any{
				"subject": subject,
				"start":   map[string]any{"dateTime": start, "timeZone": tz},
				"end":     map[string]any{"dateTime": end, "timeZone": tz},
			}
			if b := adapter.ArgString(args, "body", ""); b != "" {
				ev["body"] = map[string]any{"contentType": "Text", "content": b}
			}
			if loc := adapter.ArgString(args, "location", ""); loc != "" {
				ev["location"] = map[string]any{"displayName": loc}
			}
			if att := adapter.ArgStrings(args, "attendees"); len(att) > 0 {
				list := recipients(att)
				for _, a := range list {
					a["type"] = "required"
				}
				ev["attendees"] = list
			}
			return request{Method: http.MethodPost, Path: userRoot(args) + "/events", Body: ev}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "list_teams",
			Description: "List teams the user has joined",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"user_id": userIDProp}),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			return request{Method: http.MethodGet, Path: userRoot(args) + "/joinedTeams"}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "list_channels",
			Description: "List channels of a team",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"team_id": adapter.StringProp("team id"),
			}, "team_id"),
		},
		build: func(args map[string]any) (request, error) {
			team, err := adapter.RequireArg(args, "list_channels", "team_id")
			if err != nil {
				return request{}, err
			}
			return request{Method: http.MethodGet, Path: "teams/" + url.PathEscape(team) + "/channels"}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "send_channel_message",
			Description: "Post a message to a team channel",
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"team_id":      adapter.StringProp("team id"),
				"channel_id":   adapter.StringProp("channel id"),
				"message":      adapter.StringProp("message text"),
				"content_type": adapter.StringProp("text or html, default text"),
			}, "team_id", "channel_id", "message"),
		},
		build: func(args map[string]any) (request, error) {
			team, err := adapter.RequireArg(args, "send_channel_message", "team_id")
			if err != nil {
				return request{}, err
			}
			channel, err := adapter.RequireArg(args, "send_channel_message", "channel_id")
			if err != nil {
				return request{}, err
			}
			msg, err := adapter.RequireArg(args, "send_channel_message", "message")
			if err != nil {
				return request{}, err
			}
			return request{
				Method: http.MethodPost,
				Path:   "teams/" + url.PathEscape(team) + "/channels/" + url.PathEscape(channel) + "/messages",
				Body:   map[string]any{"body": map[string]any{"contentType": adapter.ArgString(args, "content_type", "text"), "content": msg}},
			}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "get_user",
			Description: "Get a user profile",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"user_id": userIDProp}),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			return request{Method: http.MethodGet, Path: userRoot(args)}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "list_users",
			Description: "List users in the directory",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"top":    topProp,
				"filter": filterProp,
			}),
		},
		build: func(args map[string]any) (request, error) {
			return request{Method: http.MethodGet, Path: "users", Query: pageQuery(args)}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "list_files",
			Description: "List drive items under the root or a folder path",
			ReadOnly:    true,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"user_id": userIDProp,
				"path":    adapter.StringProp("folder path relative to the drive root"),
				"top":     topProp,
			}),
		},
		user:  true,
		build: func(args map[string]any) (request, error) {
			q := url.Values{}
			q.Set("$top", strconv.Itoa(adapter.ArgInt(args, "top", defaultTop)))
			p := strings.Trim(adapter.ArgString(args, "path", ""), "/")
			if p == "" {
				return request{Method: http.MethodGet, Path: userRoot(args) + "/drive/root/children", Query: q}, nil
			}
			segs := strings.Split(p, "/")
			for i, s := range segs {
				segs[i] = url.PathEscape(s)
			}
			return request{Method: http.MethodGet, Path: userRoot(args) + "/drive/root:/" + strings.Join(segs, "/") + ":/children", Query: q}, nil
		},
	},
	{
		Operation: adapter.Operation{
			Name:        "graph_request",
			Description: "Send an arbitrary request relative to the API root",
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{
				"method":       adapter.StringProp("HTTP method, default GET"),
				"path":         adapter.StringProp("path relative to the versioned API root, e.g. /users/{id}/messages"),
				"query_params": adapter.ObjectProp("query string parameters"),
				"body":         {Description: "JSON request body"},
			}, "path"),
		},
		build: func(args map[string]any) (request, error) {
			path, err := adapter.RequireArg(args, "graph_request", "path")
			if err != nil {
				return request{}, err
			}
			method := strings.ToUpper(adapter.ArgString(args, "method", http.MethodGet))
			switch method {
			case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				return request{}, errmodel.OperationNotSupported("unsupported HTTP method "+method, map[string]any{"tool": "graph_request", "method": method})
			}
			q := url.Values{}
			for k, v := range adapter.ArgMap(args, "query_params") {
				q.Set(k, fmt.Sprint(v))
			}
			return request{Method: method, Path: strings.TrimLeft(path, "/"), Query: q, Body: args["body"]}, nil
		},
	},
}

var operationIndex = func() map[string]operation {
	m := make(map[string]operation, len(operations))
	for _, op := range operations {
		m[op.Name] = op
	}
	return m
}()
