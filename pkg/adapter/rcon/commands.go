package rcon

import (
	"fmt"
	"strings"

	gschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

type command struct {
	adapter.Operation
	build func(args map[string]any) (string, error)
}

var (
	playerProp = adapter.StringProp("player name")
	reasonProp = adapter.StringProp("optional reason")
)

func literal(cmd string) func(map[string]any) (string, error) {
	return func(map[string]any) (string, error) { return cmd, nil }
}

// withArg renders "<verb> <arg>" from a required string argument.
func withArg(tool, verb, key string) func(map[string]any) (string, error) {
	return func(args map[string]any) (string, error) {
		v, err := adapter.RequireArg(args, tool, key)
		if err != nil {
			return "", err
		}
		return verb + " " + v, nil
	}
}

// withPlayerReason renders "<verb> <player> [reason]".
func withPlayerReason(tool, verb string) func(map[string]any) (string, error) {
	return func(args map[string]any) (string, error) {
		player, err := adapter.RequireArg(args, tool, "player")
		if err != nil {
			return "", err
		}
		cmd := verb + " " + player
		if reason := strings.TrimSpace(adapter.ArgString(args, "reason", "")); reason != "" {
			cmd += " " + reason
		}
		return cmd, nil
	}
}

func playerOp(name, desc, verb string, idempotent bool) command {
	return command{
		Operation: adapter.Operation{
			Name:        name,
			Description: desc,
			Idempotent:  idempotent,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"player": playerProp}, "player"),
		},
		build: withArg(name, verb, "player"),
	}
}

func reasonOp(name, desc, verb string) command {
	return command{
		Operation: adapter.Operation{
			Name:        name,
			Description: desc,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"player": playerProp, "reason": reasonProp}, "player"),
		},
		build: withPlayerReason(name, verb),
	}
}

func valueOp(name, desc, verb string) command {
	return command{
		Operation: adapter.Operation{
			Name:        name,
			Description: desc,
			Idempotent:  true,
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"value": adapter.StringProp("value")}, "value"),
		},
		build: withArg(name, verb, "value"),
	}
}

var commands = []command{
	{
		Operation: adapter.Operation{Name: "list_players", Description: "List online players", ReadOnly: true, Idempotent: true},
		build:     literal("list"),
	},
	{
		Operation: adapter.Operation{
			Name:        "say",
			Description: "Broadcast a message to all players",
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"message": adapter.StringProp("message text")}, "message"),
		},
		build: withArg("say", "say", "message"),
	},
	reasonOp("kick", "Kick a player", "kick"),
	reasonOp("ban", "Ban a player", "ban"),
	playerOp("pardon", "Lift a player ban", "pardon", true),
	playerOp("op", "Grant operator status", "op", true),
	playerOp("deop", "Revoke operator status", "deop", true),
	playerOp("whitelist_add", "Add a player to the whitelist", "whitelist add", true),
	playerOp("whitelist_remove", "Remove a player from the whitelist", "whitelist remove", true),
	valueOp("time_set", "Set the world time (day, night, or ticks)", "time set"),
	valueOp("weather", "Set the weather (clear, rain, thunder)", "weather"),
	{
		Operation: adapter.Operation{Name: "save_all", Description: "Flush the world to disk", Idempotent: true},
		build:     literal("save-all"),
	},
	{
		Operation: adapter.Operation{
			Name:        "command",
			Description: "Run a literal console command",
			InputSchema: adapter.ObjectSchema(map[string]*gschema.Schema{"command": adapter.StringProp("console command without leading slash")}, "command"),
		},
		build: func(args map[string]any) (string, error) {
			return adapter.RequireArg(args, "command", "command")
		},
	},
}

var commandIndex = func() map[string]command {
	m := make(map[string]command, len(commands))
	for _, c := range commands {
		m[c.Name] = c
	}
	return m
}()

// buildCommand maps a tool call onto a console command line. Tools outside the
// table run literally: an explicit command argument wins over the tool name.
func buildCommand(tool string, args map[string]any) (string, error) {
	var (
		cmd string
		err error
	)
	if c, ok := commandIndex[tool]; ok {
		cmd, err = c.build(args)
	} else if cmd = adapter.ArgString(args, "command", ""); cmd == "" {
		cmd = tool
	}
	if err != nil {
		return "", err
	}
	cmd = strings.TrimPrefix(strings.TrimSpace(cmd), "/")
	if cmd == "" {
		return "", errmodel.InvalidArguments("empty command", map[string]any{"tool": tool})
	}
	if len(cmd) > maxBodySize {
		return "", errmodel.InvalidArguments(fmt.Sprintf("command longer than %d bytes", maxBodySize), map[string]any{"tool": tool, "length": len(cmd)})
	}
	return cmd, nil
}
