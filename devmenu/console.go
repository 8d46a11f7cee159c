package devmenu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flynn/go-shlex"

	"github.com/ghyeongl/savesync/savedata"
)

const helpText = `commands:
  give <item|weapon|armor> <name...>   give something to the game
  quick [kind]                         list common names
  inventory                            show the fallback inventory
  migrate                              run a one-way migration pass
  sync                                 run a two-way sync pass
  inspect                              compare both stores
  help                                 this text`

// Console interprets one-line developer commands.
type Console struct {
	menu      *Menu
	runner    *savedata.Runner
	legacy    savedata.LegacySide
	versioned savedata.VersionedSide
}

// NewConsole wires a console. runner, legacy and versioned may be nil, in
// which case the commands that need them report so.
func NewConsole(menu *Menu, runner *savedata.Runner, legacy savedata.LegacySide, versioned savedata.VersionedSide) *Console {
	return &Console{menu: menu, runner: runner, legacy: legacy, versioned: versioned}
}

// Exec runs one command line and returns its output.
func (c *Console) Exec(ctx context.Context, line string) (string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return "", nil
	}
	savedata.Logger("console").Debug("exec", "cmd", args[0], "args", len(args)-1)

	switch strings.ToLower(args[0]) {
	case "help", "?":
		return helpText, nil
	case "give":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: give <kind> <name...>")
		}
		kind, err := ParseKind(args[1])
		if err != nil {
			return "", err
		}
		out := c.menu.Give(ctx, Item{Kind: kind, Name: strings.Join(args[2:], " ")})
		return formatOutcome(out), nil
	case "quick":
		kinds := []Kind{KindItem, KindWeapon, KindArmor}
		if len(args) > 1 {
			kind, err := ParseKind(args[1])
			if err != nil {
				return "", err
			}
			kinds = []Kind{kind}
		}
		var b strings.Builder
		for _, k := range kinds {
			fmt.Fprintf(&b, "%s: %s\n", k, strings.Join(Quick[k], ", "))
		}
		return strings.TrimRight(b.String(), "\n"), nil
	case "inventory", "inv":
		return formatInventory(c.menu.Inventory(ctx)), nil
	case "migrate", "sync":
		if c.runner == nil {
			return "", fmt.Errorf("%s: no runner configured", args[0])
		}
		mode := savedata.ModeMigrate
		if strings.ToLower(args[0]) == "sync" {
			mode = savedata.ModeSync
		}
		res, err := c.runner.Run(ctx, mode)
		if err != nil {
			return "", err
		}
		return FormatResult(res), nil
	case "inspect":
		snap := savedata.Discover(ctx, c.legacy, c.versioned)
		return savedata.BuildReport(snap).Tree(), nil
	}
	return "", fmt.Errorf("unknown command %q (try help)", args[0])
}

func formatOutcome(o Outcome) string {
	var b strings.Builder
	status := "failed"
	if o.OK {
		status = "ok"
	}
	fmt.Fprintf(&b, "%s: %s", status, o.Message)
	if o.Probe != "" {
		fmt.Fprintf(&b, " (via %s)", o.Probe)
	}
	for _, a := range o.Attempts {
		fmt.Fprintf(&b, "\n  tried: %s", a)
	}
	return b.String()
}

func formatInventory(inv []InventoryRecord) string {
	if len(inv) == 0 {
		return "(empty)"
	}
	lines := make([]string, 0, len(inv))
	for _, r := range inv {
		ts := time.UnixMilli(r.TS).UTC().Format(time.RFC3339)
		lines = append(lines, fmt.Sprintf("%s [%s] %s", ts, r.Type, r.Name))
	}
	return strings.Join(lines, "\n")
}

// FormatResult renders a pass result on one line, followed by any failures.
func FormatResult(res savedata.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "policy=%s toVersioned=%d toLegacy=%d unchanged=%d failures=%d",
		res.Policy, len(res.ToVersioned), len(res.ToLegacy), res.Unchanged, len(res.Failures))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&b, " skipped=%d", len(res.Skipped))
	}
	for _, f := range res.Failures {
		fmt.Fprintf(&b, "\n  %s -> %s: %s", f.Name, f.Target, f.Error)
	}
	return b.String()
}
