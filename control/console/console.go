// Package console renders the simulation's event stream to a terminal,
// replacing the windowed GUI inspector that stays out of scope. It is
// a pure observer: it subscribes to a control/events.Bus and never
// mutates simulation state.
package console

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/rolling-mesh/simcore/control/events"
	"github.com/rolling-mesh/simcore/core/topology"
)

// Console prints styled lines for each event it observes.
type Console struct {
	verbose bool
}

// New creates a Console. When verbose is false, only the events an
// operator typically cares about (drops, shortcuts, flood starts, session
// outcomes) are printed; PacketSent is suppressed since a busy mesh emits
// one per hop, and GraphSnapshot tables are suppressed as well.
func New(verbose bool) *Console {
	return &Console{verbose: verbose}
}

// Header prints the simulation's startup banner.
func (c *Console) Header(title string) {
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)).
		Println(title)
}

// Follow prints events from ch, a channel obtained from Bus.Subscribe,
// until ch is closed (the bus was closed by a Controller.Stop). Intended
// to run in its own goroutine.
func (c *Console) Follow(ch <-chan events.Event) {
	for e := range ch {
		c.render(e)
	}
}

func (c *Console) render(e events.Event) {
	switch ev := e.(type) {
	case events.PacketSent:
		if c.verbose {
			pterm.FgGray.Printfln("  %v -> %v  %s", ev.From, ev.To, ev.Kind)
		}
	case events.PacketDropped:
		pterm.Warning.Printfln("drop at %v: %s (%s)", ev.Node, ev.Kind, ev.Reason)
	case events.ControllerShortcut:
		pterm.FgYellow.Printfln("shortcut: %v could not reach %v directly (%s); controller delivered it", ev.AtNode, ev.NextHop, ev.Kind)
	case events.FloodInitiated:
		pterm.Info.Printfln("flood %d initiated by %v", ev.FloodID, ev.InitiatorID)
	case events.GraphSnapshot:
		if c.verbose {
			c.printSnapshot(ev.Node, ev.View)
		}
	case events.SessionMessage:
		pterm.Success.Printfln("session %d: %v -> %v delivered %d bytes", ev.SessionID, ev.From, ev.To, ev.PayloadBytes)
	}
}

func (c *Console) printSnapshot(node fmt.Stringer, snap topology.Snapshot) {
	rows := pterm.TableData{{"edge", "weight"}}
	for _, e := range snap.Edges {
		rows = append(rows, []string{fmt.Sprintf("%v -> %v", e.From, e.To), fmt.Sprintf("%.2f", e.Weight)})
	}
	pterm.DefaultSection.Printfln("topology view: node %v", node)
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Render()
}

// Success prints a one-line success banner, e.g. after a scenario finishes.
func (c *Console) Success(msg string) {
	pterm.Success.Println(msg)
}

// Error prints a one-line error banner.
func (c *Console) Error(msg string) {
	pterm.Error.Println(msg)
}
