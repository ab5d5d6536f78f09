package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/chzyer/readline"
)

var errQuit = errors.New("main: quit")

type player struct {
	cfg mediaflow.PipelineConfig
	p   *mediaflow.Pipeline
	w   io.Writer
}

func newPlayer(p *mediaflow.Pipeline, cfg mediaflow.PipelineConfig, w io.Writer) *player {
	return &player{
		cfg: cfg,
		p:   p,
		w:   w,
	}
}

var commands = []struct {
	args string
	help string
	name string
}{
	{help: "starts or resumes playback", name: "play"},
	{help: "pauses playback", name: "pause"},
	{args: "<duration>", help: "seeks to a position such as 1m30s", name: "seek"},
	{args: "<rate>", help: "changes the playback rate", name: "rate"},
	{args: "<input>", help: "loads a new input once stopped", name: "load"},
	{help: "prints the current position", name: "pos"},
	{help: "prints the buffered ranges", name: "ranges"},
	{help: "prints the playback state", name: "state"},
	{help: "prints the tracks", name: "tracks"},
	{help: "stops playback", name: "stop"},
	{help: "exits", name: "quit"},
	{help: "prints this help", name: "help"},
}

func (pl *player) completer() *readline.PrefixCompleter {
	var is []readline.PrefixCompleterInterface
	for _, c := range commands {
		is = append(is, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(is...)
}

// handle executes a command line. It returns errQuit when the player should exit.
func (pl *player) handle(ctx context.Context, line string) error {
	// Split
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]

	// Check args
	arg := func() (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("main: %s expects exactly one argument", name)
		}
		return args[0], nil
	}

	switch name {
	case "play":
		return pl.p.Play(ctx)
	case "pause":
		return pl.p.Pause(ctx)
	case "seek":
		a, err := arg()
		if err != nil {
			return err
		}
		d, err := time.ParseDuration(a)
		if err != nil {
			return fmt.Errorf("main: parsing duration failed: %w", err)
		}
		return pl.p.Seek(ctx, d)
	case "rate":
		a, err := arg()
		if err != nil {
			return err
		}
		r, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("main: parsing rate failed: %w", err)
		}
		return pl.p.SetRate(ctx, r)
	case "load":
		a, err := arg()
		if err != nil {
			return err
		}
		return pl.p.Load(ctx, mediaflow.Source{URL: a}, pl.cfg)
	case "pos":
		fmt.Fprintln(pl.w, pl.p.CurrentPosition())
	case "ranges":
		rs := pl.p.BufferedRanges()
		if len(rs) == 0 {
			fmt.Fprintln(pl.w, "no buffered range")
		}
		for _, r := range rs {
			fmt.Fprintf(pl.w, "[%s, %s)\n", r.Start, r.End)
		}
	case "state":
		if err := pl.p.Err(); err != nil {
			fmt.Fprintf(pl.w, "%s: %s\n", pl.p.State(), err)
		} else {
			fmt.Fprintln(pl.w, pl.p.State())
		}
	case "tracks":
		for _, t := range pl.p.Tracks() {
			fmt.Fprintln(pl.w, t)
		}
	case "stop":
		return pl.p.Stop(ctx)
	case "quit", "exit":
		return errQuit
	case "help":
		for _, c := range commands {
			fmt.Fprintf(pl.w, "%-24s %s\n", strings.TrimSpace(c.name+" "+c.args), c.help)
		}
	default:
		return fmt.Errorf("main: unknown command %s", name)
	}
	return nil
}
