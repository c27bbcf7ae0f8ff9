package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdziat/simple-param-commands/pkg/cmdctx"
	"github.com/jdziat/simple-param-commands/pkg/dispatch"
	"github.com/jdziat/simple-param-commands/pkg/host"
)

type echoCommand struct{ out io.Writer }

func (c *echoCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", c.onExecute, dispatch.Default(1, 1))
}

func (c *echoCommand) onExecute(ctx context.Context, message string, times int) error {
	if times < 1 {
		return fmt.Errorf("times must be positive, got %d", times)
	}
	for range times {
		fmt.Fprintln(c.out, message)
	}
	return nil
}

type addCommand struct{ out io.Writer }

func (c *addCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", c.onExecute, dispatch.Default(1, 0.0))
}

func (c *addCommand) onExecute(a, b float64) error {
	fmt.Fprintln(c.out, a+b)
	return nil
}

// giveCommand hands items to a player; note is optional.
type giveCommand struct{ out io.Writer }

func (c *giveCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", c.onExecute, dispatch.Default(2, 1), dispatch.Default(3, nil))
}

func (c *giveCommand) onExecute(ctx context.Context, player, item string, count int, note *string) error {
	if count <= 0 {
		return fmt.Errorf("cannot give %d %s", count, item)
	}
	from := cmdctx.ActorFromContext(ctx)
	if from == "" {
		from = "server"
	}
	line := fmt.Sprintf("%s gave %d x %s to %s", from, count, item, player)
	if note != nil {
		line += fmt.Sprintf(" (%s)", *note)
	}
	fmt.Fprintln(c.out, line)
	return nil
}

// sleepCommand completes through a channel once d has elapsed.
type sleepCommand struct {
	dispatch.ChanCommand
	out io.Writer
}

func (c *sleepCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", c.onExecute)
}

func (c *sleepCommand) onExecute(ctx context.Context, d time.Duration) <-chan error {
	return dispatch.Go(func() error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			fmt.Fprintf(c.out, "slept %v\n", d)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

type helpCommand struct {
	host *host.Host
	out  io.Writer
}

func (c *helpCommand) DeclareHandlers(ms *dispatch.MethodSet) {
	ms.Add("OnExecute", c.onExecute, dispatch.Default(0, ""))
}

func (c *helpCommand) onExecute(name string) error {
	if name != "" {
		usage, err := c.host.Usage(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, usage)
		return nil
	}

	var b strings.Builder
	for _, info := range c.host.Commands() {
		fmt.Fprintf(&b, "  %-40s %s\n", info.Usage, info.Description)
	}
	_, err := io.WriteString(c.out, b.String())
	return err
}

// registerDemo registers the built-in commands on h, writing to out.
func registerDemo(h *host.Host, out io.Writer) {
	h.Register("echo", func() dispatch.Command { return &echoCommand{out: out} },
		host.Description("Print a message, optionally several times"))
	h.Register("add", func() dispatch.Command { return &addCommand{out: out} },
		host.Description("Add two numbers"))
	h.Register("give", func() dispatch.Command { return &giveCommand{out: out} },
		host.Description("Give items to a player"))
	h.Register("sleep", func() dispatch.Command { return &sleepCommand{out: out} },
		host.Description("Wait for a duration"))
	h.Register("help", func() dispatch.Command { return &helpCommand{host: h, out: out} },
		host.Description("List commands or show one command's usage"))
}
