package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/NicolasHaas/zyeachat/pkg/client"
	"github.com/NicolasHaas/zyeachat/pkg/model"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run the client: restore the session, stay connected and take commands on stdin",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "metrics-interval", Usage: "Log client counters this often (0 disables)", Value: time.Minute},
	},
	Action: cmdRun,
}

const runHelp = `commands:
  accept           answer the ringing call
  reject           decline the ringing call
  fg               revalidate the session as if the app came to the foreground
  focus on|off     switch the chat list poll interval
  open LINK        apply a deep link
  logout           sign out
  status           show session, connection and unread count
  quit             exit`

func cmdRun(ctx *cli.Context) error {
	e, err := newEngine(getConfig(ctx))
	if err != nil {
		return err
	}
	defer e.Close()

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e.Calls().OnChange = func(state client.CallState, call *model.IncomingCall) {
		if state == client.CallRinging && call != nil {
			fmt.Printf("Incoming %s call from %s, type 'accept' or 'reject'\n", callKind(call.IsVideo), call.CallerName)
		}
	}
	if err := e.Start(runCtx); err != nil {
		return err
	}
	e.Ready().MarkReady()
	if iv := ctx.Duration("metrics-interval"); iv > 0 {
		e.Metrics().StartPeriodicLog(iv, runCtx.Done())
	}

	fmt.Println(runHelp)
	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case <-runCtx.Done():
			slog.Info("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := dispatch(runCtx, e, line); quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// dispatch runs one stdin command and reports whether to exit.
func dispatch(ctx context.Context, e *client.Engine, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	var err error
	switch fields[0] {
	case "accept":
		var p client.CallParams
		if p, err = e.Calls().Accept(); err == nil {
			fmt.Printf("In call with %s on channel %s\n", p.UserName, p.ChannelName)
		}
	case "reject":
		err = e.Calls().Reject()
	case "fg", "foreground":
		err = e.Foreground(ctx)
	case "focus":
		on := len(fields) < 2 || fields[1] != "off"
		e.SetChatListFocused(on)
	case "open":
		if len(fields) < 2 {
			err = errors.New("usage: open LINK")
			break
		}
		err = e.HandleDeepLink(ctx, fields[1])
	case "logout":
		err = e.Logout(ctx)
	case "status":
		printSession(e.Session())
		fmt.Printf("Unread:  %d\n", e.Unread().Count())
		fmt.Printf("Call:    %s\n", e.Calls().State())
		fmt.Println(e.Metrics().JSON())
	case "quit", "exit":
		return true
	case "help":
		fmt.Println(runHelp)
	default:
		fmt.Printf("unknown command %q, type 'help'\n", fields[0])
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	return false
}

func callKind(video bool) string {
	if video {
		return "video"
	}
	return "voice"
}
