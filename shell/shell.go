// Package shell is an interactive driver for a game: it plays and feeds
// moves, starts searches and prints the events of both boards.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/octopoulo/vote-chess/event"
	"github.com/octopoulo/vote-chess/game"
)

var (
	errNoData            = errors.New("no data in line")
	errWrongOptionSyntax = errors.New("wrong format; all options need arguments")
	errQuit              = errors.New("quit")
)

type shellcmd struct {
	cmd     string
	args    []string
	options map[string]string
}

// extractFields splits a line into a command, its arguments and its -key
// value options.
func extractFields(line string) (*shellcmd, error) {
	fields, err := shellquote.Split(line)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errNoData
	}
	cmd := fields[0]
	var args []string
	options := map[string]string{}
	for idx := 1; idx < len(fields); idx++ {
		if strings.HasPrefix(fields[idx], "-") && len(fields[idx]) > 1 && !isNumber(fields[idx]) {
			if idx == len(fields)-1 {
				return nil, errWrongOptionSyntax
			}
			options[fields[idx][1:]] = fields[idx+1]
			idx++
			continue
		}
		args = append(args, fields[idx])
	}
	return &shellcmd{cmd: cmd, args: args, options: options}, nil
}

func isNumber(s string) bool {
	s = strings.TrimPrefix(s, "-")
	return s != "" && strings.Trim(s, "0123456789") == ""
}

type Response struct {
	message string
}

func msg(message string) *Response {
	return &Response{message: message}
}

type ShellController struct {
	l   *readline.Instance
	ctx context.Context

	game    *game.Game
	board   string
	printer *message.Printer

	outMu sync.Mutex
	out   io.Writer

	commands map[string]func(*shellcmd) (*Response, error)
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func newController(ctx context.Context, g *game.Game, out io.Writer) *ShellController {
	sc := &ShellController{
		ctx:     ctx,
		game:    g,
		board:   game.Player,
		printer: message.NewPrinter(language.English),
		out:     out,
	}
	sc.commands = map[string]func(*shellcmd) (*Response, error){
		"new":     sc.newGame,
		"board":   sc.switchBoard,
		"move":    sc.move,
		"feed":    sc.feed,
		"go":      sc.think,
		"suggest": sc.think,
		"stop":    sc.stop,
		"auto":    sc.auto,
		"ply":     sc.ply,
		"n":       sc.next,
		"b":       sc.prev,
		"moves":   sc.moves,
		"fen":     sc.fen,
		"compare": sc.compare,
		"show":    sc.show,
		"set":     sc.set,
		"stats":   sc.stats,
	}
	return sc
}

// NewShellController creates a readline shell driving g.
func NewShellController(ctx context.Context, g *game.Game) (*ShellController, error) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[31mvotechess>\033[0m ",
		HistoryFile:     "/tmp/votechess_readline.tmp",
		EOFPrompt:       "exit",
		InterruptPrompt: "^C",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return nil, err
	}
	sc := newController(ctx, g, l.Stderr())
	sc.l = l
	return sc, nil
}

func (sc *ShellController) showMessage(msg string) {
	sc.outMu.Lock()
	defer sc.outMu.Unlock()
	io.WriteString(sc.out, msg)
	io.WriteString(sc.out, "\n")
}

func (sc *ShellController) showError(err error) {
	sc.showMessage("Error: " + err.Error())
}

// Execute runs one command line.
func (sc *ShellController) Execute(line string) (*Response, error) {
	cmd, err := extractFields(line)
	if err != nil {
		return nil, err
	}
	switch cmd.cmd {
	case "exit", "bye":
		return nil, errQuit
	case "help":
		var sb strings.Builder
		if len(cmd.args) == 0 {
			usage(&sb)
		} else {
			usageTopic(&sb, cmd.args[0])
		}
		return msg(strings.TrimRight(sb.String(), "\n")), nil
	}
	fn, ok := sc.commands[cmd.cmd]
	if !ok {
		return nil, fmt.Errorf("unknown command %q, try help", cmd.cmd)
	}
	return fn(cmd)
}

// OnEvent prints the events a user wants to see. It is safe to call from
// the event goroutine.
func (sc *ShellController) OnEvent(e event.Event) {
	switch p := e.Payload.(type) {
	case event.Progress:
		tag := "depth"
		if p.Final {
			tag = "suggest"
		}
		sc.showMessage(sc.printer.Sprintf("[%s] %s %d: %s (%d) pv %s, %d nodes, %d nps",
			e.Board, tag, p.Depth, p.Best, p.Score, strings.Join(p.PV, " "), p.Nodes, p.NPS))
	case event.Committed:
		sc.showMessage(fmt.Sprintf("[%s] played %s", e.Board, p.Move.String()))
	case event.Terminated:
		sc.showMessage(fmt.Sprintf("[%s] game over: %s", e.Board, p.Reason))
	case event.PlyChange:
		if p.Pending {
			sc.showMessage(fmt.Sprintf("[%s] ply %d is not known yet", e.Board, p.Ply))
		}
	case event.Marker:
		if p.Ply >= 0 {
			log.Debug().Str("board", e.Board).Int("ply", p.Ply).Int("agree", p.Agree).Msg("marker")
		}
	}
}

func (sc *ShellController) Loop(sig chan os.Signal) {
	defer sc.l.Close()

	for {
		line, err := sc.l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				sig <- syscall.SIGINT
				break
			}
			continue
		} else if err == io.EOF {
			sig <- syscall.SIGINT
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		resp, err := sc.Execute(line)
		if errors.Is(err, errQuit) {
			sig <- syscall.SIGINT
			break
		}
		if err != nil {
			sc.showError(err)
			continue
		}
		if resp != nil && resp.message != "" {
			sc.showMessage(resp.message)
		}
	}
	log.Debug().Msg("exiting-readline-loop")
}
