package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/octopoulo/vote-chess/dual"
	"github.com/octopoulo/vote-chess/game"
	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/termination"
)

var errNoMoves = errors.New("please give at least one move")

func (sc *ShellController) boardOption(cmd *shellcmd) (string, error) {
	name, ok := cmd.options["board"]
	if !ok {
		return sc.board, nil
	}
	if name != game.Player && name != game.Live {
		return "", fmt.Errorf("%w: %q", game.ErrUnknownBoard, name)
	}
	return name, nil
}

func (sc *ShellController) newGame(cmd *shellcmd) (*Response, error) {
	name, err := sc.boardOption(cmd)
	if err != nil {
		return nil, err
	}
	if err := sc.game.NewGame(sc.ctx, name, cmd.options["fen"]); err != nil {
		return nil, err
	}
	return sc.position(name)
}

func (sc *ShellController) switchBoard(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return msg(sc.board), nil
	}
	name := cmd.args[0]
	if name != game.Player && name != game.Live {
		return nil, fmt.Errorf("%w: %q", game.ErrUnknownBoard, name)
	}
	sc.board = name
	return msg("current board is " + name), nil
}

func (sc *ShellController) move(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return nil, errNoMoves
	}
	var played []string
	for _, text := range cmd.args {
		m, err := sc.game.Play(sc.ctx, sc.board, text)
		if err != nil {
			return nil, err
		}
		played = append(played, m.MoveNumber()+m.SAN)
	}
	return msg(strings.Join(played, " ")), nil
}

func (sc *ShellController) feed(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) == 0 {
		return nil, errNoMoves
	}
	snap, err := sc.game.Snapshot(sc.ctx, game.Live)
	if err != nil {
		return nil, err
	}
	ply := snap.Len
	if v, ok := cmd.options["ply"]; ok {
		if ply, err = strconv.Atoi(v); err != nil {
			return nil, err
		}
	}
	var book bool
	if v, ok := cmd.options["book"]; ok {
		if book, err = strconv.ParseBool(v); err != nil {
			return nil, err
		}
	}
	moves := lo.Map(cmd.args, func(text string, i int) *move.Move {
		m := &move.Move{Ply: ply + i, Book: book}
		if len(text) >= 4 && text[0] >= 'a' && text[0] <= 'h' && text[1] >= '1' && text[1] <= '8' &&
			text[2] >= 'a' && text[2] <= 'h' {
			m.UCI = text
		} else {
			m.SAN = text
		}
		return m
	})
	if err := sc.game.Feed(sc.ctx, game.Live, moves); err != nil {
		return nil, err
	}
	return sc.position(game.Live)
}

func (sc *ShellController) think(cmd *shellcmd) (*Response, error) {
	suggest := cmd.cmd == "suggest"
	if err := sc.game.Think(sc.ctx, suggest); err != nil {
		return nil, err
	}
	return msg("thinking..."), nil
}

func (sc *ShellController) stop(cmd *shellcmd) (*Response, error) {
	return nil, sc.game.Stop(sc.ctx)
}

func (sc *ShellController) auto(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 1 || (cmd.args[0] != "on" && cmd.args[0] != "off") {
		return nil, errors.New("usage: auto on|off")
	}
	on := cmd.args[0] == "on"
	if err := sc.game.SetAutoPlay(sc.ctx, on); err != nil {
		return nil, err
	}
	return msg("auto play " + cmd.args[0]), nil
}

func (sc *ShellController) setPly(ply int) (*Response, error) {
	if _, err := sc.game.SetPly(sc.ctx, sc.board, ply); err != nil {
		return nil, err
	}
	return sc.position(sc.board)
}

func (sc *ShellController) ply(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 1 {
		return nil, errors.New("usage: ply <n>")
	}
	ply, err := strconv.Atoi(cmd.args[0])
	if err != nil {
		return nil, err
	}
	return sc.setPly(ply)
}

func (sc *ShellController) step(delta int) (*Response, error) {
	snap, err := sc.game.Snapshot(sc.ctx, sc.board)
	if err != nil {
		return nil, err
	}
	return sc.setPly(snap.Ply + delta)
}

func (sc *ShellController) next(cmd *shellcmd) (*Response, error) {
	return sc.step(1)
}

func (sc *ShellController) prev(cmd *shellcmd) (*Response, error) {
	return sc.step(-1)
}

func (sc *ShellController) position(name string) (*Response, error) {
	snap, err := sc.game.Snapshot(sc.ctx, name)
	if err != nil {
		return nil, err
	}
	s := fmt.Sprintf("[%s] ply %d/%d %s", name, snap.Ply, snap.Len-1, snap.Fingerprint)
	if snap.Marker.Ply >= 0 {
		s += fmt.Sprintf("\n  diverges at ply %d, %d moves agree", snap.Marker.Ply, snap.Marker.Agree)
	}
	if snap.Ended != termination.None {
		s += "\n  game over: " + snap.Ended.String()
	}
	return msg(s), nil
}

func (sc *ShellController) moves(cmd *shellcmd) (*Response, error) {
	moves, err := sc.game.Moves(sc.ctx, sc.board)
	if err != nil {
		return nil, err
	}
	if len(moves) == 0 {
		return msg("no moves"), nil
	}
	lines := lo.Map(moves, func(m *move.Move, ply int) string {
		if m == nil {
			return fmt.Sprintf("%3d: ...", ply)
		}
		return fmt.Sprintf("%3d: %s", ply, m.String())
	})
	return msg(strings.Join(lines, "\n")), nil
}

func (sc *ShellController) fen(cmd *shellcmd) (*Response, error) {
	snap, err := sc.game.Snapshot(sc.ctx, sc.board)
	if err != nil {
		return nil, err
	}
	return msg(snap.Fingerprint), nil
}

func (sc *ShellController) compare(cmd *shellcmd) (*Response, error) {
	if err := sc.game.Compare(sc.ctx, sc.board); err != nil {
		return nil, err
	}
	return sc.position(sc.board)
}

func (sc *ShellController) show(cmd *shellcmd) (*Response, error) {
	if len(cmd.args) != 1 {
		return nil, errors.New("usage: show first|diverge|last")
	}
	p, err := dual.ParsePolicy(cmd.args[0])
	if err != nil {
		return nil, err
	}
	if err := sc.game.SetPolicy(sc.ctx, p); err != nil {
		return nil, err
	}
	return msg("show " + string(p)), nil
}

func (sc *ShellController) set(cmd *shellcmd) (*Response, error) {
	opts, err := sc.game.Options(sc.ctx)
	if err != nil {
		return nil, err
	}
	if len(cmd.args) == 0 {
		return msg(fmt.Sprintf("mode %d\ndepth %d\ntime %s\ninitial %d\nextra %q",
			opts.Mode, opts.MinDepth, opts.MaxTime, opts.InitialDepth, opts.Extra)), nil
	}
	if len(cmd.args) != 2 {
		return nil, errors.New("usage: set <option> <value>")
	}
	key, val := cmd.args[0], cmd.args[1]
	switch key {
	case "mode", "depth", "initial":
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, err
		}
		switch key {
		case "mode":
			opts.Mode = n
		case "depth":
			opts.MinDepth = n
		default:
			opts.InitialDepth = n
		}
	case "time":
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, err
		}
		opts.MaxTime = d
	case "extra":
		opts.Extra = val
	default:
		return nil, fmt.Errorf("unknown option %q", key)
	}
	if err := sc.game.SetOptions(sc.ctx, opts); err != nil {
		return nil, err
	}
	return msg(key + " set to " + val), nil
}
