package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/MegaGrindStone/promotor-copilot/internal/session"
	"github.com/spf13/cobra"
)

const chatHelp = `Escribe un mensaje y presiona Enter para enviarlo.
  /new            nueva conversacion
  /list           mostrar conversaciones
  /refresh        actualizar conversaciones
  /open <n|id>    abrir una conversacion
  /delete [n|id]  eliminar la conversacion actual u otra
  /help           mostrar esta ayuda
  /quit           salir`

func chatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the copilot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			directory := session.NewDirectory(a.gateway, a.logger)
			r := &repl{
				controller: session.NewController(a.gateway, directory, a.logger),
				in:         cmd.InOrStdin(),
				out:        cmd.OutOrStdout(),
				logger:     a.logger,
			}
			return r.run(cmd.Context())
		},
	}
}

// repl is the interactive chat loop. Plain lines are submitted to the active session, lines starting
// with a slash are commands.
type repl struct {
	controller *session.Controller
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger

	// listed is the directory as last shown, so conversations can be picked by number.
	listed []models.ConversationSummary
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, titleColor.Sprint("Copiloto EFEX"))
	fmt.Fprintln(r.out, chatHelp)

	if err := r.controller.Directory().Refresh(ctx); err != nil {
		printError(r.out, err)
	}

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, promptColor.Sprint("> "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "/") {
			r.submit(ctx, line)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(r.out, chatHelp)
		case "/new":
			r.controller.StartNew()
			fmt.Fprintln(r.out, infoColor.Sprint("Nueva conversacion"))
		case "/list":
			r.list()
		case "/refresh":
			if err := r.controller.Directory().Refresh(ctx); err != nil {
				printError(r.out, err)
			}
			r.list()
		case "/open":
			r.open(ctx, arg)
		case "/delete":
			r.delete(ctx, arg)
		default:
			printError(r.out, fmt.Errorf("comando desconocido %s, usa /help", cmd))
		}
	}
}

func (r *repl) submit(ctx context.Context, text string) {
	reply, err := r.controller.Submit(ctx, text)
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return
	case err != nil:
		printError(r.out, err)
		return
	}
	printMessage(r.out, models.Message{Role: models.RoleUser, Content: strings.TrimSpace(text)})
	printMessage(r.out, reply)
}

func (r *repl) list() {
	r.listed = r.controller.Directory().List()
	current := r.controller.State().ConversationID
	printConversations(r.out, r.listed, current)
}

func (r *repl) open(ctx context.Context, ref string) {
	id, ok := r.resolve(ref)
	if !ok {
		printError(r.out, fmt.Errorf("conversacion %q no encontrada, usa /list", ref))
		return
	}

	if err := r.controller.SwitchTo(ctx, id); err != nil {
		printError(r.out, err)
		return
	}

	state := r.controller.State()
	fmt.Fprintln(r.out, titleColor.Sprint(state.Title))
	for _, msg := range state.Messages {
		printMessage(r.out, msg)
	}
}

func (r *repl) delete(ctx context.Context, ref string) {
	if ref == "" {
		if r.controller.State().ConversationID == "" {
			r.controller.StartNew()
			fmt.Fprintln(r.out, infoColor.Sprint("Nueva conversacion"))
			return
		}
		if err := r.controller.DeleteCurrent(ctx); err != nil {
			printError(r.out, err)
			return
		}
		fmt.Fprintln(r.out, infoColor.Sprint("Conversacion eliminada"))
		return
	}

	id, ok := r.resolve(ref)
	if !ok {
		printError(r.out, fmt.Errorf("conversacion %q no encontrada, usa /list", ref))
		return
	}
	if err := r.controller.Delete(ctx, id); err != nil {
		printError(r.out, err)
		return
	}
	fmt.Fprintln(r.out, infoColor.Sprint("Conversacion eliminada"))
}

// resolve maps a list number or a conversation id onto a conversation id.
func (r *repl) resolve(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(r.listed) {
		return r.listed[n-1].ID, true
	}
	for _, c := range r.controller.Directory().List() {
		if c.ID == ref {
			return c.ID, true
		}
	}
	// Unknown to the directory, the backend decides.
	return ref, true
}
