package main

import (
	"fmt"
	"io"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/fatih/color"
)

var (
	titleColor     = color.New(color.FgCyan, color.Bold)
	promptColor    = color.New(color.FgGreen)
	infoColor      = color.New(color.FgYellow)
	userColor      = color.New(color.FgGreen, color.Bold)
	assistantColor = color.New(color.FgCyan, color.Bold)
	errorColor     = color.New(color.FgRed)
)

func printMessage(w io.Writer, msg models.Message) {
	switch {
	case msg.Role == models.RoleUser:
		fmt.Fprintf(w, "%s %s\n", userColor.Sprint("Tu:"), msg.Content)
	case msg.Error:
		fmt.Fprintf(w, "%s %s\n", assistantColor.Sprint("Copiloto:"), errorColor.Sprint(msg.Content))
	default:
		fmt.Fprintf(w, "%s %s\n", assistantColor.Sprint("Copiloto:"), msg.Content)
	}
}

func printConversations(w io.Writer, convs []models.ConversationSummary, currentID string) {
	if len(convs) == 0 {
		fmt.Fprintln(w, infoColor.Sprint("No hay conversaciones"))
		return
	}
	for i, c := range convs {
		marker := " "
		if c.ID == currentID {
			marker = promptColor.Sprint("*")
		}
		title := c.Title
		if title == "" {
			title = "(sin titulo)"
		}
		line := fmt.Sprintf("%s %2d. %s", marker, i+1, title)
		if !c.UpdatedAt.IsZero() {
			line += color.HiBlackString("  %s", c.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(w, "%s  %s\n", line, color.HiBlackString("[%s]", c.ID))
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorColor.Sprintf("Error: %v", err))
}
