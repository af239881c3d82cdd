package main

import (
	"fmt"
	"io"
	"os"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	"github.com/spf13/cobra"
)

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			convs, err := a.gateway.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), convs, "")
			return nil
		},
	}
}

func exportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as an HTML page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.gateway.FetchConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			page, err := models.RenderConversation(conv)
			if err != nil {
				return fmt.Errorf("failed to render conversation: %w", err)
			}

			if output == "" || output == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), page)
				return err
			}
			if err := os.WriteFile(output, []byte(page), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), infoColor.Sprintf("Conversacion exportada a %s", output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, stdout when empty")

	return cmd
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print your conversations every time they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, infoColor.Sprint("Esperando cambios, Ctrl+C para salir"))
			for convs, err := range a.gateway.WatchConversations(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintln(out, titleColor.Sprint("Conversaciones"))
				printConversations(out, convs, "")
			}
			return nil
		},
	}
}
