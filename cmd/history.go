package cmd

import (
	"fmt"

	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/config"
	"github.com/campuskit/sage/pkg/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := history.Open(config.Get().History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		convs, err := store.List()
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No saved conversations.")
			return nil
		}

		for _, conv := range convs {
			fmt.Printf("%s  %2d questions  %s\n",
				conv.StartedAt.Format("2006-01-02 15:04"),
				conv.UserMessageCount(),
				firstQuestion(conv))
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all saved conversations",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := history.Open(config.Get().History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil
	},
}

func firstQuestion(conv chat.Conversation) string {
	for _, msg := range conv.Messages {
		if msg.IsUser() {
			if runes := []rune(msg.Text); len(runes) > 60 {
				return string(runes[:57]) + "..."
			}
			return msg.Text
		}
	}
	return "(empty)"
}

func init() {
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}
