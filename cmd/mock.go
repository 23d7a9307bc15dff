package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/campuskit/sage/pkg/config"
	"github.com/campuskit/sage/pkg/mockd"
	"github.com/spf13/cobra"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a local mock campus backend",
	Long: `Serves canned campus answers over the same wire protocol as the real
backend, so the chat client can be tried without network access.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := config.Get().Mock.Addr
		fmt.Printf("Serving mock campus backend on %s (Ctrl+C to stop)\n", addr)

		err := mockd.New().Run(cmd.Context(), addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(mockCmd)
}
