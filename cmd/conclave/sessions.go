package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ListSessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No recorded sessions. Run 'conclave run <workflow.yaml>' to start one.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"), s.ID)
	}
	return nil
}
