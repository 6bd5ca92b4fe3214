package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"conclave/internal/session"
	"conclave/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's recorded history",
	Long: `Display the persisted history of a session: its delegations and
the interactions workers recorded while executing them.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	sessionID := args[0]

	delegations, err := db.ListDelegations(sessionID)
	if err != nil {
		return fmt.Errorf("list delegations: %w", err)
	}
	interactions, err := db.ListInteractions(sessionID)
	if err != nil {
		return fmt.Errorf("list interactions: %w", err)
	}
	if len(delegations) == 0 && len(interactions) == 0 {
		fmt.Printf("No recorded history for session %s.\n", sessionID)
		return nil
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	if len(delegations) > 0 {
		bold.Println("Delegations:")
		for _, d := range delegations {
			fmt.Printf("  %s  strategy=%s  workers=%v  complexity=%.0f", d.Key, d.Strategy, d.Workers, d.Complexity)
			if d.State == session.DelegationCompleted {
				green.Printf("  [%s: %s]\n", d.State, d.Result)
			} else {
				yellow.Printf("  [%s]\n", d.State)
			}
		}
	}

	if len(interactions) > 0 {
		bold.Println("Interactions:")
		for _, in := range interactions {
			mark := green.Sprint("✓")
			if !in.Success {
				mark = red.Sprint("✗")
			}
			fmt.Printf("  %s %s  %s  %s  (%s)\n",
				mark,
				in.Timestamp.Format("15:04:05"),
				in.AgentID,
				in.Action,
				in.Duration.Round(time.Millisecond))
		}
	}

	return nil
}

// openHistory opens the configured history database.
func openHistory() (*state.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.State.Path
	if path == "" {
		path = state.DefaultDBPath()
	}

	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history store: %w", err)
	}
	return db, nil
}
