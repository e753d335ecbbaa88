package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawd/pkg/clawd/scheduler"
	"github.com/jholhewres/clawd/pkg/clawd/store"
)

// newCronCmd creates the `clawd cron` command group. It edits job storage
// directly; a running daemon picks changes up on restart, or immediately
// via the gateway cron.* methods.
func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(newCronListCmd(), newCronAddCmd(), newCronRemoveCmd())
	return cmd
}

func openJobStorage(cmd *cobra.Command) (scheduler.JobStorage, func(), error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return scheduler.NewSQLiteJobStorage(db), func() { db.Close() }, nil
}

func newCronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			jobs, err := storage.LoadAll()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}
			for _, j := range jobs {
				state := "enabled"
				if !j.Enabled {
					state = "disabled"
				}
				lastRun := "never"
				if j.LastRunAt != nil {
					lastRun = j.LastRunAt.Local().Format(time.RFC3339)
				}
				fmt.Printf("%-10s %-16s %-8s runs=%-4d last=%s  %s\n",
					j.ID, j.Schedule, state, j.RunCount, lastRun, j.Command)
				if j.LastError != "" {
					fmt.Printf("           last error: %s\n", j.LastError)
				}
			}
			return nil
		},
	}
}

func newCronAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Example: `  clawd cron add --schedule "0 8 * * *" --command "summarize overnight messages" --session telegram:12345
  clawd cron add --schedule "@hourly" --command "check CI status"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule, _ := cmd.Flags().GetString("schedule")
			command, _ := cmd.Flags().GetString("command")
			session, _ := cmd.Flags().GetString("session")
			id, _ := cmd.Flags().GetString("id")
			disabled, _ := cmd.Flags().GetBool("disabled")

			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			// Validate through a detached scheduler so bad cron
			// expressions are rejected before they reach storage.
			validator := scheduler.New(scheduler.DefaultConfig(), nil, nil, nil)
			if err := validator.Start(cmd.Context()); err != nil {
				return err
			}
			defer validator.Stop()

			job := &scheduler.Job{
				ID:       id,
				Schedule: schedule,
				Command:  command,
				Session:  session,
				Enabled:  !disabled,
			}
			if err := validator.Add(job); err != nil {
				return err
			}
			if err := storage.Save(job); err != nil {
				return err
			}
			fmt.Printf("Job %s added (%s).\n", job.ID, job.Schedule)
			return nil
		},
	}
	cmd.Flags().String("schedule", "", "cron expression or descriptor (@hourly, @every 10m)")
	cmd.Flags().String("command", "", "command to run when the job fires")
	cmd.Flags().String("session", "", "session key the job runs under")
	cmd.Flags().String("id", "", "job ID (generated when empty)")
	cmd.Flags().Bool("disabled", false, "create the job disabled")
	_ = cmd.MarkFlagRequired("schedule")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, closeDB, err := openJobStorage(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := storage.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Job %s removed.\n", args[0])
			return nil
		},
	}
}
