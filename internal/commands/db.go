package commands

import (
	"github.com/spf13/cobra"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/app"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/output"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database utilities",
	}

	cmd.AddCommand(newDBPathCmd())
	cmd.AddCommand(newDBVersionCmd())
	return cmd
}

func newDBPathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the resolved database path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				Path string `json:"path"`
			}
			return output.PrintSuccess(resp{Path: path})
		},
	}
	return cmd
}

func newDBVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the applied and latest schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *DB) error {
				current, latest, err := store.SchemaVersion(db)
				if err != nil {
					return err
				}

				type resp struct {
					Current  int64 `json:"current"`
					Latest   int64 `json:"latest"`
					UpToDate bool  `json:"up_to_date"`
				}
				return output.PrintSuccess(resp{Current: current, Latest: latest, UpToDate: current == latest})
			})
		},
	}
	return cmd
}
