package main

import (
	"context"
	"strconv"

	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/tui"
	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show recommended roommates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		if err := a.requireLogin(); err != nil {
			return err
		}
		var recs []model.Recommendation
		err := tui.Spin(cmd.Context(), "Finding roommates ...", func(ctx context.Context) (err error) {
			recs, err = a.client.Recommendations(ctx, a.sessions.Identity().ID)
			return err
		})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			tui.ShowWarning("No recommendations yet")
			return nil
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{r.UserID.String(), strconv.Itoa(r.Similarity()) + "%", dash(r.Gender), dash(r.Smoking)})
		}
		tui.Table([]string{"User", "Similarity", "Gender", "Smoking"}, rows)
		return nil
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(recommendCmd)
}
