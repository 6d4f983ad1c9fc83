package main

import (
	"fmt"

	"github.com/ashureev/lessonloop/internal/questionbank"
	"github.com/spf13/cobra"
)

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Question bank tools",
}

var bankValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a question bank file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bank, err := questionbank.Load(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		lessons := bank.Lessons()
		for _, id := range lessons {
			fmt.Fprintf(out, "%s: %d warmup, %d bookmarks, %d in-lesson\n",
				id, len(bank.Warmup(id)), len(bank.Bookmarks(id)), len(bank.InLessonTriggers(id)))
		}
		fmt.Fprintf(out, "ok: %d lessons\n", len(lessons))
		return nil
	},
}

func init() {
	bankCmd.AddCommand(bankValidateCmd)
}
