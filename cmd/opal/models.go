package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opal-agent/opal/pkg/ai/models"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models and their context windows",
		Run: func(cmd *cobra.Command, args []string) {
			for _, m := range models.All() {
				thinking := " "
				if m.SupportsThinking {
					thinking = "T"
				}
				fmt.Printf("%-10s %-45s %s ctx=%-8d out=%-7d $%.2f/$%.2f per 1M\n",
					m.Provider, m.ID, thinking, m.ContextWindow, m.MaxOutputTokens,
					m.InputCostPer1M, m.OutputCostPer1M)
			}
		},
	}
}
