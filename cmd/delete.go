package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/company-registry/internal/model"
)

var deleteCompanyID string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Mark a company as deleted",
	Long:  "Appends a deletion marker as the newest version of the company. History is kept; the company stops appearing in searches.",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, r, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		company, msg, err := svc.MarkDeleted(cmd.Context(), model.MarkDeletedRequest{CompanyID: deleteCompanyID})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{"company": company, "message": msg}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteCompanyID, "company-id", "", "logical company id to delete")
	deleteCmd.MarkFlagRequired("company-id")
	rootCmd.AddCommand(deleteCmd)
}
