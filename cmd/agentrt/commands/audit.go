package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentrt/agentrt/internal/audit"
	"github.com/agentrt/agentrt/internal/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Operate on the hash-chained audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain's integrity",
	RunE:  runAuditVerify,
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	log := audit.New(paths.Audit())

	result, err := log.VerifyChain()
	if err != nil {
		return exitf(ExitAuditChainInvalid, "audit chain verification error: %v", err)
	}
	if !result.Valid {
		return exitf(ExitAuditChainInvalid, "audit chain invalid at entry %d: %s", result.BrokenIndex, result.Reason)
	}

	fmt.Println("audit chain valid")
	return nil
}
