package cmd

import (
	"fmt"
	"os"

	"os-downloads/app/auth"
	"os-downloads/app/config"

	"github.com/spf13/cobra"
)

var tokenUID int

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "为调用方身份签发 API 令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		token, err := auth.NewJWTService(cfg).GenerateToken(tokenUID)
		if err != nil {
			return fmt.Errorf("签发令牌失败: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().IntVar(&tokenUID, "uid", os.Getuid(), "令牌代表的调用方 uid")
	rootCmd.AddCommand(tokenCmd)
}
