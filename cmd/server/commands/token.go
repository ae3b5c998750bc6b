package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zirpo/pm-backend/pkg/rbac"
	"github.com/zirpo/pm-backend/pkg/util"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed JWT for API access",
	Long: `Issue an HS256 JWT signed with jwt.secret.

Roles:
  viewer  read projects and ask for recommendations
  editor  viewer + create and update projects
  admin   editor + outbox replay`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", rbac.RoleEditor, "viewer, editor or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to jwt.ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if !rbac.ValidRole(tokenRole) {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is not configured (set JWT_SECRET)")
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.JWT.TTL
	}

	token, err := util.GenerateJWT(tokenSubject, tokenRole, cfg.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
