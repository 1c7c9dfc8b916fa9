package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/api"
	"github.com/dgnsrekt/schedule-live/internal/live"
)

func emitCmd() *cobra.Command {
	var (
		tenantID string
		payload  string
	)

	cmd := &cobra.Command{
		Use:   "emit <kind> <entityId>",
		Short: "Report a mutation to the server",
		Long: "Report a mutation to the server. Kinds: " + strings.Join([]string{
			string(live.KindStatusChange),
			string(live.KindCreated),
			string(live.KindDeleted),
			string(live.KindRescheduled),
		}, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			kind, err := live.ParseEventKind(args[0])
			if err != nil {
				return err
			}

			m := api.Mutation{Kind: string(kind), EntityID: args[1]}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				m.Payload = json.RawMessage(payload)
			}

			if err := newClient().PostMutation(cmd.Context(), tenantID, m); err != nil {
				return err
			}
			logger.Info("mutation accepted",
				zap.String("tenantId", tenantID),
				zap.String("kind", m.Kind),
				zap.String("entityId", m.EntityID),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the entity belongs to")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload forwarded to clients")
	return cmd
}
