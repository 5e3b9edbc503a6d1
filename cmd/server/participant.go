package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Membership changes are administrative; the API only sets participants at
// creation time.
var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Manage conversation membership",
}

var participantAddCmd = &cobra.Command{
	Use:   "add <conversation-id> <user-id>",
	Short: "Add a user to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		database, err := openDatabase(cfg, log)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.AddParticipant(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		log.Info("participant_added", zap.String("conversation_id", args[0]), zap.String("user_id", args[1]))
		return nil
	},
}

var participantRemoveCmd = &cobra.Command{
	Use:   "remove <conversation-id> <user-id>",
	Short: "Remove a user from a conversation",
	Long: `Remove a user from a conversation. Messages the user already sent stay
in the conversation; the user loses access to all of them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		database, err := openDatabase(cfg, log)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.RemoveParticipant(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("remove participant: %w", err)
		}
		log.Info("participant_removed", zap.String("conversation_id", args[0]), zap.String("user_id", args[1]))
		return nil
	},
}

func init() {
	participantCmd.AddCommand(participantAddCmd, participantRemoveCmd)
	rootCmd.AddCommand(participantCmd)
}
