package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/intrusion-game/internal/agent"
	"github.com/signalsfoundry/intrusion-game/internal/storage"
	"github.com/spf13/cobra"
)

func newLossesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "losses",
		Short: "Print the recorded training losses of one role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawRole, _ := cmd.Flags().GetString("role")
			role, err := parseRole(rawRole)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := storage.NewStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer storage.CloseIfSupported(store)
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}

			history, err := store.LossHistory(cmd.Context(), string(role))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				losses := make([]*float64, len(history))
				for i, e := range history {
					if e.Valid {
						v := e.Loss
						losses[i] = &v
					}
				}
				return json.NewEncoder(out).Encode(map[string]any{"role": role, "losses": losses})
			}
			for _, e := range history {
				if e.Valid {
					fmt.Fprintln(out, strconv.FormatFloat(e.Loss, 'g', -1, 64))
				} else {
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("role", string(agent.RoleDefender), "Attacker or Defender")
	addStoreFlags(cmd)
	return cmd
}

func parseRole(s string) (agent.Role, error) {
	for _, r := range []agent.Role{agent.RoleAttacker, agent.RoleDefender} {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q (want Attacker or Defender)", s)
}
