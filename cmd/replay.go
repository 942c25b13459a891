// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/logrunner/config"
	"github.com/cardinalhq/logrunner/internal/continuation"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Drain the replay queue once and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "logrunner-replay"
			doneCtx, doneFx, err := setupTelemetry(servicename)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			svc, err := newService(doneCtx, cfg)
			if err != nil {
				return err
			}
			defer svc.close()

			budget := continuation.NewBudget(time.Now().Add(cfg.Budget.PassTimeout),
				continuation.WithGrace(cfg.Budget.Grace))
			res, err := svc.fwd.ReplayPass(doneCtx, budget, cfg.Queues.Visibility)
			if err != nil {
				return err
			}
			slog.Info("replay drain finished",
				"shipped", res.Shipped, "requeued", res.Requeued, "dropped", res.Dropped)
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
