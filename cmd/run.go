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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/logrunner/config"
	"github.com/cardinalhq/logrunner/internal/awsclient"
	"github.com/cardinalhq/logrunner/internal/azureclient"
	"github.com/cardinalhq/logrunner/internal/batcher"
	"github.com/cardinalhq/logrunner/internal/continuation"
	"github.com/cardinalhq/logrunner/internal/forwarder"
	"github.com/cardinalhq/logrunner/internal/logctx"
	"github.com/cardinalhq/logrunner/internal/objstore"
	"github.com/cardinalhq/logrunner/internal/offsets"
	"github.com/cardinalhq/logrunner/internal/queue"
	"github.com/cardinalhq/logrunner/internal/replay"
	"github.com/cardinalhq/logrunner/internal/shipper"
	"github.com/cardinalhq/logrunner/internal/sources"
)

const idleSleep = 2 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the notification and continuing queues and forward records",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "logrunner"
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

			return svc.runLoop(doneCtx)
		},
	}

	rootCmd.AddCommand(cmd)
}

// service holds the wired pipeline for the polling loop.
type service struct {
	cfg *config.Config

	notificationQ queue.Queue
	continuingQ   queue.Queue

	factory  *sources.Factory
	fwd      *forwarder.Forwarder
	tracker  *offsets.Tracker
	pgstore  *offsets.PGStore
	replayer *replay.Manager
}

func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	svc := &service{cfg: cfg}

	var store objstore.Client
	var kin *awsclient.KinesisClient
	var replayQ queue.Queue

	switch cfg.Queues.Backend {
	case "azure":
		mgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, err
		}
		blob, err := mgr.GetBlob(ctx,
			azureclient.WithBlobStorageAccount(cfg.Azure.StorageAccount),
			azureclient.WithBlobEndpoint(cfg.Azure.BlobEndpoint))
		if err != nil {
			return nil, err
		}
		store = objstore.NewAzureClient(blob)

		for _, q := range []struct {
			name   string
			target *queue.Queue
		}{
			{cfg.Queues.Notification, &svc.notificationQ},
			{cfg.Queues.Continuing, &svc.continuingQ},
			{cfg.Queues.Replay, &replayQ},
		} {
			qc, err := mgr.GetQueue(ctx,
				azureclient.WithQueueStorageAccount(cfg.Queues.StorageAccount),
				azureclient.WithQueueName(q.name))
			if err != nil {
				return nil, err
			}
			*q.target = queue.NewAzureQueue(qc, q.name)
		}

	default:
		opts := []awsclient.ManagerOption{}
		if cfg.AWS.SessionName != "" {
			opts = append(opts, awsclient.WithAssumeRoleSessionName(cfg.AWS.SessionName))
		}
		mgr, err := awsclient.NewManager(ctx, opts...)
		if err != nil {
			return nil, err
		}

		s3opts := []awsclient.S3Option{
			awsclient.WithS3Region(cfg.AWS.Region),
			awsclient.WithS3Role(cfg.AWS.RoleARN),
		}
		if cfg.AWS.S3Endpoint != "" {
			s3opts = append(s3opts, awsclient.WithS3Endpoint(cfg.AWS.S3Endpoint))
		}
		s3c, err := mgr.GetS3(ctx, s3opts...)
		if err != nil {
			return nil, err
		}
		store = objstore.NewS3Client(s3c)

		kin, err = mgr.GetKinesis(ctx,
			awsclient.WithKinesisRegion(cfg.AWS.Region),
			awsclient.WithKinesisRole(cfg.AWS.RoleARN))
		if err != nil {
			return nil, err
		}

		sqsc, err := mgr.GetSQS(ctx,
			awsclient.WithSQSRegion(cfg.AWS.Region),
			awsclient.WithSQSRole(cfg.AWS.RoleARN))
		if err != nil {
			return nil, err
		}
		svc.notificationQ = queue.NewSQSQueue(sqsc, cfg.Queues.Notification)
		svc.continuingQ = queue.NewSQSQueue(sqsc, cfg.Queues.Continuing)
		replayQ = queue.NewSQSQueue(sqsc, cfg.Queues.Replay)
	}

	var offsetStore offsets.Store
	if cfg.Offsets.DSN != "" {
		pg, err := offsets.NewPGStore(ctx, cfg.Offsets.DSN)
		if err != nil {
			return nil, err
		}
		svc.pgstore = pg
		offsetStore = pg
	} else {
		slog.Warn("no offsets.dsn configured, tracking progress in memory only")
		offsetStore = offsets.NewMemStore()
	}
	svc.tracker = offsets.NewTracker(offsetStore,
		offsets.WithCompletedTTL(cfg.Offsets.CompletedTTL))

	// Decode settings come from the first configured input; additional
	// inputs refine per-source behavior as they are matched by type.
	settings := sources.Settings{}
	if len(cfg.Inputs) > 0 {
		var err error
		settings, err = cfg.Inputs[0].Settings()
		if err != nil {
			return nil, err
		}
	}
	svc.factory = sources.NewFactory(store, kin, settings)

	svc.replayer = replay.NewManager(replayQ,
		replay.WithMaxAttempts(cfg.Replay.MaxAttempts),
		replay.WithReplayPermanent(cfg.Replay.ReplayPermanent))

	sink := shipper.New(shipper.NewBulkClient(cfg.Output.Endpoint, cfg.Output.APIKey))
	svc.fwd = forwarder.New(
		svc.tracker,
		sink,
		svc.replayer,
		continuation.NewEnqueuer(svc.continuingQ),
		forwarder.WithBatchOptions(
			batcher.WithMaxActions(cfg.Output.MaxActions),
			batcher.WithMaxBytes(cfg.Output.MaxBytes)))

	return svc, nil
}

func (s *service) close() {
	if s.tracker != nil {
		s.tracker.Stop()
	}
	if s.pgstore != nil {
		s.pgstore.Close()
	}
}

// runLoop runs budgeted passes until the context is cancelled. Each pass
// works the continuing queue first so interrupted sources finish before new
// notifications start.
func (s *service) runLoop(ctx context.Context) error {
	ll := slog.Default()
	ll.Info("starting forwarding loop",
		"passTimeout", s.cfg.Budget.PassTimeout.String(),
		"grace", s.cfg.Budget.Grace.String())

	for {
		if err := ctx.Err(); err != nil {
			ll.Info("shutting down forwarding loop")
			return nil
		}

		worked, err := s.runPass(ctx)
		if err != nil {
			ll.Error("pass finished with errors", slog.Any("error", err))
		}
		if !worked {
			select {
			case <-ctx.Done():
			case <-time.After(idleSleep):
			}
		}
	}
}

// runPass leases and processes messages under one budget. Returns whether
// any message was handled.
func (s *service) runPass(ctx context.Context) (bool, error) {
	passID := fmt.Sprintf("%s-%d", myInstanceID, time.Now().UnixNano())
	deadline := time.Now().Add(s.cfg.Budget.PassTimeout)
	budget := continuation.NewBudget(deadline, continuation.WithGrace(s.cfg.Budget.Grace))

	passCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	passCtx = logctx.With(passCtx, "pass", passID)

	var errs *multierror.Error
	worked := false

	for _, stage := range []struct {
		q            queue.Queue
		continuation bool
	}{
		{s.continuingQ, true},
		{s.notificationQ, false},
	} {
		for !budget.Exhausted() {
			msgs, err := stage.q.Receive(passCtx, 10, s.cfg.Queues.Visibility)
			if err != nil {
				errs = multierror.Append(errs, err)
				break
			}
			if len(msgs) == 0 {
				break
			}
			for _, msg := range msgs {
				worked = true
				if err := s.handleMessage(passCtx, stage.q, msg, budget, stage.continuation); err != nil {
					errs = multierror.Append(errs, err)
				}
			}
		}
	}

	if !budget.Exhausted() {
		res, err := s.fwd.ReplayPass(passCtx, budget, s.cfg.Queues.Visibility)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if res.Shipped+res.Requeued+res.Dropped > 0 {
			worked = true
			logctx.FromContext(passCtx).Info("replay pass finished",
				"shipped", res.Shipped, "requeued", res.Requeued, "dropped", res.Dropped)
		}
	}

	return worked, errs.ErrorOrNil()
}

// handleMessage turns one queue message into source passes. The message is
// deleted only when every source it names is settled; otherwise it stays
// leased and redelivers.
func (s *service) handleMessage(ctx context.Context, q queue.Queue, msg queue.Message, budget *continuation.Budget, fromContinuing bool) error {
	envelopes, originalID, err := s.decodeMessage(msg, fromContinuing)
	if err != nil {
		// A message that cannot be parsed never will be; drop it loudly.
		logctx.FromContext(ctx).Error("dropping unparseable message",
			"messageID", msg.ID, "error", err.Error())
		return q.Delete(ctx, msg.Receipt)
	}

	for _, env := range envelopes {
		src, err := s.factory.FromEnvelope(env)
		if err != nil {
			return err
		}
		res, err := s.fwd.Process(ctx, src, budget, originalID)
		if err != nil {
			return fmt.Errorf("process %s: %w", src.Identity(), err)
		}
		logctx.FromContext(ctx).Info("source pass finished",
			"identity", res.Identity.Key(),
			"disposition", string(res.Disposition),
			"shipped", res.Shipped,
			"requeued", res.Requeued,
			"dropped", res.Dropped)
	}

	return q.Delete(ctx, msg.Receipt)
}

// decodeMessage extracts source envelopes from a queue message. Continuing
// messages carry serialized continuation state; notification messages carry
// storage notifications.
func (s *service) decodeMessage(msg queue.Message, fromContinuing bool) ([]sources.Envelope, string, error) {
	if fromContinuing {
		state, err := continuation.Decode(msg.Body)
		if err != nil {
			return nil, "", err
		}
		originalID := state.OriginalMessageID
		if originalID == "" {
			originalID = msg.ID
		}
		return []sources.Envelope{state.Envelope}, originalID, nil
	}

	// Typed envelopes arrive from trigger layers that already resolved the
	// source variant (stream fan-in, subscription forwarders).
	var env sources.Envelope
	if err := json.Unmarshal(msg.Body, &env); err == nil && env.Type != "" {
		if err := env.Validate(); err != nil {
			return nil, "", err
		}
		return []sources.Envelope{env}, msg.ID, nil
	}

	events, err := sources.ParseObjectNotifications(msg.Body)
	if err != nil {
		return nil, "", err
	}
	envelopes := make([]sources.Envelope, 0, len(events))
	for i := range events {
		envelopes = append(envelopes, sources.Envelope{
			Type:        sources.TypeObjectStore,
			ObjectStore: &events[i],
		})
	}
	return envelopes, msg.ID, nil
}
