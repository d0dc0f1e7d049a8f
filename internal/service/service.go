package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/devicelab/sessiond/api"
	"github.com/devicelab/sessiond/internal/conn"
	"github.com/devicelab/sessiond/internal/crashlog"
	"github.com/devicelab/sessiond/internal/environment"
	"github.com/devicelab/sessiond/internal/session"
	"github.com/devicelab/sessiond/internal/session/natsgath"
)

// DisconnectSubject is the NATS subject operators publish disconnect
// requests to.
const DisconnectSubject = "sessiond.disconnect"

// Service is the long-running worker: it receives session requests from an
// SQS queue, runs each session, and streams session events over NATS.
type Service struct {
	sqsClient *sqs.Client
	queueUrl  string
	nc        *nats.Conn
	crashes   *crashlog.Store
	defaults  environment.Defaults
	log       *slog.Logger

	// live sessions by uuid, for routing disconnect requests
	sessions *xsync.MapOf[string, *session.Session]
	// SQS redeliveries of messages still being processed
	inflight mapset.Set[string]
}

func New(sqsClient *sqs.Client, queueUrl string, nc *nats.Conn,
	crashes *crashlog.Store, defaults environment.Defaults, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		sqsClient: sqsClient,
		queueUrl:  queueUrl,
		nc:        nc,
		crashes:   crashes,
		defaults:  defaults,
		log:       log,
		sessions:  xsync.NewMapOf[string, *session.Session](),
		inflight:  mapset.NewSet[string](),
	}
}

// Run blocks, processing session requests until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sub, err := s.nc.Subscribe(DisconnectSubject, s.handleDisconnect)
	if err != nil {
		return fmt.Errorf("failed to subscribe to disconnect subject: %w", err)
	}
	defer sub.Unsubscribe()

	s.log.Info("worker started", "queue", s.queueUrl)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		output, err := s.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueUrl),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     5,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("failed to receive messages", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, message := range output.Messages {
			s.handleMessage(ctx, message)
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, message types.Message) {
	msgID := aws.ToString(message.MessageId)
	if !s.inflight.Add(msgID) {
		// Redelivery of a message a session is still running for.
		s.log.Warn("ignoring duplicate delivery", "message_id", msgID)
		return
	}

	var req api.SessionReq
	if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &req); err != nil {
		s.log.Error("failed to unmarshal session request", "error", err)
		s.inflight.Remove(msgID)
		s.deleteMessage(ctx, message)
		return
	}

	go func() {
		defer s.inflight.Remove(msgID)
		s.runSession(ctx, req)
		s.deleteMessage(ctx, message)
	}()
}

func (s *Service) runSession(ctx context.Context, req api.SessionReq) {
	timeout := s.defaults.Timeout()
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	inbox := req.ResInbox
	if inbox == "" {
		inbox = "sessiond.events." + req.SessionUuid
	}

	sess := session.New(session.Config{
		ID:               req.SessionUuid,
		Timeout:          timeout,
		HostProcess:      req.HostProcess,
		CrashWindow:      s.defaults.CrashWindow(),
		CorrelatorBudget: s.defaults.CorrelatorBudget(),
		Correlator:       s.crashes,
		Gatherer:         natsgath.New(s.nc, req.SessionUuid, inbox, timeout),
		Sources: []session.Source{
			conn.NewBundleMonitor(req.BundleAddr, s.defaults.DialTimeout(), s.log),
			conn.NewDaemonMonitor(req.DaemonAddr, s.defaults.DialTimeout(), s.log),
		},
		Logger: s.log,
	})

	if _, loaded := s.sessions.LoadOrStore(req.SessionUuid, sess); loaded {
		s.log.Warn("session uuid already running, skipping", "session", req.SessionUuid)
		return
	}
	defer s.sessions.Delete(req.SessionUuid)

	res, err := sess.Run(ctx)
	if err != nil {
		s.log.Error("failed to run session", "session", req.SessionUuid, "error", err)
		return
	}
	s.log.Info("session done", "session", req.SessionUuid, "kind", string(res.Kind()))
}

func (s *Service) deleteMessage(ctx context.Context, message types.Message) {
	_, err := s.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueUrl),
		ReceiptHandle: message.ReceiptHandle,
	})
	if err != nil {
		s.log.Error("failed to delete message", "error", err)
	}
}

func (s *Service) handleDisconnect(msg *nats.Msg) {
	var req api.DisconnectRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Error("failed to unmarshal disconnect request", "error", err)
		return
	}
	sess, ok := s.sessions.Load(req.SessionUuid)
	if !ok {
		s.log.Warn("disconnect requested for unknown session", "session", req.SessionUuid)
		return
	}
	accepted := sess.RequestDisconnect()
	s.log.Info("disconnect requested", "session", req.SessionUuid, "accepted", accepted)
}
