package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/schedule-live/internal/live"
)

type outbound struct {
	Type string `json:"type"`
	Date string `json:"date,omitempty"`
}

// liveURL turns the HTTP base URL into the /ws endpoint for one identity.
func liveURL(baseURL, tenantID, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("tenantId", tenantID)
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func watchCmd() *cobra.Command {
	var (
		tenantID  string
		userID    string
		date      string
		heartbeat time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect as a live client and print every message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			if userID == "" {
				userID = "probe-" + uuid.NewString()
			}

			target, err := liveURL(cfg.Probe.BaseURL, tenantID, userID)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			dialer := websocket.Dialer{HandshakeTimeout: cfg.Probe.Timeout}
			conn, _, err := dialer.DialContext(ctx, target, nil)
			if err != nil {
				return fmt.Errorf("dialing %s: %w", target, err)
			}
			defer conn.Close()

			logger.Info("connected",
				zap.String("tenantId", tenantID),
				zap.String("userId", userID),
			)

			if date != "" {
				if err := conn.WriteJSON(outbound{Type: live.MsgDateChange, Date: date}); err != nil {
					return fmt.Errorf("sending date change: %w", err)
				}
			}

			return watch(ctx, conn, heartbeat, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to subscribe to")
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&date, "date", "", "switch to this day (YYYY-MM-DD) after connecting")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 20*time.Second, "heartbeat interval")
	return cmd
}

// errClosed ends the errgroup when the server closes the socket.
var errClosed = errors.New("closed by server")

// liveConn is the part of *websocket.Conn the watch loops use.
type liveConn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (int, []byte, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// watch prints every frame from conn to out and heartbeats every interval
// until ctx is done, the server closes the socket or either side fails.
func watch(ctx context.Context, conn liveConn, interval time.Duration, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return heartbeatLoop(gctx, conn, interval) })
	g.Go(func() error { return readFrames(gctx, conn, out) })

	if err := g.Wait(); err != nil && !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

// heartbeatLoop is the sole writer after the handshake.
func heartbeatLoop(ctx context.Context, conn liveConn, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe exiting")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			return nil
		case <-ticker.C:
			if err := conn.WriteJSON(outbound{Type: live.MsgHeartbeat}); err != nil {
				// unblocks the reader
				_ = conn.Close()
				return fmt.Errorf("sending heartbeat: %w", err)
			}
		}
	}
}

func readFrames(ctx context.Context, conn liveConn, out io.Writer) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				logger.Info("connection closed",
					zap.Int("code", closeErr.Code),
					zap.String("reason", closeErr.Text),
				)
				return errClosed
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading: %w", err)
		}
		printMessage(out, msg)
	}
}

func printMessage(out io.Writer, msg []byte) {
	var head struct {
		Type         string            `json:"type"`
		Appointments []json.RawMessage `json:"appointments"`
		Updates      []json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(msg, &head); err == nil {
		logger.Debug("message",
			zap.String("type", head.Type),
			zap.Int("appointments", len(head.Appointments)),
			zap.Int("updates", len(head.Updates)),
		)
	}
	fmt.Fprintln(out, string(msg))
}
