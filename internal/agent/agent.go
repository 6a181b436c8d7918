// Package agent runs a headless participant: it passes the checkpoint, joins
// the room over the signaling channel and hands received video to a
// FrameMonitor.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/Interview/internal/adapters/rtc"
	"github.com/dkeye/Interview/internal/client"
	"github.com/dkeye/Interview/internal/core"
	"github.com/dkeye/Interview/internal/domain"
	"github.com/dkeye/Interview/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	signalPath     = "/api/ws/signal"
	requestTimeout = 10 * time.Second
	reportEvery    = 30 * time.Second
)

var ErrCheckpointRejected = errors.New("checkpoint rejected")

type Config struct {
	ServerURL   string
	Room        domain.RoomID
	DisplayName string
	MuteAudio   bool
	MuteVideo   bool

	ICEServers         []string
	NegotiationTimeout time.Duration
	MaxRecreate        int
}

type Option func(*Agent)

// WithMediaFactory replaces the pion transport.
func WithMediaFactory(f core.MediaFactory) Option {
	return func(a *Agent) { a.newTransport = f }
}

type Agent struct {
	cfg          Config
	http         *http.Client
	newTransport core.MediaFactory
	frames       *Fanout
	monitor      *FrameMonitor
	logger       zerolog.Logger
}

func New(cfg Config, opts ...Option) (*Agent, error) {
	if err := domain.ValidateRoomID(cfg.Room); err != nil {
		return nil, err
	}
	if err := domain.ValidateDisplayName(cfg.DisplayName); err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil || cfg.ServerURL == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.ServerURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	servers := cfg.ICEServers
	if len(servers) == 0 {
		servers = rtc.DefaultICEServers
	}
	frames := NewFanout()
	a := &Agent{
		cfg:          cfg,
		http:         &http.Client{Jar: jar, Timeout: requestTimeout},
		newTransport: rtc.Factory(rtc.WebRTCConfig(servers)),
		frames:       frames,
		monitor:      NewFrameMonitor(frames),
		logger:       log.With().Str("module", "agent").Str("room", string(cfg.Room)).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) Monitor() *FrameMonitor { return a.monitor }

// Frames is where downstream analysis subscribes to received video.
func (a *Agent) Frames() *Fanout { return a.frames }

// Checkpoint declares the agent's display name for the room. The session
// cookie it receives stays in the agent's jar.
func (a *Agent) Checkpoint(ctx context.Context) error {
	endpoint := strings.TrimRight(a.cfg.ServerURL, "/") + "/interview/" + url.PathEscape(string(a.cfg.Room)) + "/checkpoint"
	form := url.Values{}
	form.Set("display_name", a.cfg.DisplayName)
	form.Set("mute_audio", strconv.FormatBool(a.cfg.MuteAudio))
	form.Set("mute_video", strconv.FormatBool(a.cfg.MuteVideo))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("%w: %s %s", ErrCheckpointRejected, resp.Status, body.Error)
	}
	a.logger.Info().Str("name", a.cfg.DisplayName).Msg("checkpoint passed")
	return nil
}

// SignalURL turns the http(s) server url into the ws(s) signaling url.
func (a *Agent) SignalURL() (string, error) {
	u, err := url.Parse(a.cfg.ServerURL)
	if err != nil {
		return "", err
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
	u.Path = strings.TrimRight(u.Path, "/") + signalPath
	return u.String(), nil
}

// Run joins the room and stays until ctx ends or the server closes the
// channel. Every peer session is closed before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Checkpoint(ctx); err != nil {
		return err
	}
	wsURL, err := a.SignalURL()
	if err != nil {
		return err
	}
	ch, err := client.Dial(ctx, wsURL, a.http.Jar)
	if err != nil {
		return err
	}

	rc := client.NewRoomClient(ch, client.RoomOptions{
		NewTransport:       a.newTransport,
		Sink:               a.monitor,
		NegotiationTimeout: a.cfg.NegotiationTimeout,
		MaxRecreate:        a.cfg.MaxRecreate,
		OnSessionState: func(remote domain.ParticipantID, st client.State) {
			a.logger.Debug().Str("peer", string(remote)).Str("state", st.String()).Msg("session state")
			if st == client.StateClosed {
				a.monitor.Forget(remote)
			}
		},
	})
	defer a.frames.Close()
	defer rc.Close()

	if err := ch.Send(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: a.cfg.Room}); err != nil {
		ch.Close()
		return fmt.Errorf("join %s: %w", a.cfg.Room, err)
	}
	a.logger.Info().Msg("joining room")

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	go a.monitor.Report(reportCtx, reportEvery)

	err = ch.Run(ctx, func(msg protocol.Message) {
		if err := rc.Dispatch(msg); err != nil {
			a.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("dispatch")
		}
	})
	a.logger.Info().Err(err).Msg("left room")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
