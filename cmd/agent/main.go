package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Interview/internal/agent"
	"github.com/dkeye/Interview/internal/config"
	"github.com/dkeye/Interview/internal/domain"
)

var (
	flagRoom      string
	flagServer    string
	flagName      string
	flagMuteAudio bool
	flagMuteVideo bool
)

var rootCmd = &cobra.Command{
	Use:   "agent --room <room-id>",
	Short: "Join an interview room as a headless participant",
	Long: `Passes the room checkpoint, joins the room over the signaling channel and
receives the video of every other participant until interrupted.

Examples:
  agent --room backend-42
  agent --room backend-42 --server https://interview.example --name Proctor`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "room to join")
	rootCmd.Flags().StringVarP(&flagServer, "server", "s", "", "server base url (default agent.server_url)")
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name (default agent.display_name)")
	rootCmd.Flags().BoolVar(&flagMuteAudio, "mute-audio", true, "declare audio muted at the checkpoint")
	rootCmd.Flags().BoolVar(&flagMuteVideo, "mute-video", true, "declare video muted at the checkpoint")
	_ = rootCmd.MarkFlagRequired("room")
}

func runAgent(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ac := agent.Config{
		ServerURL:          cfg.Agent.ServerURL,
		Room:               domain.RoomID(flagRoom),
		DisplayName:        cfg.Agent.DisplayName,
		MuteAudio:          cfg.Agent.MuteAudio,
		MuteVideo:          cfg.Agent.MuteVideo,
		ICEServers:         cfg.ICEServers,
		NegotiationTimeout: cfg.NegotiationTimeout,
		MaxRecreate:        cfg.MaxRecreate,
	}
	if flagServer != "" {
		ac.ServerURL = flagServer
	}
	if flagName != "" {
		ac.DisplayName = flagName
	}
	if cmd.Flags().Changed("mute-audio") {
		ac.MuteAudio = flagMuteAudio
	}
	if cmd.Flags().Changed("mute-video") {
		ac.MuteVideo = flagMuteVideo
	}

	a, err := agent.New(ac)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.Run(ctx)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("agent failed")
		os.Exit(1)
	}
}
