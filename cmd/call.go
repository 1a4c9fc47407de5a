package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/client/media"
	"github.com/vantu-dev/pairlink/internal/client/quality"
	"github.com/vantu-dev/pairlink/internal/client/rtc"
	"github.com/vantu-dev/pairlink/internal/client/session"
	"github.com/vantu-dev/pairlink/internal/client/signaling"
	sigmsg "github.com/vantu-dev/pairlink/internal/signal"
)

var callOpts struct {
	server   string
	room     string
	username string
	password string
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a room from the terminal",
	Long: `Join a room as a headless participant. Outbound video is a synthetic
test pattern; chat lines are read from stdin. Commands: /share, /camera,
/blur, /mute, /unmute, /camoff, /camon, /quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd.Context())
	},
}

func init() {
	callCmd.Flags().StringVar(&callOpts.server, "server", "http://localhost:3000", "server base URL")
	callCmd.Flags().StringVar(&callOpts.room, "room", "", "room to join")
	callCmd.Flags().StringVar(&callOpts.username, "username", "", "account username")
	callCmd.Flags().StringVar(&callOpts.password, "password", "", "account password")
	_ = callCmd.MarkFlagRequired("room")
	_ = callCmd.MarkFlagRequired("username")
	_ = callCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(callCmd)
}

func runCall(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	token, err := login(ctx, callOpts.server, callOpts.username, callOpts.password)
	if err != nil {
		return err
	}

	userID, err := whoami(ctx, callOpts.server, token)
	if err != nil {
		return err
	}

	iceServers, err := fetchICEServers(ctx, callOpts.server, token)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(callOpts.server, "http", "ws", 1) + "/api/v1/ws"
	conn, err := signaling.Dial(ctx, wsURL, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	audio, err := media.NewAudioSender(media.NewSilenceSource())
	if err != nil {
		return err
	}
	defer audio.Close()

	sess, err := session.New(session.Config{
		RoomID:       callOpts.room,
		UserID:       userID,
		Username:     callOpts.username,
		Signaler:     conn,
		NewTransport: rtc.Factory(rtc.Config{ICEServers: iceServers}, nil),
		NewMedia:     newSyntheticPipeline,
		AudioTrack:   audio.Track(),
		OnStateChange: func(state session.State) {
			fmt.Printf("* call %s\n", state)
		},
		OnQuality: func(sample quality.Sample) {
			fmt.Printf("* quality %s (loss %.1f%%, rtt %s)\n",
				sample.Level, sample.Metrics.LossRatio()*100, sample.Metrics.RTT)
		},
		OnChat: func(chat sigmsg.ChatPayload) {
			fmt.Printf("<%s> %s\n", chat.Username, chat.Text)
		},
	})
	if err != nil {
		return err
	}
	defer sess.Hangup()

	if err := sess.Join(ctx); err != nil {
		return err
	}

	go func() {
		for msg := range conn.Messages() {
			if err := sess.Handle(ctx, msg); err != nil {
				slog.Error("handle message", slog.Any(constant.Error, err))
			}
		}
		cancel()
	}()

	go readCommands(cancel, sess, audio)

	<-ctx.Done()
	return nil
}

func newSyntheticPipeline() (*media.Pipeline, error) {
	const fps = 30

	cameraFrames := media.NewTestPattern(640, 480)

	camera, err := media.NewCameraSource(cameraFrames, media.RawCodec{}, fps)
	if err != nil {
		return nil, err
	}

	return media.NewPipeline(media.PipelineConfig{
		Camera: camera,
		NewScreen: func() (media.Source, error) {
			return media.NewScreenSource(media.NewTestPattern(1280, 720), media.RawCodec{}, fps)
		},
		NewBlur: func() (media.Source, error) {
			return media.NewBlurSource(media.SharedFrames(cameraFrames), media.RawCodec{}, fps, media.DefaultBlurRadius)
		},
	})
}

func readCommands(cancel context.CancelFunc, sess *session.Session, audio *media.AudioSender) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch line {
		case "":
			continue
		case "/quit":
			cancel()
			return
		case "/share":
			err = sess.StartScreenShare()
		case "/camera":
			err = sess.StopScreenShare()
		case "/blur":
			err = sess.Pipeline().SwitchTo(media.SourceBlur)
		case "/mute":
			audio.SetEnabled(false)
		case "/unmute":
			audio.SetEnabled(true)
		case "/camoff":
			err = sess.Pipeline().SetVideoEnabled(false)
		case "/camon":
			err = sess.Pipeline().SetVideoEnabled(true)
		default:
			err = sess.SendChat(line)
		}

		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
}

func login(ctx context.Context, server, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "jwt" {
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("login response carried no token")
}

func whoami(ctx context.Context, server, token string) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := getJSON(ctx, server+"/api/v1/me", token, &me); err != nil {
		return "", err
	}
	return me.ID, nil
}

func fetchICEServers(ctx context.Context, server, token string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if err := getJSON(ctx, server+"/api/v1/ice", token, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func getJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
