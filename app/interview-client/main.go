// Command interview-client streams a raw 16 kHz s16le PCM file into a live
// interview and writes the interviewer's 24 kHz audio to a file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yoockh/intervue/config"
	"github.com/yoockh/intervue/internal/audio"
	"github.com/yoockh/intervue/internal/client"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/protocol"
)

const frameDuration = 20 * time.Millisecond

var (
	serverURL  string
	sessionID  string
	token      string
	inputPath  string
	outputPath string
	tail       time.Duration
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "interview-client",
	Short: "Stream a PCM recording into a live interview",
	Long:  `interview-client dials the control channel, connects to a session, streams the input file in 20 ms frames through voice activity detection, and saves the interviewer's audio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionID == "" {
			return errors.New("--session is required")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return run(ctx, logger.New())
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "ws://localhost:8080/ws/interview", "control channel URL")
	rootCmd.Flags().StringVar(&sessionID, "session", "", "interview session id")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("INTERVUE_TOKEN"), "bearer token, when the server requires one")
	rootCmd.Flags().StringVar(&inputPath, "in", "answer.pcm", "16 kHz mono s16le input file")
	rootCmd.Flags().StringVar(&outputPath, "out", "interviewer.pcm", "24 kHz mono s16le output file")
	rootCmd.Flags().DurationVar(&tail, "tail", 6*time.Second, "silence streamed after the input so the detector ends the utterance")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall run time limit")
}

func main() {
	config.LoadEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Logger) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var outMu sync.Mutex
	connected := make(chan struct{})
	complete := make(chan struct{})
	var once, doneOnce sync.Once

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c, err := client.Dial(ctx, serverURL, client.Options{
		Header: header,
		Logger: log,
		AudioSink: func(pcm []byte) {
			outMu.Lock()
			defer outMu.Unlock()
			if _, err := out.Write(pcm); err != nil {
				log.WithError(err).Warn("write output audio failed")
			}
		},
		OnTranscript: func(t protocol.Transcript, partial bool) {
			if !partial {
				fmt.Printf("[%s] %s\n", t.Speaker, t.Text)
			}
		},
		OnMessage: func(m protocol.ServerMessage) {
			switch m.Type {
			case protocol.TypeConnected:
				once.Do(func() { close(connected) })
			case protocol.TypeQuestionChanged:
				if m.Question != nil {
					fmt.Printf("-- question %d: %s\n", m.QuestionIndex+1, m.Question.Text)
				}
			case protocol.TypeInterviewComplete, protocol.TypeDisconnected:
				doneOnce.Do(func() { close(complete) })
			}
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	readErr := make(chan error, 1)
	go func() { readErr <- c.Run(ctx) }()

	if err := c.Connect(sessionID); err != nil {
		return err
	}
	select {
	case <-connected:
	case err := <-readErr:
		return fmt.Errorf("connection ended before the session connected: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
	log.WithField("session_id", sessionID).Info("connected; streaming answer")

	if err := stream(ctx, c, in); err != nil {
		return err
	}

	select {
	case <-complete:
	case err := <-readErr:
		return err
	case <-ctx.Done():
	}
	return nil
}

// stream paces the input file in real time, followed by tail of silence.
func stream(ctx context.Context, c *client.Client, in io.Reader) error {
	frameBytes := int(audio.InputSampleRate*frameDuration/time.Second) * 2
	buf := make([]byte, frameBytes)
	silence := make([]float32, frameBytes/2)
	tailFrames := int(tail / frameDuration)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	eof := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !eof {
			n, err := io.ReadFull(in, buf)
			if n > 0 {
				c.Pipeline.HandleFrame(audio.PCM16ToFloat(buf[:n-n%2]))
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				eof = true
				continue
			}
			if err != nil {
				return err
			}
			continue
		}
		if tailFrames == 0 {
			return nil
		}
		tailFrames--
		c.Pipeline.HandleFrame(silence)
	}
}
