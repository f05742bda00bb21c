// Command recorder replays a WAV file through the audio recorder, re-encodes
// it for upload and runs it through the consultation API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/jwalitptl/consult-api/internal/audio"
	"github.com/jwalitptl/consult-api/internal/client"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/logger"
)

// readPassword is swapped out in tests
var readPassword = term.ReadPassword

type options struct {
	Server   string
	Username string
	Password string

	File          string
	Realtime      bool
	MaxDuration   time.Duration
	SampleRate    int
	NoCompression bool
	MaxBytes      int64
	MaxBodyBytes  int64

	PatientID string
	FirstName string
	LastName  string
	Age       int
	Gender    string

	Timeout      time.Duration
	PollInterval time.Duration
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("recorder", pflag.ContinueOnError)
	fs.StringVarP(&opts.Server, "server", "s", "http://localhost:5000", "consultation API base URL")
	fs.StringVarP(&opts.Username, "username", "u", "", "doctor username")
	fs.StringVarP(&opts.File, "file", "f", "", "16-bit PCM WAV file to record from")
	fs.BoolVar(&opts.Realtime, "realtime", false, "replay the file at playback speed")
	fs.DurationVar(&opts.MaxDuration, "max-duration", 0, "stop recording after this long (0 records the whole file)")
	fs.IntVar(&opts.SampleRate, "sample-rate", audio.TargetSampleRate, "upload sample rate")
	fs.BoolVar(&opts.NoCompression, "no-compression", false, "skip dynamic range compression")
	fs.Int64Var(&opts.MaxBytes, "max-bytes", audio.DefaultMaxPayloadBytes, "refuse recordings above this size")
	fs.Int64Var(&opts.MaxBodyBytes, "max-body-bytes", middleware.DefaultMaxBodySize, "server request body limit; caps the base64 upload")
	fs.StringVar(&opts.PatientID, "patient", "", "existing patient UUID; creates a patient when empty")
	fs.StringVar(&opts.FirstName, "first-name", "", "new patient first name")
	fs.StringVar(&opts.LastName, "last-name", "", "new patient last name")
	fs.IntVar(&opts.Age, "age", 0, "new patient age")
	fs.StringVar(&opts.Gender, "gender", model.GenderOther, "new patient gender (male, female, other)")
	fs.DurationVar(&opts.Timeout, "timeout", 3*time.Minute, "HTTP timeout per request")
	fs.DurationVar(&opts.PollInterval, "poll-interval", client.DefaultPollInterval, "status poll interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.File == "" {
		return nil, errors.New("--file is required")
	}
	if opts.Username == "" {
		return nil, errors.New("--username is required")
	}
	if opts.PatientID == "" && (opts.FirstName == "" || opts.LastName == "") {
		return nil, errors.New("--first-name and --last-name are required without --patient")
	}
	return opts, nil
}

func promptPassword(w io.Writer) (string, error) {
	if pw := os.Getenv("CONSULT_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(w, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func main() {
	l := logger.NewLogger(&logger.Config{Level: logger.InfoLevel, TimeFormat: time.Kitchen, Output: os.Stderr, Console: true})
	l.SetGlobal()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	if opts.Password, err = promptPassword(os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("no password")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, opts, l)
	if err != nil {
		log.Fatal().Err(err).Msg("recording failed")
	}
	printResult(os.Stdout, result)
	if result.Status == model.StatusFailed {
		os.Exit(1)
	}
}

func record(ctx context.Context, opts *options, l *logger.Logger) (*audio.Payload, error) {
	device := newDrainDevice(&audio.FileDevice{Path: opts.File, Realtime: opts.Realtime})
	rec := audio.NewRecorder(device, audio.Options{
		OnTick: func(elapsed time.Duration) {
			l.Debug("recording", "elapsed", elapsed.String())
		},
	})

	if err := rec.Start(ctx); err != nil {
		return nil, err
	}

	var limit <-chan time.Time
	if opts.MaxDuration > 0 {
		timer := time.NewTimer(opts.MaxDuration)
		defer timer.Stop()
		limit = timer.C
	}

	select {
	case <-device.Drained():
		// the last chunk may still be on its way into the buffer
		for rec.Buffered()+rec.Dropped() < device.Sent() {
			select {
			case <-ctx.Done():
				rec.Reset()
				return nil, ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
	case <-limit:
	case <-ctx.Done():
		rec.Reset()
		return nil, ctx.Err()
	}

	return rec.Stop()
}

func run(ctx context.Context, opts *options, l *logger.Logger) (*model.Consultation, error) {
	payload, err := record(ctx, opts, l)
	if err != nil {
		return nil, err
	}
	if payload.Empty() {
		return nil, errors.New("nothing was recorded")
	}

	wav, err := audio.Prepare(payload, audio.PrepareOptions{
		SampleRate:    opts.SampleRate,
		NoCompression: opts.NoCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}
	if err := audio.CheckSize(int64(len(wav)), audio.UploadLimit(opts.MaxBytes, opts.MaxBodyBytes)); err != nil {
		return nil, err
	}
	seconds := int(payload.Duration().Round(time.Second) / time.Second)
	l.Info("recording ready", "seconds", seconds, "bytes", len(wav))

	api, err := client.New(client.Config{
		BaseURL:      strings.TrimRight(opts.Server, "/"),
		Timeout:      opts.Timeout,
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		return nil, err
	}

	user, err := api.Login(ctx, opts.Username, opts.Password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	defer func() {
		if err := api.Logout(context.WithoutCancel(ctx)); err != nil {
			l.Warn("logout failed", "error", err.Error())
		}
	}()
	l.Info("logged in", "user", user.Username)

	patientID, err := resolvePatient(ctx, api, opts)
	if err != nil {
		return nil, err
	}

	cons, err := api.CreateConsultation(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to create consultation: %w", err)
	}
	l.Info("consultation created", "consultation_id", cons.ID.String())

	uploaded, uploadErr := api.UploadAudio(ctx, cons.ID, wav, seconds)
	if uploadErr != nil {
		var apiErr *client.APIError
		if !errors.As(uploadErr, &apiErr) {
			return nil, fmt.Errorf("upload failed: %w", uploadErr)
		}
		// the server keeps the consultation and records why it failed
		l.Warn("upload rejected", "status", apiErr.StatusCode, "message", apiErr.Message)
		return api.GetConsultation(ctx, cons.ID)
	}
	if uploaded.Status != model.StatusProcessing {
		return uploaded, nil
	}
	return api.WaitForResult(ctx, cons.ID)
}

func resolvePatient(ctx context.Context, api *client.Client, opts *options) (uuid.UUID, error) {
	if opts.PatientID != "" {
		id, err := uuid.Parse(opts.PatientID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid patient id: %w", err)
		}
		return id, nil
	}

	age := opts.Age
	p, err := api.CreatePatient(ctx, &model.CreatePatientRequest{
		FirstName: opts.FirstName,
		LastName:  opts.LastName,
		Age:       &age,
		Gender:    opts.Gender,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create patient: %w", err)
	}
	return p.ID, nil
}

func printResult(w io.Writer, c *model.Consultation) {
	fmt.Fprintf(w, "consultation %s: %s\n", c.ID, c.Status)
	if c.Error != nil {
		fmt.Fprintf(w, "error: %s\n", *c.Error)
	}
	if c.Transcription.Valid() {
		fmt.Fprintf(w, "%s\n", c.Transcription)
	}
}
