package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/setup"
	"github.com/snarg/meetscribe/internal/summary"
	"github.com/snarg/meetscribe/internal/transcribe"
)

const usage = `usage: scribectl <command> [args]

  models                      list models with configured/active flags
  use <model>                 select the active model
  set-key <group> [secret]    store an API key; no secret clears it
  transcribe <file> [model]   transcribe a local recording
  summarize <transcript.txt>  summarize a transcript file
  jobs [failures]             job counts by status (or failed by kind)
  purge <duration> [apply]    delete finished jobs older than duration
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		fatalf("config: %v", err)
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(max(level, zerolog.WarnLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := setup.OpenState(ctx, cfg, log)
	if err != nil {
		fatalf("%v", err)
	}
	defer state.Close()

	engine, err := setup.NewEngine(cfg, state.Prefs, log)
	if err != nil {
		fatalf("%v", err)
	}
	defer engine.Close()

	args := os.Args[2:]
	switch os.Args[1] {
	case "models":
		err = listModels(ctx, engine.Router)
	case "use":
		if len(args) != 1 {
			fatalf("usage: scribectl use <model>")
		}
		if err = engine.Router.SetActiveModel(ctx, args[0]); err == nil {
			fmt.Printf("active model: %s\n", args[0])
		}
	case "set-key":
		if len(args) < 1 {
			fatalf("usage: scribectl set-key <group> [secret]")
		}
		secret := ""
		if len(args) > 1 {
			secret = args[1]
		}
		if err = engine.Router.SetCredential(ctx, args[0], secret); err == nil {
			fmt.Printf("credential %s: configured=%t\n", args[0], secret != "")
		}
	case "transcribe":
		if len(args) < 1 {
			fatalf("usage: scribectl transcribe <file> [model]")
		}
		model := ""
		if len(args) > 1 {
			model = args[1]
		}
		err = transcribeFile(ctx, engine.Router, args[0], model)
	case "summarize":
		if len(args) != 1 {
			fatalf("usage: scribectl summarize <transcript.txt>")
		}
		gen := summary.New(summary.Options{
			Model:       cfg.SummaryModel,
			BaseURL:     cfg.Providers.Gemini,
			Credentials: engine.Credentials,
			Log:         log,
		})
		err = summarizeFile(ctx, gen, args[0])
	case "jobs":
		err = jobCounts(ctx, state, len(args) > 0 && args[0] == "failures")
	case "purge":
		if len(args) < 1 {
			fatalf("usage: scribectl purge <duration> [apply]")
		}
		err = purge(ctx, state, args[0], len(args) > 1 && args[1] == "apply")
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		if k := transcribe.KindOf(err); k != 0 {
			fatalf("%s: %v", k, err)
		}
		fatalf("%v", err)
	}
}

func listModels(ctx context.Context, r *transcribe.Router) error {
	fmt.Printf("%-32s %-22s %-16s %-10s %-10s %s\n", "ID", "FAMILY", "PROVIDER", "AVAILABLE", "CONFIGURED", "")
	fmt.Println(strings.Repeat("─", 100))
	for _, m := range r.Models(ctx) {
		marker := ""
		if m.Active {
			marker = "* active"
		}
		fmt.Printf("%-32s %-22s %-16s %-10t %-10t %s\n", m.ID, m.Family, m.Provider, m.Available, m.Configured, marker)
	}
	return nil
}

func transcribeFile(ctx context.Context, r *transcribe.Router, path, model string) error {
	src := audio.NewFile(path)
	if _, err := audio.Check(ctx, src); err != nil {
		return err
	}
	res, err := r.Transcribe(ctx, transcribe.Request{
		Audio:   src,
		ModelID: model,
		OnProgress: func(ev transcribe.ProgressEvent) {
			fmt.Fprintf(os.Stderr, "\r%-10s %3d%% %s", ev.Phase, ev.Progress, ev.Message)
			if ev.Phase.Terminal() {
				fmt.Fprintln(os.Stderr)
			}
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "model=%s provider=%s took=%s segments=%d\n",
		res.Model, res.Provider, res.ProcessingTime().Round(time.Millisecond), len(res.Segments))
	if len(res.Segments) == 0 {
		fmt.Println(res.Text)
		return nil
	}
	for _, s := range res.Segments {
		fmt.Printf("[%s → %s] %s\n", clock(s.Start), clock(s.End), s.Text)
	}
	return nil
}

func summarizeFile(ctx context.Context, gen *summary.Generator, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := gen.Summarize(ctx, string(text))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func jobCounts(ctx context.Context, state *setup.State, failures bool) error {
	if state.DB == nil {
		return fmt.Errorf("job history requires DATABASE_URL")
	}
	counts, err := state.DB.CountJobs(ctx, failures)
	if err != nil {
		return err
	}
	header := "Status"
	if failures {
		header = "Error kind"
	}
	fmt.Printf("%-25s Count\n", header)
	fmt.Println("─────────────────────────────────")
	for _, c := range counts {
		fmt.Printf("%-25s %d\n", c.Key, c.Count)
	}
	return nil
}

func purge(ctx context.Context, state *setup.State, arg string, apply bool) error {
	if state.DB == nil {
		return fmt.Errorf("job history requires DATABASE_URL")
	}
	retention, err := parseRetention(arg)
	if err != nil {
		return err
	}
	if !apply {
		fmt.Printf("would delete finished jobs older than %s (re-run with 'apply')\n", retention)
		return nil
	}
	n, err := state.DB.PurgeJobsOlderThan(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d jobs\n", n)
	return nil
}

// parseRetention accepts Go durations plus a day suffix ("30d").
func parseRetention(s string) (time.Duration, error) {
	if d, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid retention %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid retention %q", s)
	}
	return d, nil
}

func clock(sec float64) string {
	d := time.Duration(sec * float64(time.Second))
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "scribectl: "+format+"\n", args...)
	os.Exit(1)
}
