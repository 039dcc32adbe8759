// Package ingest imports recordings dropped into an inbox directory and
// queues them for transcription.
package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/metrics"
	"github.com/snarg/meetscribe/internal/storage"
	"github.com/snarg/meetscribe/internal/transcribe"
)

const debounce = 500 * time.Millisecond

// Queue accepts transcription jobs. Satisfied by *transcribe.Pool.
type Queue interface {
	Enqueue(j transcribe.Job) (string, error)
}

// InboxOptions configures an Inbox.
type InboxOptions struct {
	Dir   string
	Store storage.RecordingStore
	Queue Queue
	// ModelID pins inbox jobs to one model; empty uses the active model.
	ModelID        string
	AutoTranscribe bool
	Log            zerolog.Logger
}

// InboxStatus is reported by the health endpoint.
type InboxStatus struct {
	Status         string `json:"status"`
	Dir            string `json:"dir"`
	AutoTranscribe bool   `json:"auto_transcribe"`
	FilesImported  int64  `json:"files_imported"`
	FilesQueued    int64  `json:"files_queued"`
	FilesFailed    int64  `json:"files_failed"`
}

// Inbox watches a directory for new recordings. Each file is copied into the
// recording store, removed from the inbox and, when auto-transcribe is on,
// queued for transcription.
type Inbox struct {
	opts InboxOptions
	log  zerolog.Logger
	auto atomic.Bool

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// inflight holds paths being imported so backfill and the watcher never
	// import the same file twice.
	inflightMu sync.Mutex
	inflight   map[string]bool

	imported atomic.Int64
	queued   atomic.Int64
	failed   atomic.Int64
	status   atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// NewInbox creates an inbox watcher. Call Start to begin watching.
func NewInbox(opts InboxOptions) *Inbox {
	in := &Inbox{
		opts:           opts,
		log:            opts.Log.With().Str("component", "inbox").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		inflight:       make(map[string]bool),
	}
	in.auto.Store(opts.AutoTranscribe)
	in.status.Store("starting")
	return in
}

// SetAutoTranscribe toggles whether imported recordings are queued.
func (in *Inbox) SetAutoTranscribe(on bool) {
	in.auto.Store(on)
	in.log.Info().Bool("auto_transcribe", on).Msg("auto-transcribe updated")
}

// AutoTranscribe reports the current toggle.
func (in *Inbox) AutoTranscribe() bool { return in.auto.Load() }

// Start creates the inbox directory if needed, watches it and every
// subdirectory, and imports files that were already waiting.
func (in *Inbox) Start() error {
	if err := os.MkdirAll(in.opts.Dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	in.watcher = w

	dirCount := 0
	err = filepath.WalkDir(in.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			in.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				in.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	in.ctx, in.cancel = context.WithCancel(context.Background())
	in.log.Info().
		Int("directories", dirCount).
		Str("dir", in.opts.Dir).
		Bool("auto_transcribe", in.AutoTranscribe()).
		Msg("inbox watcher initialized")

	in.wg.Add(2)
	go in.watchLoop()
	go in.backfill()
	return nil
}

// Stop closes the watcher and waits for the loops to exit. Pending debounce
// timers are cancelled; their files are picked up by the next backfill.
func (in *Inbox) Stop() {
	in.status.Store("stopped")
	if in.cancel != nil {
		in.cancel()
	}
	if in.watcher != nil {
		in.watcher.Close()
	}
	in.debounceMu.Lock()
	for p, t := range in.debounceTimers {
		t.Stop()
		delete(in.debounceTimers, p)
	}
	in.debounceMu.Unlock()
	in.wg.Wait()
	in.log.Info().
		Int64("files_imported", in.imported.Load()).
		Int64("files_queued", in.queued.Load()).
		Int64("files_failed", in.failed.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (in *Inbox) Status() InboxStatus {
	s, _ := in.status.Load().(string)
	return InboxStatus{
		Status:         s,
		Dir:            in.opts.Dir,
		AutoTranscribe: in.AutoTranscribe(),
		FilesImported:  in.imported.Load(),
		FilesQueued:    in.queued.Load(),
		FilesFailed:    in.failed.Load(),
	}
}

func (in *Inbox) watchLoop() {
	defer in.wg.Done()
	for {
		select {
		case <-in.ctx.Done():
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := in.watcher.Add(event.Name); err != nil {
					in.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !isRecording(event.Name) {
				continue
			}
			in.scheduleImport(event.Name)

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleImport debounces imports so the file is fully written before it
// is read.
func (in *Inbox) scheduleImport(path string) {
	in.debounceMu.Lock()
	defer in.debounceMu.Unlock()

	if t, ok := in.debounceTimers[path]; ok {
		t.Reset(debounce)
		return
	}

	in.debounceTimers[path] = time.AfterFunc(debounce, func() {
		in.debounceMu.Lock()
		delete(in.debounceTimers, path)
		in.debounceMu.Unlock()

		in.importFile(path)
	})
}

func (in *Inbox) importFile(path string) {
	if in.ctx.Err() != nil || !in.claim(path) {
		return
	}
	defer in.release(path)
	log := in.log.With().Str("path", path).Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			in.fail(log, err, "failed to read recording")
		}
		return
	}
	if len(data) == 0 {
		// Still being created; a later Write event reschedules it.
		return
	}

	name := filepath.Base(path)
	key := storage.NewKey(time.Now(), name)
	if err := in.opts.Store.Save(in.ctx, key, data, audio.MIMETypeOr(name, "application/octet-stream")); err != nil {
		in.fail(log, err, "failed to store recording")
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Msg("failed to remove imported recording from inbox")
	}
	in.imported.Add(1)
	log = log.With().Str("key", key).Logger()

	if !in.AutoTranscribe() {
		metrics.InboxFilesTotal.WithLabelValues("stored").Inc()
		log.Info().Msg("recording imported")
		return
	}

	id, err := in.opts.Queue.Enqueue(transcribe.Job{
		Audio:   storage.Source(in.opts.Store, key),
		ModelID: in.opts.ModelID,
		Source:  "inbox",
	})
	if err != nil {
		in.fail(log, err, "failed to queue recording")
		return
	}
	in.queued.Add(1)
	metrics.InboxFilesTotal.WithLabelValues("queued").Inc()
	log.Info().Str("job_id", id).Msg("recording queued for transcription")
}

func (in *Inbox) claim(path string) bool {
	in.inflightMu.Lock()
	defer in.inflightMu.Unlock()
	if in.inflight[path] {
		return false
	}
	in.inflight[path] = true
	return true
}

func (in *Inbox) release(path string) {
	in.inflightMu.Lock()
	delete(in.inflight, path)
	in.inflightMu.Unlock()
}

func (in *Inbox) fail(log zerolog.Logger, err error, msg string) {
	in.failed.Add(1)
	metrics.InboxFilesTotal.WithLabelValues("error").Inc()
	log.Warn().Err(err).Msg(msg)
}

// backfill imports recordings that arrived while the service was down,
// oldest first.
func (in *Inbox) backfill() {
	defer in.wg.Done()
	in.status.Store("backfilling")

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	_ = filepath.WalkDir(in.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isRecording(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	if len(files) > 0 {
		in.log.Info().Int("files", len(files)).Msg("backfill starting")
	}
	for _, f := range files {
		if in.ctx.Err() != nil {
			return
		}
		in.importFile(f.path)
	}
	in.status.CompareAndSwap("backfilling", "watching")
}

// isRecording reports whether path names an audio file. Hidden and partial
// files are ignored.
func isRecording(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	_, err := audio.MIMEType(name)
	return err == nil
}
