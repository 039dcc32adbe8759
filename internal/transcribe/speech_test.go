package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snarg/meetscribe/internal/audio"
	"github.com/snarg/meetscribe/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func speechReq(t *testing.T, id string) AdapterRequest {
	t.Helper()
	m, err := registry.Default(registry.Options{WhisperServer: true}).Find(id)
	require.NoError(t, err)
	return AdapterRequest{
		Model:      m,
		Audio:      audio.NewBytes("meeting.m4a", []byte("fake-audio")),
		Credential: "secret",
	}
}

func fastPoll() PollConfig { return PollConfig{Interval: time.Millisecond, MaxAttempts: 5} }

func TestSpeechAdapter_UnknownProvider(t *testing.T) {
	s := NewSpeechAdapter(map[string]Adapter{"groq": AdapterFunc(func(context.Context, AdapterRequest, PhaseFunc) (*Raw, error) {
		return &Raw{Text: "ok"}, nil
	})})

	_, err := s.Transcribe(context.Background(), speechReq(t, "deepgram-nova"), nopPhase)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	raw, err := s.Transcribe(context.Background(), speechReq(t, "groq-whisper-v3"), nopPhase)
	require.NoError(t, err)
	assert.Equal(t, "ok", raw.Text)
	assert.Equal(t, []string{"groq"}, s.Providers())
}

func TestOpenAICompat_VerboseJSON(t *testing.T) {
	var gotAuth, gotModel, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/v1/audio/transcriptions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" hello there ","language":"english","duration":4.5,
			"segments":[{"start":2,"end":4.5,"text":"there","avg_logprob":-0.1},
			            {"start":0,"end":2.5,"text":" hello","avg_logprob":-0.2}]}`)
	}))
	defer srv.Close()

	c := NewOpenAICompatClient("groq", srv.URL+"/openai/v1", nil)
	raw, err := c.Transcribe(context.Background(), speechReq(t, "groq-whisper-v3"), nopPhase)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "whisper-large-v3", gotModel)
	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, "hello there", raw.Text)
	assert.Equal(t, 4.5, raw.Duration)
	require.Len(t, raw.Segments, 2)
	assert.Equal(t, "hello", raw.Segments[0].Text)
	assert.Equal(t, 2.0, raw.Segments[0].End, "overlap clipped to next start")
	require.NotNil(t, raw.Segments[0].Confidence)
	assert.InDelta(t, 0.8187, *raw.Segments[0].Confidence, 0.001)
	assert.NoError(t, ValidateSegments(raw.Segments))
}

func TestOpenAICompat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAICompatClient("openai", srv.URL+"/v1/", nil)
	_, err := c.Transcribe(context.Background(), speechReq(t, "openai-whisper"), nopPhase)
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindBackendError, e.Kind)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, "openai", e.Provider)
}

func TestWhisperServer_FormFields(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		_, fh, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "meeting.m4a", fh.Filename)
		io.WriteString(w, `{"text":"hi","segments":[{"start":0,"end":1,"text":"hi"}]}`)
	}))
	defer srv.Close()

	off := false
	c := NewWhisperServerClient(srv.URL, 5*time.Second, WhisperTuning{BeamSize: 3, ConditionOnPreviousText: &off, VadFilter: true})
	req := speechReq(t, "whisper-server")
	req.Credential = ""
	req.Options = Options{Language: "de", Prompt: "Q3 roadmap"}
	raw, err := c.Transcribe(context.Background(), req, nopPhase)
	require.NoError(t, err)

	assert.Equal(t, "hi", raw.Text)
	assert.Equal(t, "de", form["language"])
	assert.Equal(t, "Q3 roadmap", form["prompt"])
	assert.Equal(t, "3", form["beam_size"])
	assert.Equal(t, "false", form["condition_on_previous_text"])
	assert.Equal(t, "true", form["vad_filter"])
	assert.Equal(t, "segment", form["timestamp_granularities[]"])
	_, hasPenalty := form["repetition_penalty"]
	assert.False(t, hasPenalty, "zero tuning fields are omitted")
}

func TestAssemblyAI_UploadSubmitPoll(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "fake-audio", string(b))
		io.WriteString(w, `{"upload_url":"https://cdn/xyz"}`)
	})
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn/xyz", body["audio_url"])
		assert.Equal(t, true, body["speaker_labels"])
		io.WriteString(w, `{"id":"t1","status":"queued"}`)
	})
	mux.HandleFunc("GET /v2/transcript/t1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			io.WriteString(w, `{"id":"t1","status":"processing"}`)
			return
		}
		io.WriteString(w, `{"id":"t1","status":"completed","text":"Hello team. Let's start.",
			"language_code":"en","audio_duration":3,
			"words":[{"text":"Hello","start":0,"end":400,"confidence":0.9},
			         {"text":"team.","start":400,"end":800,"confidence":0.8},
			         {"text":"Let's","start":1000,"end":1300,"confidence":0.95},
			         {"text":"start.","start":1300,"end":1700,"confidence":0.95}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var progress []int
	c := NewAssemblyAIClient(srv.URL, srv.Client(), fastPoll())
	raw, err := c.Transcribe(context.Background(), speechReq(t, "assemblyai"), func(_ Phase, p int, _ string) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, "en", raw.Language)
	require.Len(t, raw.Segments, 2)
	assert.Equal(t, "Hello team.", raw.Segments[0].Text)
	assert.Equal(t, 0.8, raw.Segments[0].End)
	assert.Equal(t, "Let's start.", raw.Segments[1].Text)
	assert.Equal(t, 1.0, raw.Segments[1].Start)
	assert.IsNonDecreasing(t, progress)
}

func TestAssemblyAI_NeverTerminalTimesOut(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"upload_url":"u"}`)
	})
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"t2","status":"queued"}`)
	})
	mux.HandleFunc("GET /v2/transcript/t2", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		io.WriteString(w, `{"id":"t2","status":"processing"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewAssemblyAIClient(srv.URL, srv.Client(), fastPoll())
	_, err := c.Transcribe(context.Background(), speechReq(t, "assemblyai"), nopPhase)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Equal(t, int32(5), polls.Load())
}

func TestAssemblyAI_JobError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/upload", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"upload_url":"u"}`)
	})
	mux.HandleFunc("POST /v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"t3","status":"queued"}`)
	})
	mux.HandleFunc("GET /v2/transcript/t3", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"t3","status":"error","error":"audio too short"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewAssemblyAIClient(srv.URL, srv.Client(), fastPoll())
	_, err := c.Transcribe(context.Background(), speechReq(t, "assemblyai"), nopPhase)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "audio too short")
}

func TestReplicate_Prediction(t *testing.T) {
	var srvURL string
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		var body struct {
			Version string         `json:"version"`
			Input   map[string]any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, ReplicateWhisperVersion, body.Version)
		assert.True(t, strings.HasPrefix(body.Input["audio"].(string), "data:audio/mp4;base64,"))
		fmt.Fprintf(w, `{"id":"p1","status":"starting","urls":{"get":"%s/v1/predictions/p1"}}`, srvURL)
	})
	mux.HandleFunc("GET /v1/predictions/p1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			io.WriteString(w, `{"id":"p1","status":"processing"}`)
			return
		}
		io.WriteString(w, `{"id":"p1","status":"succeeded","output":{"transcription":"one two",
			"detected_language":"en","segments":[{"start":0,"end":1,"text":"one"},{"start":1,"end":2,"text":"two"}]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := NewReplicateClient(srv.URL, "", srv.Client(), fastPoll())
	raw, err := c.Transcribe(context.Background(), speechReq(t, "replicate-whisper"), nopPhase)
	require.NoError(t, err)
	assert.Equal(t, "one two", raw.Text)
	assert.Len(t, raw.Segments, 2)
	assert.Nil(t, raw.Segments[0].Confidence)
}

func TestReplicate_Failed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"p2","status":"starting"}`)
	})
	mux.HandleFunc("GET /v1/predictions/p2", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"p2","status":"failed","error":"OOM"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewReplicateClient(srv.URL, "", srv.Client(), fastPoll())
	_, err := c.Transcribe(context.Background(), speechReq(t, "replicate-whisper"), nopPhase)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "OOM")
}

func TestDeepgram_Paragraphs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "true", r.URL.Query().Get("paragraphs"))
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"metadata":{"duration":6},"results":{"channels":[{"detected_language":"en",
			"alternatives":[{"transcript":"Welcome. Agenda first.",
			"paragraphs":{"paragraphs":[{"speaker":0,"sentences":[
				{"text":"Welcome.","start":0.1,"end":0.9},{"text":"Agenda first.","start":1.2,"end":2.4}]}]}}]}]}}`)
	}))
	defer srv.Close()

	c := NewDeepgramClient(srv.URL, 5*time.Second)
	raw, err := c.Transcribe(context.Background(), speechReq(t, "deepgram-nova"), nopPhase)
	require.NoError(t, err)
	assert.Equal(t, "Welcome. Agenda first.", raw.Text)
	assert.Equal(t, 6.0, raw.Duration)
	require.Len(t, raw.Segments, 2)
	assert.Equal(t, "Agenda first.", raw.Segments[1].Text)
}

func TestDeepgram_EmptyChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":{"channels":[]}}`)
	}))
	defer srv.Close()

	c := NewDeepgramClient(srv.URL, 5*time.Second)
	_, err := c.Transcribe(context.Background(), speechReq(t, "deepgram-nova"), nopPhase)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestHuggingFace_Chunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/whisper-large-v3", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"text":"a b","chunks":[{"timestamp":[0,1.5],"text":"a"},{"timestamp":[1.5,null],"text":"b"}]}`)
	}))
	defer srv.Close()

	c := NewHuggingFaceClient(srv.URL, 5*time.Second)
	raw, err := c.Transcribe(context.Background(), speechReq(t, "huggingface-whisper"), nopPhase)
	require.NoError(t, err)
	require.Len(t, raw.Segments, 2)
	assert.Equal(t, 1.5, raw.Segments[1].Start)
	assert.Equal(t, 1.5, raw.Segments[1].End)
}

func TestHuggingFace_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"Model is loading"}`)
	}))
	defer srv.Close()

	c := NewHuggingFaceClient(srv.URL, 5*time.Second)
	_, err := c.Transcribe(context.Background(), speechReq(t, "huggingface-whisper"), nopPhase)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.Contains(t, e.Body, "Model is loading")
}

func TestDeepInfra_WordsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/whisper-large-v3-turbo", r.URL.Path)
		_, _, err := r.FormFile("audio")
		require.NoError(t, err)
		io.WriteString(w, `{"text":"Yes. No.","words":[{"text":"Yes","start":0,"end":0.4},{"text":"No","start":0.6,"end":1}]}`)
	}))
	defer srv.Close()

	c := NewDeepInfraClient(srv.URL, 5*time.Second)
	raw, err := c.Transcribe(context.Background(), speechReq(t, "deepinfra-whisper"), nopPhase)
	require.NoError(t, err)
	require.Len(t, raw.Segments, 2)
	assert.Equal(t, "Yes.", raw.Segments[0].Text)
	assert.Equal(t, "No.", raw.Segments[1].Text)
}

func TestElevenLabs_DiarizedWords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech-to-text", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "scribe_v1", r.FormValue("model_id"))
		assert.JSONEq(t, `[{"text":"Acme"},{"text":"OKR"}]`, r.FormValue("keyterms"))
		io.WriteString(w, `{"language_code":"en","text":"hi there hello","words":[
			{"text":"hi","type":"word","start":0,"end":0.2,"speaker_id":"s0"},
			{"text":" ","type":"spacing","start":0.2,"end":0.3},
			{"text":"there","type":"word","start":0.3,"end":0.6,"speaker_id":"s0"},
			{"text":"hello","type":"word","start":0.8,"end":1.2,"speaker_id":"s1"}]}`)
	}))
	defer srv.Close()

	c := NewElevenLabsClient(srv.URL, "Acme, OKR,", 5*time.Second)
	raw, err := c.Transcribe(context.Background(), speechReq(t, "elevenlabs-scribe"), nopPhase)
	require.NoError(t, err)
	require.Len(t, raw.Segments, 2)
	assert.Equal(t, "hi there", raw.Segments[0].Text)
	assert.Equal(t, "hello", raw.Segments[1].Text)
}
