package registry

import "fmt"

// GroupGemini is the credential group shared by every Gemini model variant.
const GroupGemini = "gemini"

// Options toggles catalog entries whose availability depends on deployment.
type Options struct {
	// WhisperServer marks the self-hosted whisper-server entry available.
	WhisperServer bool
	// WhisperServerModel is the model name sent to the whisper server.
	WhisperServerModel string
	// OnDevice marks the local whisper.cpp models available.
	OnDevice bool
}

var multiLang = []string{"50+ languages"}

// Default returns the built-in catalog.
func Default(opts Options) *Registry {
	models := []Model{
		gemini("gemini-2.0-flash", "Gemini 2.0 Flash", "gemini-2.0-flash",
			"Native audio support, 1M token context"),
		gemini("gemini-2.5-flash", "Gemini 2.5 Flash", "gemini-2.5-flash",
			"Best price/performance ratio, multimodal input"),
		gemini("gemini-2.5-pro", "Gemini 2.5 Pro", "gemini-2.5-pro",
			"Highest quality Gemini transcription"),
		gemini("gemini-2.5-flash-exp", "Gemini 2.5 Flash (experimental)", "gemini-2.0-flash-exp",
			"Experimental flash model"),
		gemini("gemini-live-2.5-flash-preview", "Gemini Live 2.5 Flash (preview)", "gemini-2.0-flash-exp",
			"Preview of the live model, served by the experimental flash backend"),

		{
			ID: "groq-distil-whisper", DisplayName: "Groq Distil-Whisper",
			Description: "Fastest transcription, English only",
			Family:      FamilySpeechAPI, Provider: "groq", BackendModel: "distil-whisper-large-v3-en", CredentialGroup: "groq",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 25, Languages: []string{"en"}, Speed: "fast", Cost: "low",
				PricePerMinute: 0.02 / 60, FreeQuota: "25MB free tier", Timestamps: true},
		},
		{
			ID: "groq-whisper-v3-turbo", DisplayName: "Groq Whisper v3 Turbo",
			Description: "Speed and accuracy balance",
			Family:      FamilySpeechAPI, Provider: "groq", BackendModel: "whisper-large-v3-turbo", CredentialGroup: "groq",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 25, Languages: multiLang, Speed: "fast", Cost: "low",
				PricePerMinute: 0.04 / 60, FreeQuota: "25MB free tier", Timestamps: true},
		},
		{
			ID: "groq-whisper-v3", DisplayName: "Groq Whisper v3 Large",
			Description: "Most accurate Groq model",
			Family:      FamilySpeechAPI, Provider: "groq", BackendModel: "whisper-large-v3", CredentialGroup: "groq",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 25, Languages: multiLang, Speed: "fast", Cost: "low",
				PricePerMinute: 0.111 / 60, FreeQuota: "25MB free tier", Timestamps: true},
		},
		{
			ID: "together-whisper-v3", DisplayName: "Together Whisper v3",
			Description: "Hosted Whisper large v3",
			Family:      FamilySpeechAPI, Provider: "together", BackendModel: "openai/whisper-large-v3",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{Languages: multiLang, Speed: "fast", Cost: "low",
				FreeQuota: "$25 free credits on signup", Timestamps: true},
		},
		{
			ID: "openai-whisper", DisplayName: "OpenAI Whisper",
			Description: "Original Whisper API",
			Family:      FamilySpeechAPI, Provider: "openai", BackendModel: "whisper-1",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 25, Languages: []string{"98 languages"}, Speed: "medium",
				Cost: "medium", PricePerMinute: 0.006, Timestamps: true},
		},
		{
			ID: "huggingface-whisper", DisplayName: "HF Whisper Large v3",
			Description: "Hugging Face inference API",
			Family:      FamilySpeechAPI, Provider: "huggingface", BackendModel: "openai/whisper-large-v3",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 10, Languages: multiLang, Speed: "medium", Cost: "free",
				FreeQuota: "Rate limited free tier", Timestamps: true},
		},
		{
			ID: "assemblyai", DisplayName: "AssemblyAI",
			Description: "Asynchronous transcription with speaker detection",
			Family:      FamilySpeechAPI, Provider: "assemblyai", BackendModel: "best",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 5 * 1024, Speed: "medium", Cost: "low",
				PricePerMinute: 0.015, FreeQuota: "5 hours free/month", Timestamps: true},
		},
		{
			ID: "deepgram-nova", DisplayName: "Deepgram Nova",
			Description: "Nova-2 prerecorded transcription",
			Family:      FamilySpeechAPI, Provider: "deepgram", BackendModel: "nova-2",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{MaxFileSizeMB: 2 * 1024, Languages: []string{"36+ languages"}, Speed: "fast",
				Cost: "low", PricePerMinute: 0.0043, FreeQuota: "$200 free credits", Timestamps: true},
		},
		{
			ID: "replicate-whisper", DisplayName: "Replicate Whisper",
			Description: "Whisper large v3 on Replicate",
			Family:      FamilySpeechAPI, Provider: "replicate", BackendModel: "openai/whisper",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{Languages: multiLang, Speed: "slow", Cost: "low", Timestamps: true},
		},
		{
			ID: "deepinfra-whisper", DisplayName: "DeepInfra Whisper v3 Turbo",
			Description: "DeepInfra native inference API",
			Family:      FamilySpeechAPI, Provider: "deepinfra", BackendModel: "openai/whisper-large-v3-turbo",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{Languages: multiLang, Speed: "fast", Cost: "low", Timestamps: true},
		},
		{
			ID: "elevenlabs-scribe", DisplayName: "ElevenLabs Scribe",
			Description: "ElevenLabs speech-to-text",
			Family:      FamilySpeechAPI, Provider: "elevenlabs", BackendModel: "scribe_v1",
			RequiresCredential: true, Available: true,
			Capabilities: Capabilities{Languages: multiLang, Speed: "fast", Cost: "medium", Timestamps: true},
		},
		{
			ID: "revai", DisplayName: "Rev AI",
			Description: "Not yet supported",
			Family:      FamilySpeechAPI, Provider: "revai",
			RequiresCredential: true, Available: false,
			Capabilities: Capabilities{MaxFileSizeMB: 2 * 1024, Languages: []string{"36 languages"},
				PricePerMinute: 0.02, FreeQuota: "5 hours free"},
		},
		{
			ID: "whisper-server", DisplayName: "Self-hosted Whisper",
			Description: "OpenAI-compatible whisper server on the local network",
			Family:      FamilySpeechAPI, Provider: "whisper-server", BackendModel: opts.WhisperServerModel,
			Available:    opts.WhisperServer,
			Capabilities: Capabilities{Cost: "free", Timestamps: true},
		},

		ondevice("whisper-tiny", "Whisper Tiny", "ggml-tiny.bin", 75, "fast", opts.OnDevice),
		ondevice("whisper-base", "Whisper Base", "ggml-base.bin", 142, "fast", opts.OnDevice),
		ondevice("whisper-base-q5", "Whisper Base (q5_1)", "ggml-base-q5_1.bin", 57, "fast", opts.OnDevice),
		ondevice("whisper-small", "Whisper Small", "ggml-small.bin", 466, "medium", opts.OnDevice),
		ondevice("whisper-small-q5", "Whisper Small (q5_1)", "ggml-small-q5_1.bin", 181, "medium", opts.OnDevice),
		ondevice("whisper-medium", "Whisper Medium", "ggml-medium.bin", 1500, "slow", opts.OnDevice),

		{
			ID: "device-speech", DisplayName: "Device speech recognition",
			Description: "Platform speech recognizer, live microphone input only",
			Family:      FamilyDeviceNative, Provider: "device",
			// File input must reach the adapter to be refused as unsupported.
			Available:    true,
			Capabilities: Capabilities{Cost: "free"},
		},
	}
	return MustNew(models...)
}

func gemini(id, name, backend, desc string) Model {
	return Model{
		ID:                 id,
		DisplayName:        name,
		Description:        desc,
		Family:             FamilyMultimodalLLM,
		Provider:           "gemini",
		BackendModel:       backend,
		CredentialGroup:    GroupGemini,
		RequiresCredential: true,
		Available:          true,
		Capabilities: Capabilities{
			MaxFileSizeMB: 20,
			Languages:     multiLang,
			Speed:         "fast",
			Cost:          "low",
			FreeQuota:     "Free tier via Google AI Studio",
		},
	}
}

func ondevice(id, name, asset string, sizeMB int, speed string, available bool) Model {
	return Model{
		ID:           id,
		DisplayName:  name,
		Description:  fmt.Sprintf("Runs locally with whisper.cpp (%d MB model)", sizeMB),
		Family:       FamilyOnDevice,
		Provider:     "whisper.cpp",
		BackendModel: asset,
		Available:    available,
		Capabilities: Capabilities{
			Languages:  multiLang,
			Speed:      speed,
			Cost:       "free",
			Timestamps: true,
		},
	}
}
