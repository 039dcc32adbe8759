// Package registry holds the static catalog of transcription models.
package registry

import (
	"errors"
	"fmt"
)

// Family selects which adapter handles a model.
type Family string

const (
	FamilyMultimodalLLM Family = "multimodal-llm"
	FamilySpeechAPI     Family = "speech-api"
	FamilyOnDevice      Family = "on-device-inference"
	FamilyDeviceNative  Family = "device-native"
)

// Families lists every known family in dispatch order.
var Families = []Family{FamilyMultimodalLLM, FamilySpeechAPI, FamilyOnDevice, FamilyDeviceNative}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	for _, k := range Families {
		if f == k {
			return true
		}
	}
	return false
}

// ErrNotFound is returned by Find for ids absent from the registry.
var ErrNotFound = errors.New("model not found")

// Capabilities is informational metadata. The router does not enforce it.
type Capabilities struct {
	MaxFileSizeMB  int      `json:"max_file_size_mb,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	Speed          string   `json:"speed,omitempty"` // "fast", "medium", "slow"
	Cost           string   `json:"cost,omitempty"`  // "free", "low", "medium", "high"
	PricePerMinute float64  `json:"price_per_minute,omitempty"`
	FreeQuota      string   `json:"free_quota,omitempty"`
	Timestamps     bool     `json:"timestamps"`
}

// Model is one registry entry. Entries are immutable once the registry is built.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Family      Family `json:"family"`

	// Provider names the backend within a family ("openai", "groq", "assemblyai").
	Provider string `json:"provider"`
	// BackendModel is the vendor-side identifier sent on the wire, or the
	// local asset file name for on-device models.
	BackendModel string `json:"backend_model,omitempty"`
	// CredentialGroup overrides the credential key; empty means the model id.
	CredentialGroup string `json:"credential_group,omitempty"`

	RequiresCredential bool         `json:"requires_credential"`
	Available          bool         `json:"available"`
	Capabilities       Capabilities `json:"capabilities"`
}

// Registry is a read-only, ordered model catalog.
type Registry struct {
	models []Model
	byID   map[string]int
}

// New builds a registry from models in the given order.
// Duplicate ids and unknown families are rejected.
func New(models ...Model) (*Registry, error) {
	r := &Registry{
		models: make([]Model, 0, len(models)),
		byID:   make(map[string]int, len(models)),
	}
	for _, m := range models {
		if m.ID == "" {
			return nil, errors.New("registry: model with empty id")
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model id %q", m.ID)
		}
		if !m.Family.Valid() {
			return nil, fmt.Errorf("registry: model %q has unknown family %q", m.ID, m.Family)
		}
		r.byID[m.ID] = len(r.models)
		r.models = append(r.models, m)
	}
	return r, nil
}

// MustNew is New for static catalogs; it panics on an invalid catalog.
func MustNew(models ...Model) *Registry {
	r, err := New(models...)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns all models in registration order. The slice is a copy.
func (r *Registry) List() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Find looks up a model by id. Unknown ids wrap ErrNotFound.
func (r *Registry) Find(id string) (Model, error) {
	i, ok := r.byID[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r.models[i], nil
}

// Families returns the distinct families present, in catalog order.
func (r *Registry) Families() []Family {
	seen := make(map[Family]bool)
	var out []Family
	for _, m := range r.models {
		if !seen[m.Family] {
			seen[m.Family] = true
			out = append(out, m.Family)
		}
	}
	return out
}

// Groups returns the credential group override table (model id -> group)
// for every model that declares one.
func (r *Registry) Groups() map[string]string {
	out := make(map[string]string)
	for _, m := range r.models {
		if m.CredentialGroup != "" {
			out[m.ID] = m.CredentialGroup
		}
	}
	return out
}
