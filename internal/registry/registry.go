package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"deepguard/internal/apperr"
)

const (
	FakeImageDetection = "bcmi/fake-image-detection"
	DeepfakeDetection  = "wzhouwzhou/deepfake-detection"
	// HiveAIGenerated is not builtin; it is enabled through a catalog file.
	HiveAIGenerated = "hive/ai_generated_detection"
)

// Protocol selects how a model is called.
type Protocol string

const (
	// ProtocolPrediction submits a job and polls it until it is terminal.
	ProtocolPrediction Protocol = "prediction"
	// ProtocolSyncTask answers the verdict in the submit response.
	ProtocolSyncTask Protocol = "sync_task"
)

// Descriptor names a model. Version is the pinned model version for
// prediction models and the model key for sync-task models.
type Descriptor struct {
	ID       string   `yaml:"id" json:"id"`
	Version  string   `yaml:"version" json:"version"`
	Protocol Protocol `yaml:"protocol,omitempty" json:"protocol"`
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	order     []string
	byID      map[string]Descriptor
	defaultID string
}

func New(descriptors []Descriptor, defaultID string) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, errors.New("registry: no models configured")
	}
	r := &Registry{byID: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		d.ID = strings.TrimSpace(d.ID)
		d.Version = strings.TrimSpace(d.Version)
		if d.ID == "" {
			return nil, errors.New("registry: model id is empty")
		}
		if d.Version == "" {
			return nil, fmt.Errorf("registry: model %s has no version", d.ID)
		}
		switch d.Protocol {
		case "":
			d.Protocol = ProtocolPrediction
		case ProtocolPrediction, ProtocolSyncTask:
		default:
			return nil, fmt.Errorf("registry: model %s has unknown protocol %q", d.ID, d.Protocol)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model %s", d.ID)
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	defaultID = strings.TrimSpace(defaultID)
	if defaultID == "" {
		defaultID = r.order[0]
	}
	if _, ok := r.byID[defaultID]; !ok {
		return nil, fmt.Errorf("registry: default model %s is not registered", defaultID)
	}
	r.defaultID = defaultID
	return r, nil
}

func Builtin() *Registry {
	r, err := New([]Descriptor{
		{ID: FakeImageDetection, Version: "9b9c0080071a648fdf41d3bb5242579f3975889265f4d36af5628c8c60a1f347"},
		{ID: DeepfakeDetection, Version: "b471be898a2a6b4a67635a252743ac194d56aaaf14e5c21456818f6c9a351c93"},
	}, FakeImageDetection)
	if err != nil {
		panic(err)
	}
	return r
}

type catalog struct {
	Default string       `yaml:"default"`
	Models  []Descriptor `yaml:"models"`
}

// Load reads a YAML model catalog. An empty path yields the builtin catalog.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return New(c.Models, c.Default)
}

// Resolve maps id to its descriptor; an empty id resolves to the default model.
func (r *Registry) Resolve(id string) (Descriptor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = r.defaultID
	}
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, apperr.UnknownProvider("registry.resolve", id, r.order)
	}
	return d, nil
}

func (r *Registry) DefaultID() string { return r.defaultID }

func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
