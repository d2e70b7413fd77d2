package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ArtifactKind tells the pipeline how a flavor returns its result:
// a file written under the result root and shipped to the tenant as a
// multipart upload, or an inline payload carried in the result message
// and the callback query string.
type ArtifactKind string

const (
	ArtifactFile   ArtifactKind = "file"
	ArtifactInline ArtifactKind = "inline"
)

// Flavor describes one inference service variant. It is deliberately
// executor-agnostic: the registry knows input/output shapes and queue
// names, never how the model runs.
type Flavor struct {
	Name string
	// FileInputs is the exact number of uploaded files the flavor
	// consumes: 0 (params only), 1, or 2.
	FileInputs int
	// ParamsRequired marks flavors that cannot run without a params
	// JSON object (e.g. tts needs the text to synthesize).
	ParamsRequired bool
	Artifact       ArtifactKind
	// ArtifactExt is the artifact file extension including the dot,
	// e.g. ".wav". Only meaningful for ArtifactFile flavors.
	ArtifactExt string
	// MIMEPrefixes is the allowlist for uploaded inputs, matched
	// against the sniffed content type by prefix ("audio/",
	// "application/pdf"). Empty means any.
	MIMEPrefixes []string
	TaskQueue    string
	ResultQueue  string
}

// AcceptsMIME reports whether the sniffed content type is allowed for
// this flavor's uploads.
func (f Flavor) AcceptsMIME(mime string) bool {
	if len(f.MIMEPrefixes) == 0 {
		return true
	}
	mime = strings.ToLower(mime)
	for _, p := range f.MIMEPrefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

func (f Flavor) validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: flavor name required", ErrInvalidArgument)
	}
	if f.FileInputs < 0 || f.FileInputs > 2 {
		return fmt.Errorf("%w: flavor %s: file inputs must be 0..2", ErrInvalidArgument, f.Name)
	}
	switch f.Artifact {
	case ArtifactFile:
		if f.ArtifactExt == "" || !strings.HasPrefix(f.ArtifactExt, ".") {
			return fmt.Errorf("%w: flavor %s: file artifact needs an extension", ErrInvalidArgument, f.Name)
		}
	case ArtifactInline:
	default:
		return fmt.Errorf("%w: flavor %s: unknown artifact kind %q", ErrInvalidArgument, f.Name, f.Artifact)
	}
	return nil
}

// Registry holds the known flavors. It is built once at startup and
// read-only afterwards.
type Registry struct {
	flavors map[string]Flavor
}

// NewRegistry builds a registry from the given flavors, filling in
// default queue names (<name>_task_queue / <name>_result_queue).
func NewRegistry(flavors ...Flavor) (*Registry, error) {
	r := &Registry{flavors: make(map[string]Flavor, len(flavors))}
	for _, f := range flavors {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a flavor. Later registrations win, which is
// how the YAML overlay overrides built-ins.
func (r *Registry) Register(f Flavor) error {
	if err := f.validate(); err != nil {
		return err
	}
	if f.TaskQueue == "" {
		f.TaskQueue = f.Name + "_task_queue"
	}
	if f.ResultQueue == "" {
		f.ResultQueue = f.Name + "_result_queue"
	}
	r.flavors[f.Name] = f
	return nil
}

// Lookup returns the flavor by name.
func (r *Registry) Lookup(name string) (Flavor, error) {
	f, ok := r.flavors[name]
	if !ok {
		return Flavor{}, fmt.Errorf("%w: flavor %q", ErrNotFound, name)
	}
	return f, nil
}

// All returns the registered flavors sorted by name.
func (r *Registry) All() []Flavor {
	out := make([]Flavor, 0, len(r.flavors))
	for _, f := range r.flavors {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultFlavors are the built-in service variants. tts is the only
// file-artifact flavor; everything else returns inline payloads.
func DefaultFlavors() []Flavor {
	return []Flavor{
		{Name: "tts", FileInputs: 0, ParamsRequired: true, Artifact: ArtifactFile, ArtifactExt: ".wav"},
		{Name: "asr", FileInputs: 1, Artifact: ArtifactInline, MIMEPrefixes: []string{"audio/"}},
		{Name: "ocr", FileInputs: 1, Artifact: ArtifactInline, MIMEPrefixes: []string{"image/", "application/pdf"}},
		{Name: "pose", FileInputs: 1, Artifact: ArtifactInline, MIMEPrefixes: []string{"image/"}},
		{Name: "face", FileInputs: 2, Artifact: ArtifactInline, MIMEPrefixes: []string{"image/"}},
		{Name: "llm_generate", FileInputs: 0, ParamsRequired: true, Artifact: ArtifactInline},
		{Name: "llm_summarize", FileInputs: 1, Artifact: ArtifactInline, MIMEPrefixes: []string{"text/", "application/pdf"}},
		{Name: "llm_compare", FileInputs: 2, Artifact: ArtifactInline, MIMEPrefixes: []string{"text/", "application/pdf"}},
	}
}

// DefaultRegistry returns a registry preloaded with DefaultFlavors.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultFlavors()...)
	if err != nil {
		// Built-ins are static; a validation failure here is a bug.
		panic(err)
	}
	return r
}
