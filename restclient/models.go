package restclient

// KernelModel is the `{id, name}` shape returned by every kernel REST
// endpoint in spec §6.
type KernelModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// KernelSpec describes one installable kernel type.
type KernelSpec struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	Language    string                 `json:"language"`
	Argv        []string               `json:"argv"`
	Env         map[string]string      `json:"env,omitempty"`
	Resources   map[string]interface{} `json:"resources,omitempty"`
}

// SpecsBundle is `{default, kernelspecs: name -> KernelSpec}`. The spec
// requires `default` to name a key of `kernelspecs`; Validate checks that.
type SpecsBundle struct {
	Default     string                `json:"default"`
	KernelSpecs map[string]KernelSpec `json:"kernelspecs"`
}

// Validate reports whether Default names an entry in KernelSpecs.
func (b SpecsBundle) Validate() error {
	if b.Default == "" {
		return nil
	}
	if _, ok := b.KernelSpecs[b.Default]; !ok {
		return &malformedDefaultSpecError{Default: b.Default}
	}
	return nil
}

type malformedDefaultSpecError struct{ Default string }

func (e *malformedDefaultSpecError) Error() string {
	return "restclient: default kernelspec " + e.Default + " not present in kernelspecs bundle"
}

// SessionKernel is the nested `{id, name}` of a SessionModel.
type SessionKernel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SessionModel is `{id, path, name, type, kernel}`.
type SessionModel struct {
	ID     string        `json:"id"`
	Path   string        `json:"path"`
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Kernel SessionKernel `json:"kernel"`
}

// CreateSessionRequest is the POST /api/sessions body.
type CreateSessionRequest struct {
	Path   string         `json:"path"`
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type,omitempty"`
	Kernel *SessionKernel `json:"kernel,omitempty"`
}

// PatchSessionRequest is a partial SessionModel; any zero-value field is
// omitted so a PATCH of one field does not clobber the others server-side.
type PatchSessionRequest struct {
	Path   string         `json:"path,omitempty"`
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type,omitempty"`
	Kernel *SessionKernel `json:"kernel,omitempty"`
}
