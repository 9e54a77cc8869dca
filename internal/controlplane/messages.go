package controlplane

// ProfileSpec is the wire form of a capability profile: the same fields
// profile.Options accepts, so a remote caller declares isolation
// requirements the same way an in-process stub call does.
type ProfileSpec struct {
	FS           []string `json:"fs,omitempty"`
	Net          string   `json:"net,omitempty"`
	CPUMillis    int      `json:"cpu_millis,omitempty"`
	MemMB        int      `json:"mem_mb,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// InvokeRequest asks the control plane to run one function call inside a
// VM matching Profile, creating or reusing a pool keyed on its fingerprint.
type InvokeRequest struct {
	FunctionRef string         `json:"function_ref"`
	Profile     ProfileSpec    `json:"profile"`
	Args        []any          `json:"args,omitempty"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
}

// InvokeResponse carries either a successful result or an error taxonomy
// tag distinguishing a sandbox fault from a plain remote exception.
type InvokeResponse struct {
	Success      bool   `json:"success"`
	Result       any    `json:"result,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StatsRequest asks for the current size of the pool behind one profile
// fingerprint.
type StatsRequest struct {
	ProfileKey string `json:"profile_key"`
}

// StatsResponse reports pool occupancy. Found is false if no pool has been
// created for ProfileKey yet.
type StatsResponse struct {
	All       int  `json:"all"`
	Available int  `json:"available"`
	InUse     int  `json:"in_use"`
	Found     bool `json:"found"`
}

// ShutdownRequest tears down every pool and the hypervisor driver. It
// carries no fields; it is a distinct named type so every method has its
// own request type.
type ShutdownRequest struct{}

// ShutdownResponse is returned once every pool has drained and the driver
// has closed.
type ShutdownResponse struct{}
