// Package profile defines the capability profile value type: the isolation
// requirements attached to a sandboxed call, its canonical textual form,
// and its fingerprint — the sole key used to partition the worker pool.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/oriys/capsule/internal/sandboxerr"
)

// Access is a filesystem mount's permission class.
type Access string

const (
	AccessRead      Access = "r"
	AccessWrite     Access = "w"
	AccessReadWrite Access = "rw"
)

func (a Access) rank() int {
	switch a {
	case AccessRead:
		return 0
	case AccessWrite:
		return 1
	case AccessReadWrite:
		return 2
	default:
		return 3
	}
}

// Mount is a single filesystem capability grant.
type Mount struct {
	Path   string
	Access Access
}

// NetPolicy is the network capability granted to a sandboxed call.
type NetPolicy string

const (
	NetNone       NetPolicy = "none"
	NetHTTPSOnly  NetPolicy = "https-only"
	NetAll        NetPolicy = "all"
)

func (n NetPolicy) valid() bool {
	switch n {
	case NetNone, NetHTTPSOnly, NetAll:
		return true
	}
	return false
}

// Profile is the immutable, hashable description of a sandboxed call's
// isolation guarantees and resource limits. Zero value is never valid;
// build one with FromOptions.
type Profile struct {
	Mounts       []Mount
	Net          NetPolicy
	CPUMillis    int
	MemMB        int
	Dependencies []string
}

// ParseMount accepts "none" (empty mount, not a NONE-access mount) or
// "<r|w|rw>:/path". Anything else is a BadProfile error.
func ParseMount(spec string) ([]Mount, error) {
	if spec == "" || spec == "none" {
		return nil, nil
	}
	idx := strings.IndexByte(spec, ':')
	if idx < 0 {
		return nil, sandboxerr.New(sandboxerr.KindBadProfile, fmt.Sprintf("malformed mount spec %q", spec))
	}
	access := Access(spec[:idx])
	path := spec[idx+1:]
	switch access {
	case AccessRead, AccessWrite, AccessReadWrite:
	default:
		return nil, sandboxerr.New(sandboxerr.KindBadProfile, fmt.Sprintf("unknown mount access %q", spec[:idx]))
	}
	if path == "" {
		return nil, sandboxerr.New(sandboxerr.KindBadProfile, fmt.Sprintf("empty mount path in %q", spec))
	}
	return []Mount{{Path: path, Access: access}}, nil
}

// Options mirrors the decorator-style call-site surface described in the
// external interfaces: fs may be a single spec or a list of specs.
type Options struct {
	FS           []string
	Net          string
	CPUMillis    int
	MemMB        int
	Dependencies []string
}

const (
	DefaultCPUMillis = 1000
	DefaultMemMB     = 128
)

// FromOptions normalizes and validates call-site options into a Profile,
// sorting mounts and dependencies so the canonical form is deterministic
// regardless of declaration order.
func FromOptions(opts Options) (Profile, error) {
	p := Profile{
		CPUMillis: opts.CPUMillis,
		MemMB:     opts.MemMB,
	}
	if p.CPUMillis == 0 {
		p.CPUMillis = DefaultCPUMillis
	}
	if p.MemMB == 0 {
		p.MemMB = DefaultMemMB
	}
	if p.CPUMillis <= 0 {
		return Profile{}, sandboxerr.New(sandboxerr.KindBadProfile, "cpu_ms must be positive")
	}
	if p.MemMB <= 0 {
		return Profile{}, sandboxerr.New(sandboxerr.KindBadProfile, "mem_mb must be positive")
	}

	net := NetPolicy(opts.Net)
	if net == "" {
		net = NetNone
	}
	if !net.valid() {
		return Profile{}, sandboxerr.New(sandboxerr.KindBadProfile, fmt.Sprintf("unknown net policy %q", opts.Net))
	}
	p.Net = net

	for _, spec := range opts.FS {
		mounts, err := ParseMount(spec)
		if err != nil {
			return Profile{}, err
		}
		p.Mounts = append(p.Mounts, mounts...)
	}
	sort.Slice(p.Mounts, func(i, j int) bool {
		if p.Mounts[i].Access.rank() != p.Mounts[j].Access.rank() {
			return p.Mounts[i].Access.rank() < p.Mounts[j].Access.rank()
		}
		return p.Mounts[i].Path < p.Mounts[j].Path
	})

	deps := dedupeSorted(opts.Dependencies)
	p.Dependencies = deps

	return p, nil
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Canonical renders the profile's canonical textual form: fields joined in
// fixed order cpu_ms;deps;fs;mem_mb;net, with an explicit "none" sentinel
// for empty sequences.
func (p Profile) Canonical() string {
	deps := "none"
	if len(p.Dependencies) > 0 {
		deps = strings.Join(p.Dependencies, ",")
	}
	fs := "none"
	if len(p.Mounts) > 0 {
		parts := make([]string, len(p.Mounts))
		for i, m := range p.Mounts {
			parts[i] = string(m.Access) + ":" + m.Path
		}
		fs = strings.Join(parts, ",")
	}
	return strings.Join([]string{
		"cpu_ms=" + strconv.Itoa(p.CPUMillis),
		"deps=" + deps,
		"fs=" + fs,
		"mem_mb=" + strconv.Itoa(p.MemMB),
		"net=" + string(p.Net),
	}, ";")
}

// Fingerprint is the first 16 hex characters of the SHA-256 digest of the
// canonical form's UTF-8 bytes. It is the sole key used for pool
// partitioning: two profiles differing in any isolation-relevant field
// must fingerprint differently.
func (p Profile) Fingerprint() string {
	sum := sha256.Sum256([]byte(p.Canonical()))
	return hex.EncodeToString(sum[:])[:16]
}
