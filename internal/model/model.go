// Package model holds the data types shared by every engine component:
// package identity, clone specs, build parameters, requests, and the
// descriptors persisted by the install database.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// PackageName is an opaque, non-empty string identifying a package.
type PackageName string

// ConfigName is a build-configuration label such as "Debug" or "Release".
// The empty string denotes a single-config ("NoConfig") build.
type ConfigName string

// NormalizeConfigName maps the literal token "NoConfig" (any case) to the
// empty label, per spec.
func NormalizeConfigName(c string) ConfigName {
	if strings.EqualFold(c, "NoConfig") {
		return ""
	}
	return ConfigName(c)
}

// String renders a config name for logging and file paths, substituting
// "NoConfig" for the empty label.
func (c ConfigName) String() string {
	if c == "" {
		return "NoConfig"
	}
	return string(c)
}

// ConfigSet is a non-empty set of ConfigNames.
type ConfigSet map[ConfigName]struct{}

// NewConfigSet builds a ConfigSet from a list of (possibly unnormalized)
// config labels.
func NewConfigSet(names ...string) ConfigSet {
	cs := ConfigSet{}
	for _, n := range names {
		cs[NormalizeConfigName(n)] = struct{}{}
	}
	return cs
}

// Sorted returns the set's members in a stable order.
func (cs ConfigSet) Sorted() []ConfigName {
	out := make([]ConfigName, 0, len(cs))
	for c := range cs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether two config sets have the same members.
func (cs ConfigSet) Equal(other ConfigSet) bool {
	if len(cs) != len(other) {
		return false
	}
	for c := range cs {
		if _, ok := other[c]; !ok {
			return false
		}
	}
	return true
}

// Subset reports whether cs is a subset of other.
func (cs ConfigSet) Subset(other ConfigSet) bool {
	for c := range cs {
		if _, ok := other[c]; !ok {
			return false
		}
	}
	return true
}

// Union returns a new set containing the members of both sets.
func (cs ConfigSet) Union(other ConfigSet) ConfigSet {
	out := ConfigSet{}
	for c := range cs {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// CloneSpec names a repository and the revision to mirror from it.
// Revision may be empty ("don't care"), a branch, a tag, or a SHA.
type CloneSpec struct {
	RepoURL  string `json:"repo_url"`
	Revision string `json:"revision"`
}

// IsSHAShaped reports whether revision looks like a hex commit SHA (the
// form the install DB always persists, per invariant 5).
func IsSHAShaped(revision string) bool {
	if len(revision) < 7 {
		return false
	}
	for _, r := range revision {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// BuildArg is one normalized build-tool argument, as produced by the
// argument normalizer (C1).
type BuildArg struct {
	Switch string `json:"switch"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Value  string `json:"value"`
}

// Key identifies the argument for shadowing purposes: later occurrences of
// the same (switch, name) replace earlier ones.
func (a BuildArg) Key() string {
	return a.Switch + ":" + a.Name
}

// BuildArgs is an ordered, normalized list of build-tool arguments.
type BuildArgs []BuildArg

// Fingerprint returns a stable digest of the argument list. The cache
// tracker builds its tentative fingerprint from it;
// InstalledConfigDescriptor.Hash does not use it.
func (a BuildArgs) Fingerprint() string {
	h := sha256.New()
	for _, arg := range a {
		h.Write([]byte(arg.Switch))
		h.Write([]byte{0})
		h.Write([]byte(arg.Name))
		h.Write([]byte{0})
		h.Write([]byte(arg.Type))
		h.Write([]byte{0})
		h.Write([]byte(arg.Value))
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BuildParams is the build-related portion of a package request.
type BuildParams struct {
	Subdirectory string    `json:"subdirectory,omitempty"`
	BuildArgs    BuildArgs `json:"build_args"`
	Configs      ConfigSet `json:"-"`
}

// PackageRequest is one request to resolve a package, either from the
// command line or from a dependency script.
type PackageRequest struct {
	Name             PackageName         `json:"name"`
	Clone            CloneSpec           `json:"clone"`
	Build            BuildParams         `json:"build"`
	Depends          map[PackageName]struct{} `json:"-"`
	RevisionOverride bool                `json:"revision_override"`
	ShallowClone     bool                `json:"shallow_clone"`
	NameOnly         bool                `json:"name_only"`
	DefineOnly       bool                `json:"define_only"`
	// DependsFromScript records that Depends came from a dependency script
	// (the top-level one or a cloned package's own), which makes it
	// authoritative for merge purposes (see merger rule on 'depends').
	DependsFromScript bool `json:"-"`
}

// DependsSorted returns the request's dependency names in a stable order.
func (r PackageRequest) DependsSorted() []PackageName {
	out := make([]PackageName, 0, len(r.Depends))
	for d := range r.Depends {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InstalledConfigDescriptor is the record the install DB persists for one
// (package, config) after a successful install.
type InstalledConfigDescriptor struct {
	Package               PackageName                          `json:"package"`
	Config                ConfigName                            `json:"config"`
	Clone                 CloneSpec                             `json:"clone"` // Revision is always a resolved SHA.
	Subdirectory          string                                `json:"subdirectory,omitempty"`
	FinalBuildArgs        BuildArgs                             `json:"final_build_args"`
	DependencyFingerprints map[PackageName]map[ConfigName]string `json:"dependency_fingerprints"`
	// HijackModules lists the find-module shims (e.g. "Foo" for a
	// FindFoo.cmake) the install step wrote, recorded so a later run that
	// finds this descriptor still satisfied can re-emit them without
	// re-running install. Not part of Hash: it's a derived artifact list,
	// not an identity field whose change should force a rebuild.
	HijackModules []string `json:"hijack_modules,omitempty"`
}

// Hash is a stable digest of every descriptor field except HijackModules,
// used to detect upstream changes (spec.md's "Fingerprint").
func (d InstalledConfigDescriptor) Hash() string {
	// A canonical JSON encoding with sorted map keys gives a stable digest
	// without hand-rolling a second serialization format.
	type canonical struct {
		Package      PackageName `json:"package"`
		Config       ConfigName  `json:"config"`
		Clone        CloneSpec   `json:"clone"`
		Subdirectory string      `json:"subdirectory"`
		Args         BuildArgs   `json:"args"`
		Deps         []depFingerprint `json:"deps"`
	}
	var deps []depFingerprint
	for pkg, cfgs := range d.DependencyFingerprints {
		for cfg, fp := range cfgs {
			deps = append(deps, depFingerprint{Package: pkg, Config: cfg, Fingerprint: fp})
		}
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Package != deps[j].Package {
			return deps[i].Package < deps[j].Package
		}
		return deps[i].Config < deps[j].Config
	})
	c := canonical{
		Package:      d.Package,
		Config:       d.Config,
		Clone:        d.Clone,
		Subdirectory: d.Subdirectory,
		Args:         d.FinalBuildArgs,
		Deps:         deps,
	}
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type depFingerprint struct {
	Package     PackageName `json:"package"`
	Config      ConfigName  `json:"config"`
	Fingerprint string      `json:"fingerprint"`
}

// InstalledPackage is every installed config descriptor for one package.
type InstalledPackage map[ConfigName]InstalledConfigDescriptor

// UpdatePolicy controls how the resolver reacts to an already-cloned working
// tree that differs from the requested revision.
type UpdatePolicy string

const (
	UpdateOff          UpdatePolicy = "off"
	UpdateIfClean      UpdatePolicy = "if_clean"
	UpdateIfVeryClean  UpdatePolicy = "if_very_clean"
	UpdateAllClean     UpdatePolicy = "all_clean"
	UpdateAllVeryClean UpdatePolicy = "all_very_clean"
	UpdateForce        UpdatePolicy = "force"
)

// AllowsBranchSwitch reports whether the policy permits updating a clean
// clone that is not at the requested revision: the resolver fetches and
// fast-forwards; only a policy that also TakesForceAction resets hard when
// no fast-forward is possible.
func (p UpdatePolicy) AllowsBranchSwitch() bool {
	switch p {
	case UpdateAllClean, UpdateAllVeryClean, UpdateForce:
		return true
	default:
		return false
	}
}

// TakesForceAction reports whether the policy resets hard over local
// changes or non-fast-forwardable history.
func (p UpdatePolicy) TakesForceAction() bool {
	return p == UpdateForce
}

// ToleratesLocalChanges reports whether the policy resets a working tree
// with uncommitted changes hard to the requested revision. When it is
// false the resolver leaves such a tree alone.
func (p UpdatePolicy) ToleratesLocalChanges() bool {
	switch p {
	case UpdateIfClean, UpdateIfVeryClean, UpdateAllClean, UpdateAllVeryClean:
		return false
	case UpdateForce:
		return true
	default:
		return false
	}
}

// EngineConfig carries every run-wide, immutable setting. No engine
// component consults process-global state; everything flows through here.
type EngineConfig struct {
	SourceDir               string
	BinaryDir               string
	Configs                 []ConfigName
	BuildArgs               BuildArgs
	DepsScript              string
	UpdatePolicy            UpdatePolicy
	ForceBuild              bool
	ClearDownloadedIncludes bool
	SingleBuildDir          bool
	DepsSourceDir           string
	DepsBuildDir            string
	DepsInstallDir          string
	ContainerBuilds         bool
	Verbose                 bool
}
