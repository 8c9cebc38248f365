package layout

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/cmakex/cmakex-go/internal/model"
)

func TestNewDefaultsSubdirs(t *testing.T) {
	p := New(model.EngineConfig{BinaryDir: "/build"})
	if p.DepsSourceDir != "/build/_deps" {
		t.Errorf("DepsSourceDir: got %q, want %q", p.DepsSourceDir, "/build/_deps")
	}
	if p.DepsBuildDir != "/build/_deps-build" {
		t.Errorf("DepsBuildDir: got %q, want %q", p.DepsBuildDir, "/build/_deps-build")
	}
	if p.DepsInstallDir != "/build/_deps-install" {
		t.Errorf("DepsInstallDir: got %q, want %q", p.DepsInstallDir, "/build/_deps-install")
	}
}

func TestNewHonorsOverrides(t *testing.T) {
	p := New(model.EngineConfig{BinaryDir: "/build", DepsSourceDir: "/custom/src"})
	if p.DepsSourceDir != "/custom/src" {
		t.Errorf("DepsSourceDir override not honored: got %q", p.DepsSourceDir)
	}
}

func TestBuildDirSingleVsPerConfig(t *testing.T) {
	single := New(model.EngineConfig{BinaryDir: "/build", SingleBuildDir: true})
	if got := single.BuildDir("zlib", "Release"); got != "/build/_deps-build/zlib" {
		t.Errorf("BuildDir (single): got %q", got)
	}

	perConfig := New(model.EngineConfig{BinaryDir: "/build"})
	if got := perConfig.BuildDir("zlib", "Release"); got != "/build/_deps-build/zlib/Release" {
		t.Errorf("BuildDir (per-config): got %q", got)
	}
}

func TestCacheFactsRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := New(model.EngineConfig{BinaryDir: "/build"})

	_, found, err := LoadCacheFacts(fs, p)
	if err != nil {
		t.Fatalf("LoadCacheFacts(...): unexpected error: %v", err)
	}
	if found {
		t.Fatal("LoadCacheFacts(...): should report not found before any run in this binary dir")
	}

	want := CacheFacts{GeneratorKind: "Ninja", PerConfigBinDirs: true, HomeDir: "/home/user"}
	if err := SaveCacheFacts(fs, p, want); err != nil {
		t.Fatalf("SaveCacheFacts(...): unexpected error: %v", err)
	}

	got, found, err := LoadCacheFacts(fs, p)
	if err != nil {
		t.Fatalf("LoadCacheFacts(...): unexpected error: %v", err)
	}
	if !found || got != want {
		t.Errorf("LoadCacheFacts(...): got (%+v, %v), want (%+v, true)", got, found, want)
	}
}

func TestEnsureConsistentBinDirsPolicy(t *testing.T) {
	cases := map[string]struct {
		reason         string
		existing       CacheFacts
		found          bool
		singleBuildDir bool
		wantErr        bool
	}{
		"FirstRunNeverErrors": {
			reason: "with no prior facts file there's nothing to be inconsistent with",
			found:  false,
		},
		"SamePolicyOK": {
			reason:   "a run requesting the same per-config-bin-dirs policy as before is fine",
			existing: CacheFacts{PerConfigBinDirs: true},
			found:    true,
		},
		"FlippedPolicyErrors": {
			reason:         "switching single_build_dir against an already-built binary dir is rejected",
			existing:       CacheFacts{PerConfigBinDirs: true},
			found:          true,
			singleBuildDir: true,
			wantErr:        true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := EnsureConsistentBinDirsPolicy(tc.existing, tc.found, tc.singleBuildDir)
			if tc.wantErr && err == nil {
				t.Fatalf("\n%s\nEnsureConsistentBinDirsPolicy(...): expected an error, got none", tc.reason)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("\n%s\nEnsureConsistentBinDirsPolicy(...): unexpected error: %v", tc.reason, err)
			}
		})
	}
}

func TestWriteHijackModule(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := New(model.EngineConfig{BinaryDir: "/build"})

	if err := WriteHijackModule(fs, p, "zlib", "ZLIB"); err != nil {
		t.Fatalf("WriteHijackModule(...): unexpected error: %v", err)
	}

	b, err := afero.ReadFile(fs, p.HijackModulePath("ZLIB"))
	if err != nil {
		t.Fatalf("reading the hijack module: unexpected error: %v", err)
	}
	if len(b) == 0 {
		t.Error("WriteHijackModule(...): wrote an empty file")
	}
}
