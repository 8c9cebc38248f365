package merger

import (
	"testing"

	"github.com/cmakex/cmakex-go/internal/engineerrors"
	"github.com/cmakex/cmakex-go/internal/model"
)

func pkg(name string) model.PackageRequest {
	return model.PackageRequest{Name: model.PackageName(name)}
}

func TestMergeRepoURL(t *testing.T) {
	cases := map[string]struct {
		reason         string
		existing, new  model.PackageRequest
		wantURL        string
		wantErrKind    engineerrors.Kind
		wantErr        bool
	}{
		"FillsFromNew": {
			reason:   "An unset repo URL on existing is filled in from new.",
			existing: pkg("zlib"),
			new:      model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{RepoURL: "https://example.com/zlib"}},
			wantURL:  "https://example.com/zlib",
		},
		"AgreesIsFine": {
			reason: "Two requests naming the same URL merge without conflict.",
			existing: model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{RepoURL: "https://example.com/zlib"}},
			new:      model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{RepoURL: "https://example.com/zlib"}},
			wantURL:  "https://example.com/zlib",
		},
		"ConflictingURLsError": {
			reason: "Two different non-empty URLs for the same package is a workspace conflict.",
			existing: model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{RepoURL: "https://a/zlib"}},
			new:      model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{RepoURL: "https://b/zlib"}},
			wantErr:  true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Merge(tc.existing, tc.new, false)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("\n%s\nMerge(...): expected an error, got none", tc.reason)
				}
				if k, ok := engineerrors.As(err); !ok || k != engineerrors.KindWorkspaceConflict {
					t.Errorf("\n%s\nMerge(...): expected KindWorkspaceConflict, got %v", tc.reason, k)
				}
				return
			}
			if err != nil {
				t.Fatalf("\n%s\nMerge(...): unexpected error: %v", tc.reason, err)
			}
			if got.Request.Clone.RepoURL != tc.wantURL {
				t.Errorf("\n%s\nMerge(...): got URL %q, want %q", tc.reason, got.Request.Clone.RepoURL, tc.wantURL)
			}
		})
	}
}

func TestMergeRevisionOverrideWins(t *testing.T) {
	existing := model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{Revision: "v1.2.3"}, RevisionOverride: true}
	new := model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{Revision: "v1.2.4"}}

	got, err := Merge(existing, new, false)
	if err != nil {
		t.Fatalf("Merge(...): unexpected error: %v", err)
	}
	if got.Request.Clone.Revision != "v1.2.3" {
		t.Errorf("Merge(...): an overriding revision should win silently, got %q", got.Request.Clone.Revision)
	}
}

func TestMergeConfigsAcceptedFromPrefixWinsWithWarning(t *testing.T) {
	existing := model.PackageRequest{Name: "zlib", Build: model.BuildParams{Configs: model.NewConfigSet("Release")}}
	new := model.PackageRequest{Name: "zlib", Build: model.BuildParams{Configs: model.NewConfigSet("Debug")}}

	got, err := Merge(existing, new, true)
	if err != nil {
		t.Fatalf("Merge(...): unexpected error: %v", err)
	}
	if !got.Request.Build.Configs.Equal(model.NewConfigSet("Release")) {
		t.Errorf("Merge(...): installed config set should win, got %v", got.Request.Build.Configs.Sorted())
	}
	if len(got.Warnings) != 1 {
		t.Errorf("Merge(...): expected exactly one warning, got %d", len(got.Warnings))
	}
}

func TestMergeConfigsConflictWithoutPrefix(t *testing.T) {
	existing := model.PackageRequest{Name: "zlib", Build: model.BuildParams{Configs: model.NewConfigSet("Release")}}
	new := model.PackageRequest{Name: "zlib", Build: model.BuildParams{Configs: model.NewConfigSet("Debug")}}

	_, err := Merge(existing, new, false)
	if err == nil {
		t.Fatal("Merge(...): expected a conflict error for disjoint config sets outside prefix acceptance")
	}
}

func TestMergeDependsScriptAuthoritative(t *testing.T) {
	existing := model.PackageRequest{
		Name:    "zlib",
		Depends: map[model.PackageName]struct{}{"a": {}},
	}
	new := model.PackageRequest{
		Name:              "zlib",
		Depends:           map[model.PackageName]struct{}{"b": {}},
		DependsFromScript: true,
	}
	got, err := Merge(existing, new, false)
	if err != nil {
		t.Fatalf("Merge(...): unexpected error: %v", err)
	}
	if _, ok := got.Request.Depends["b"]; !ok || len(got.Request.Depends) != 1 {
		t.Errorf("Merge(...): a dependency script's declared deps should be authoritative, got %v", got.Request.DependsSorted())
	}
}

func TestMergeCommutative(t *testing.T) {
	a := model.PackageRequest{Name: "zlib", Build: model.BuildParams{Configs: model.NewConfigSet("Release")}}
	b := model.PackageRequest{Name: "zlib", Clone: model.CloneSpec{RepoURL: "https://example.com/zlib"}}

	ab, ba, err := Commutative(a, b, false)
	if err != nil {
		t.Fatalf("Commutative(...): unexpected error: %v", err)
	}
	if ab.Request.Clone.RepoURL != ba.Request.Clone.RepoURL {
		t.Errorf("Commutative(...): repo URL differs between merge orders: %q vs %q", ab.Request.Clone.RepoURL, ba.Request.Clone.RepoURL)
	}
	if !ab.Request.Build.Configs.Equal(ba.Request.Build.Configs) {
		t.Errorf("Commutative(...): config set differs between merge orders: %v vs %v", ab.Request.Build.Configs.Sorted(), ba.Request.Build.Configs.Sorted())
	}
}
