package installdb

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/cmakex/cmakex-go/internal/model"
)

func TestEvaluateNotInstalled(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := New(fs, "/install")

	evals, err := db.Evaluate("zlib", "", map[model.ConfigName]model.BuildArgs{"Release": nil}, nil)
	if err != nil {
		t.Fatalf("Evaluate(...): unexpected error: %v", err)
	}
	if evals["Release"].Status != StatusNotInstalled {
		t.Errorf("Evaluate(...): got status %v, want %v", evals["Release"].Status, StatusNotInstalled)
	}
}

func TestRecordThenEvaluateSatisfied(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := New(fs, "/install")

	desc := model.InstalledConfigDescriptor{
		Package:        "zlib",
		Config:         "Release",
		Clone:          model.CloneSpec{RepoURL: "https://example.com/zlib", Revision: "abc1234"},
		FinalBuildArgs: model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
	}
	if err := db.Record(desc); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	evals, err := db.Evaluate("zlib", "", map[model.ConfigName]model.BuildArgs{
		"Release": {{Switch: "-D", Name: "FOO", Value: "1"}},
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate(...): unexpected error: %v", err)
	}
	if evals["Release"].Status != StatusSatisfied {
		t.Errorf("Evaluate(...): got status %v, want %v", evals["Release"].Status, StatusSatisfied)
	}
}

func TestRecordThenEvaluateDifferent(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := New(fs, "/install")

	desc := model.InstalledConfigDescriptor{
		Package:        "zlib",
		Config:         "Release",
		FinalBuildArgs: model.BuildArgs{{Switch: "-D", Name: "FOO", Value: "1"}},
	}
	if err := db.Record(desc); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	evals, err := db.Evaluate("zlib", "", map[model.ConfigName]model.BuildArgs{
		"Release": {{Switch: "-D", Name: "FOO", Value: "2"}},
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate(...): unexpected error: %v", err)
	}
	if evals["Release"].Status != StatusDifferent {
		t.Errorf("Evaluate(...): got status %v, want %v", evals["Release"].Status, StatusDifferent)
	}
}

func TestEvaluateCosmeticOnlyDiffIsDifferentButSatisfied(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := New(fs, "/install")

	desc := model.InstalledConfigDescriptor{
		Package: "zlib",
		Config:  "Release",
		FinalBuildArgs: model.BuildArgs{
			{Switch: "-D", Name: "CMAKE_INSTALL_PREFIX", Value: "/old/prefix"},
		},
	}
	if err := db.Record(desc); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	evals, err := db.Evaluate("zlib", "", map[model.ConfigName]model.BuildArgs{
		"Release": {{Switch: "-D", Name: "CMAKE_INSTALL_PREFIX", Value: "/new/prefix"}},
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate(...): unexpected error: %v", err)
	}
	if evals["Release"].Status != StatusDifferentButSatisfied {
		t.Errorf("Evaluate(...): got status %v, want %v", evals["Release"].Status, StatusDifferentButSatisfied)
	}
}

func TestEvaluateMissingDependencyIsDifferent(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := New(fs, "/install")

	desc := model.InstalledConfigDescriptor{Package: "zlib", Config: "Release"}
	if err := db.Record(desc); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	requestedDeps := map[model.PackageName]struct{}{"libpng": {}}
	evals, err := db.Evaluate("zlib", "", map[model.ConfigName]model.BuildArgs{"Release": nil}, requestedDeps)
	if err != nil {
		t.Fatalf("Evaluate(...): unexpected error: %v", err)
	}
	if evals["Release"].Status != StatusDifferent {
		t.Errorf("Evaluate(...): a newly-requested dependency not in the recorded fingerprints should force StatusDifferent, got %v", evals["Release"].Status)
	}
}

func TestQuickCheckOnPrefixPathsRejectsAmbiguity(t *testing.T) {
	fs := afero.NewMemMapFs()
	db1 := New(fs, "/prefix1")
	db2 := New(fs, "/prefix2")
	desc := model.InstalledConfigDescriptor{Package: "zlib", Config: "Release"}
	if err := db1.Record(desc); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}
	if err := db2.Record(desc); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	_, _, err := QuickCheckOnPrefixPaths(fs, "zlib", []string{"/prefix1", "/prefix2"})
	if err == nil {
		t.Fatal("QuickCheckOnPrefixPaths(...): expected an error when a package is found on more than one prefix path")
	}
}

func TestQuickCheckOnPrefixPathsFindsSinglePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	db := New(fs, "/prefix1")
	if err := db.Record(model.InstalledConfigDescriptor{Package: "zlib", Config: "Release"}); err != nil {
		t.Fatalf("Record(...): unexpected error: %v", err)
	}

	path, configs, err := QuickCheckOnPrefixPaths(fs, "zlib", []string{"/prefix1", "/prefix2"})
	if err != nil {
		t.Fatalf("QuickCheckOnPrefixPaths(...): unexpected error: %v", err)
	}
	if path != "/prefix1" {
		t.Errorf("QuickCheckOnPrefixPaths(...): got path %q, want %q", path, "/prefix1")
	}
	if len(configs) != 1 || configs[0] != "Release" {
		t.Errorf("QuickCheckOnPrefixPaths(...): got configs %v, want [Release]", configs)
	}
}
