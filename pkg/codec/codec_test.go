package codec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/frkl/viva/pkg/engine"
)

func itemGen() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[a-z][a-z0-9_.-]{0,10}(>=[0-9]\.[0-9]+)?`),
		rapid.SampledFrom([]string{"yes", "null", "~", "1.0", "on", "- x", "a: b", "#tag"}),
	)
}

func appSpecGen() *rapid.Generator[engine.AppSpec] {
	return rapid.Custom(func(t *rapid.T) engine.AppSpec {
		return engine.AppSpec{
			Executable: itemGen().Draw(t, "executable"),
			Args:       rapid.SliceOfN(itemGen(), 0, 4).Draw(t, "args"),
			EnvSpec: engine.EnvironmentSpec{
				Channels: rapid.SliceOfN(itemGen(), 0, 3).Draw(t, "channels"),
				PkgSpecs: rapid.SliceOfN(itemGen(), 0, 4).Draw(t, "pkg_specs"),
			},
		}
	})
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				spec := appSpecGen().Draw(rt, "spec")

				data, err := Encode(format, spec)
				if err != nil {
					rt.Fatalf("encode: %v", err)
				}
				decoded, err := Decode[engine.AppSpec](format, data)
				if err != nil {
					rt.Fatalf("decode: %v\n%s", err, data)
				}
				if !decoded.Equal(spec) {
					rt.Fatalf("round trip mismatch: %+v != %+v\n%s", decoded, spec, data)
				}
			})
		})
	}
}

func TestDecodeAuto(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format Format
	}{
		{"json", `{"channels": ["conda-forge"], "pkg_specs": ["numpy"]}`, FormatJSON},
		{"json with comments", "{\n  // channels\n  \"channels\": [\"conda-forge\"],\n  \"pkg_specs\": [\"numpy\",],\n}", FormatJSON},
		{"yaml", "channels:\n  - conda-forge\npkg_specs:\n  - numpy\n", FormatYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, format, err := DecodeAuto[engine.EnvironmentSpec]([]byte(tt.input))
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if format != tt.format {
				t.Errorf("Expected format %q, got %q", tt.format, format)
			}
			want := engine.EnvironmentSpec{Channels: []string{"conda-forge"}, PkgSpecs: []string{"numpy"}}
			if !spec.Equal(want) {
				t.Errorf("Expected %+v, got %+v", want, spec)
			}
		})
	}
}

func TestDecodeAuto_BothFail(t *testing.T) {
	_, _, err := DecodeAuto[engine.EnvironmentSpec]([]byte("channels: [unterminated"))
	if !engine.IsParseError(err) {
		t.Fatalf("Expected parse error, got: %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "json:") || !strings.Contains(msg, "yaml:") {
		t.Errorf("Expected both causes in %q", msg)
	}
}

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"envs.json", FormatJSON, false},
		{"envs.YAML", FormatYAML, false},
		{"envs/x.yml", FormatYAML, false},
		{"envs/x", FormatAuto, false},
		{"envs/x.toml", FormatAuto, true},
	}

	for _, tt := range tests {
		got, err := FormatForPath(tt.path)
		if tt.wantErr {
			if !engine.IsUnsupportedFormat(err) {
				t.Errorf("FormatForPath(%q): expected unsupported format, got %v", tt.path, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("FormatForPath(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
		}
	}
}

func TestWriteFileReadFile(t *testing.T) {
	dir := t.TempDir()
	spec := engine.EnvironmentSpec{Channels: []string{"conda-forge"}, PkgSpecs: []string{"python>=3.10"}}

	for _, name := range []string{"a.json", "b.yaml", "nested/c.yml"} {
		path := filepath.Join(dir, name)
		if err := WriteFile(path, spec); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		got, err := ReadFile[engine.EnvironmentSpec](path)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
		if !got.Equal(spec) {
			t.Errorf("%s: expected %+v, got %+v", name, spec, got)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}
}

func TestReadFile_ParseErrorNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadFile[engine.EnvironmentSpec](path)
	if !engine.IsParseError(err) {
		t.Fatalf("Expected parse error, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("Expected error to name %s, got %q", path, err.Error())
	}
}

func TestWriteFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.toml")
	if err := WriteFile(path, engine.EnvironmentSpec{}); !engine.IsUnsupportedFormat(err) {
		t.Fatalf("Expected unsupported format, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected nothing to be written")
	}
}
