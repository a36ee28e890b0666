package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/multierr"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !reflect.DeepEqual(cfg.Assets.SearchPaths, []string{"."}) {
		t.Errorf("expected search paths [.], got %v", cfg.Assets.SearchPaths)
	}
	if len(cfg.Assets.Archives) != 0 {
		t.Errorf("expected no archives, got %v", cfg.Assets.Archives)
	}
	if cfg.Assets.MaxSharedModelMB != 16 {
		t.Errorf("expected shared model cap 16, got %d", cfg.Assets.MaxSharedModelMB)
	}

	if cfg.Cache.ModelSlots != 16 || cfg.Cache.BoneEntries != 512 {
		t.Errorf("expected cache 16x512, got %dx%d", cfg.Cache.ModelSlots, cfg.Cache.BoneEntries)
	}

	if cfg.IK.LatchLifetime != 0.1 {
		t.Errorf("expected latch lifetime 0.1, got %f", cfg.IK.LatchLifetime)
	}
	if cfg.IK.MaxLayerDepth != 8 {
		t.Errorf("expected layer depth 8, got %d", cfg.IK.MaxLayerDepth)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.File != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.File)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, FileName)

	yamlContent := `
assets:
  search_paths: ["/games/hl2/hl2", "/games/hl2/episodic"]
  archives: ["/games/hl2/hl2/hl2_misc_dir.vpk"]
  max_shared_model_mb: 32

cache:
  model_slots: 4

ik:
  latch_lifetime: 0.25

logging:
  level: "debug"
  file: "mdltool.log"
  compress: false
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !reflect.DeepEqual(cfg.Assets.SearchPaths, []string{"/games/hl2/hl2", "/games/hl2/episodic"}) {
		t.Errorf("unexpected search paths %v", cfg.Assets.SearchPaths)
	}
	if len(cfg.Assets.Archives) != 1 {
		t.Errorf("expected one archive, got %v", cfg.Assets.Archives)
	}
	if cfg.Assets.MaxSharedModelMB != 32 {
		t.Errorf("expected shared model cap 32, got %d", cfg.Assets.MaxSharedModelMB)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Cache.ModelSlots != 4 || cfg.Cache.BoneEntries != 512 {
		t.Errorf("expected cache 4x512, got %dx%d", cfg.Cache.ModelSlots, cfg.Cache.BoneEntries)
	}
	if cfg.IK.LatchLifetime != 0.25 || cfg.IK.MaxLayerDepth != 8 {
		t.Errorf("unexpected ik config %+v", cfg.IK)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.File != "mdltool.log" || cfg.Logging.Compress {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "cache:\n  model_slots: not a number\n  invalid syntax here\n"},
		{"unknown key", "cache:\n  model_slotz: 4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "invalid.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}
			if err := loadFromFile(Default(), configPath); err == nil {
				t.Error("expected error loading invalid YAML, got nil")
			}
		})
	}
}

func TestLoadFromFileEmpty(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(configPath, nil, 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("empty file: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("empty file changed the config: %+v", cfg)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if err := loadFromFile(Default(), "/nonexistent/path/studiobones.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Cache.ModelSlots = 0
	cfg.IK.LatchLifetime = -1
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate error = %v, want ErrInvalid", err)
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("got %d errors, want 3: %v", n, err)
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, FileName)
	if err := os.WriteFile(configPath, []byte("cache:\n  model_slots: 8\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Error("expected to find the config in the current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "search flag",
			setup: func() { *flagSearch = "/a, /b,," },
			verify: func(cfg *Config) {
				want := []string{"/a", "/b", "."}
				if !reflect.DeepEqual(cfg.Assets.SearchPaths, want) {
					t.Errorf("expected search paths %v, got %v", want, cfg.Assets.SearchPaths)
				}
			},
			teardown: func() { *flagSearch = "" },
		},
		{
			name:  "vpk flag",
			setup: func() { *flagVPK = "pak01_dir.vpk" },
			verify: func(cfg *Config) {
				if !reflect.DeepEqual(cfg.Assets.Archives, []string{"pak01_dir.vpk"}) {
					t.Errorf("unexpected archives %v", cfg.Assets.Archives)
				}
			},
			teardown: func() { *flagVPK = "" },
		},
		{
			name:  "log file flag",
			setup: func() { *flagLogFile = "out.log" },
			verify: func(cfg *Config) {
				if cfg.Logging.File != "out.log" {
					t.Errorf("expected log file out.log, got %s", cfg.Logging.File)
				}
			},
			teardown: func() { *flagLogFile = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)
			tt.verify(cfg)
		})
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	cfg := Default()
	cfg.Assets.Archives = []string{"pak01_dir.vpk"}
	cfg.IK.MaxLayerDepth = 4
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("reloading saved config: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("reloaded config = %+v, want %+v", loaded, cfg)
	}
}

func TestLoad(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	if err := os.WriteFile(FileName, []byte("ik:\n  max_layer_depth: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	*flagDebug = true
	defer func() { *flagDebug = false }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.IK.MaxLayerDepth != 3 || cfg.Logging.Level != "debug" {
		t.Errorf("Load = %+v, want file and flag values applied", cfg)
	}

	if err := os.WriteFile(FileName, []byte("cache:\n  bone_entries: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load error = %v, want ErrInvalid", err)
	}
}
